package session

import (
	"sync"
	"time"
)

// Key partitions live events into logical rooms. It is supplied by the
// client and never validated; two connections share a session iff their
// keys compare equal.
type Key string

// DefaultKey is used when a client does not declare a session.
const DefaultKey Key = "1"

// KeyFrom normalizes a client-supplied session token.
func KeyFrom(raw string) Key {
	if raw == "" {
		return DefaultKey
	}
	return Key(raw)
}

// Direction of a gallery rotation step.
type Direction int

const (
	Next Direction = iota
	Prev
)

func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "next":
		return Next, true
	case "prev":
		return Prev, true
	}
	return Next, false
}

// Prompt is the denormalized value cached as a session's active prompt.
// It may describe a record that was never persisted (a transient
// rotation target) or one that has since been deleted.
type Prompt struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

// Gallery is the per-session display mode. Index is -1 while no prompt
// has been shown yet ("inert" gallery entered with an empty list).
type Gallery struct {
	Active bool
	Index  int
}

// Session holds the soft state for one logical room: gallery mode and
// the active prompt. Both are last-write-wins and lost on restart.
type Session struct {
	key Key

	mu        sync.Mutex
	gallery   Gallery
	active    Prompt
	hasActive bool
}

func newSession(key Key) *Session {
	return &Session{
		key:     key,
		gallery: Gallery{Active: false, Index: -1},
	}
}

func (s *Session) Key() Key { return s.key }

// SetGallery applies a gallery-mode event. A negative index is kept as
// -1 so an empty-list gallery stays inert until a prompt exists.
func (s *Session) SetGallery(active bool, index int) Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gallery.Active = active
	if index < 0 {
		index = -1
	}
	s.gallery.Index = index
	return s.gallery
}

// Gallery returns the current gallery state.
func (s *Session) Gallery() Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gallery
}

func (s *Session) InGallery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gallery.Active
}

// Rotate advances the gallery index one step in the given direction,
// wrapping around in both directions. With count == 0 it is a no-op
// that reports ok == false and leaves the mode flag untouched.
func (s *Session) Rotate(dir Direction, count int) (index int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count <= 0 {
		return s.gallery.Index, false
	}

	switch {
	case s.gallery.Index < 0 && dir == Next:
		index = 0
	case s.gallery.Index < 0 && dir == Prev:
		index = count - 1
	case dir == Next:
		index = (s.gallery.Index + 1) % count
	default:
		index = (s.gallery.Index - 1 + count) % count
	}

	s.gallery.Index = index
	return index, true
}

// SetIndex applies a client-resolved rotation index (last write wins).
func (s *Session) SetIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		index = -1
	}
	s.gallery.Index = index
}

// RecordActive caches the prompt currently in focus for this session.
// The cache is overwritten on every select, rotate, and create and is
// served even after the underlying record is deleted.
func (s *Session) RecordActive(p Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = p
	s.hasActive = true
}

// Active returns the last recorded prompt, or ok == false if nothing
// has been recorded since process start.
func (s *Session) Active() (Prompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.hasActive
}

// Registry maps session keys to their state. Each session carries its
// own lock so unrelated sessions never serialize on each other; the
// registry lock only guards the map itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[Key]*Session),
	}
}

// Get returns the session for key, creating it on first use.
func (r *Registry) Get(key Key) *Session {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s = newSession(key)
	r.sessions[key] = s
	return s
}

// Lookup returns the session for key without creating it.
func (r *Registry) Lookup(key Key) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
