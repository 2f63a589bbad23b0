package ws

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pizarraia/promptboard/internal/db"
	"github.com/pizarraia/promptboard/internal/metrics"
	"github.com/pizarraia/promptboard/internal/protocol"
	"github.com/pizarraia/promptboard/internal/session"
)

const DefaultRotateInterval = 5 * time.Second

// Hub maintains the set of live connections grouped by session key and
// fans inbound events out to the right subset of peers. It also owns
// one rotation ticker per session while that session is in gallery
// mode, so rotation has a single writer instead of racing clients.
type Hub struct {
	store    *db.Database
	registry *session.Registry
	logger   zerolog.Logger

	rotateInterval time.Duration

	// Connections by session. Written by the Run loop, read by the
	// broadcast paths.
	sessions map[session.Key]map[*Client]bool
	mu       sync.RWMutex

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Rotation ticker stop channels, one per session in gallery mode
	rotators map[session.Key]chan struct{}
	rotMu    sync.Mutex
}

func NewHub(store *db.Database, registry *session.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		store:          store,
		registry:       registry,
		logger:         logger,
		rotateInterval: DefaultRotateInterval,
		sessions:       make(map[session.Key]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		rotators:       make(map[session.Key]chan struct{}),
	}
}

// SetRotateInterval overrides the gallery auto-rotation period. Call
// before Run.
func (h *Hub) SetRotateInterval(d time.Duration) {
	if d > 0 {
		h.rotateInterval = d
	}
}

func (h *Hub) Registry() *session.Registry {
	return h.registry
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.sessions[client.session]; !ok {
				h.sessions[client.session] = make(map[*Client]bool)
			}
			h.sessions[client.session][client] = true
			clientCount := len(h.sessions[client.session])
			h.mu.Unlock()

			metrics.ConnectionsActive.Inc()
			h.logger.Info().
				Str("session", string(client.session)).
				Int("clients", clientCount).
				Msg("client joined session")

			h.sendSessionState(client)

			// A session already in gallery mode keeps rotating for
			// late joiners.
			if h.registry.Get(client.session).InGallery() {
				h.startRotation(client.session)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.session]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					metrics.ConnectionsActive.Dec()

					if len(clients) == 0 {
						delete(h.sessions, client.session)
						h.logger.Info().
							Str("session", string(client.session)).
							Msg("session empty, connections closed")
					}
				}
			}
			empty := h.sessions[client.session] == nil
			h.mu.Unlock()

			// Session state survives, but an empty session has nobody
			// watching the gallery.
			if empty {
				h.stopRotation(client.session)
			}
		}
	}
}

// sendSessionState pushes the current gallery state and active prompt
// to a newly joined connection.
func (h *Hub) sendSessionState(c *Client) {
	sess := h.registry.Get(c.session)
	gallery := sess.Gallery()

	state := protocol.SessionState{
		GalleryActive: gallery.Active,
		PromptIndex:   gallery.Index,
	}
	if active, ok := sess.Active(); ok {
		state.Active = &protocol.Prompt{
			ID:        active.ID,
			Content:   active.Content,
			CreatedAt: active.CreatedAt,
			Session:   string(c.session),
		}
	}

	msg, err := protocol.Marshal(protocol.EventSessionState, state)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode session state")
		return
	}
	h.deliver(c, msg)
}

// HandleEvent processes one inbound message from a client. Runs on the
// client's reader goroutine; malformed input is logged and skipped,
// never fatal.
func (h *Hub) HandleEvent(c *Client, raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		h.logger.Debug().Err(err).Str("session", string(c.session)).Msg("dropping malformed event")
		return
	}

	metrics.EventsReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case protocol.EventTextUpdate:
		h.handleTextUpdate(c, env)
	case protocol.EventSelectPrompt:
		h.handleSelectPrompt(c, env)
	case protocol.EventGalleryMode:
		h.handleGalleryMode(c, env)
	case protocol.EventRotatePrompt:
		h.handleRotatePrompt(c, env)
	default:
		h.logger.Debug().
			Str("type", env.Type).
			Str("session", string(c.session)).
			Msg("unknown event type")
	}
}

func (h *Hub) handleTextUpdate(c *Client, env *protocol.Envelope) {
	var payload protocol.TextUpdate
	if err := protocol.Decode(env, &payload); err != nil {
		h.logger.Debug().Err(err).Msg("bad text-update payload")
		return
	}
	payload.Session = string(c.session)

	msg, err := protocol.Marshal(protocol.EventTextUpdate, payload)
	if err != nil {
		return
	}
	h.broadcastToSession(c.session, msg, c)
}

func (h *Hub) handleSelectPrompt(c *Client, env *protocol.Envelope) {
	var payload protocol.Prompt
	if err := protocol.Decode(env, &payload); err != nil {
		h.logger.Debug().Err(err).Msg("bad select-prompt payload")
		return
	}

	// Prefer the persisted record; fall back to whatever the client
	// sent if the id is unknown (or there is no store at all).
	if payload.ID != "" && h.store != nil {
		if stored, err := h.store.GetPrompt(payload.ID); err != nil {
			h.logger.Error().Err(err).Str("prompt", payload.ID).Msg("prompt lookup failed")
		} else if stored != nil {
			payload.Content = stored.Content
			payload.CreatedAt = stored.CreatedAt
		}
	}
	payload.Session = string(c.session)

	sess := h.registry.Get(c.session)
	sess.RecordActive(session.Prompt{
		ID:        payload.ID,
		Content:   payload.Content,
		CreatedAt: payload.CreatedAt,
	})

	// Relayed as load-prompt to the whole session, sender included, so
	// the selecting client converges on the same canonical state.
	msg, err := protocol.Marshal(protocol.EventLoadPrompt, payload)
	if err != nil {
		return
	}
	h.broadcastToSession(c.session, msg, nil)
}

func (h *Hub) handleGalleryMode(c *Client, env *protocol.Envelope) {
	var payload protocol.GalleryMode
	if err := protocol.Decode(env, &payload); err != nil {
		h.logger.Debug().Err(err).Msg("bad gallery-mode payload")
		return
	}

	index := payload.PromptIndex
	if payload.IsActive && h.store != nil {
		// Entering gallery mode with nothing saved is inert: no index
		// until a prompt exists.
		if count, err := h.store.CountPrompts(); err == nil && count == 0 {
			index = -1
		}
	}

	sess := h.registry.Get(c.session)
	gallery := sess.SetGallery(payload.IsActive, index)

	if gallery.Active {
		h.startRotation(c.session)
	} else {
		h.stopRotation(c.session)
	}

	payload.PromptIndex = gallery.Index
	payload.Session = string(c.session)

	h.logger.Info().
		Str("session", string(c.session)).
		Bool("active", gallery.Active).
		Int("index", gallery.Index).
		Msg("gallery mode changed")

	msg, err := protocol.Marshal(protocol.EventGalleryMode, payload)
	if err != nil {
		return
	}
	h.broadcastToSession(c.session, msg, c)
}

func (h *Hub) handleRotatePrompt(c *Client, env *protocol.Envelope) {
	var payload protocol.RotatePrompt
	if err := protocol.Decode(env, &payload); err != nil {
		h.logger.Debug().Err(err).Msg("bad rotate-prompt payload")
		return
	}

	sess := h.registry.Get(c.session)

	if payload.PromptID == "" && payload.Direction != "" {
		// Direction-only rotate: resolve the target server-side.
		resolved, ok := h.resolveRotation(sess, payload.Direction)
		if !ok {
			return
		}
		payload = *resolved
	} else {
		// Client-resolved rotate: last write wins.
		sess.SetIndex(payload.PromptIndex)
	}
	payload.Session = string(c.session)
	payload.Direction = ""

	sess.RecordActive(session.Prompt{
		ID:      payload.PromptID,
		Content: payload.PromptText,
	})

	msg, err := protocol.Marshal(protocol.EventRotatePrompt, payload)
	if err != nil {
		return
	}
	h.broadcastToSession(c.session, msg, c)
}

// resolveRotation advances the session index one step and loads the
// prompt at the new position. Rotating an empty store is a no-op.
func (h *Hub) resolveRotation(sess *session.Session, direction string) (*protocol.RotatePrompt, bool) {
	dir, ok := session.ParseDirection(direction)
	if !ok {
		return nil, false
	}
	if h.store == nil {
		return nil, false
	}

	count, err := h.store.CountPrompts()
	if err != nil {
		h.logger.Error().Err(err).Msg("prompt count failed")
		return nil, false
	}

	index, ok := sess.Rotate(dir, count)
	if !ok {
		return nil, false
	}

	p, err := h.store.PromptAt(index)
	if err != nil {
		h.logger.Error().Err(err).Int("index", index).Msg("prompt lookup failed")
		return nil, false
	}
	if p == nil {
		return nil, false
	}

	return &protocol.RotatePrompt{
		PromptIndex: index,
		PromptText:  p.Content,
		PromptID:    p.ID,
	}, true
}

// Rotation tickers

func (h *Hub) startRotation(key session.Key) {
	h.rotMu.Lock()
	defer h.rotMu.Unlock()

	if _, running := h.rotators[key]; running {
		return
	}
	stop := make(chan struct{})
	h.rotators[key] = stop
	go h.rotateLoop(key, stop)
}

func (h *Hub) stopRotation(key session.Key) {
	h.rotMu.Lock()
	defer h.rotMu.Unlock()

	if stop, running := h.rotators[key]; running {
		close(stop)
		delete(h.rotators, key)
	}
}

func (h *Hub) rotateLoop(key session.Key, stop chan struct{}) {
	ticker := time.NewTicker(h.rotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.advanceGallery(key)
		}
	}
}

// advanceGallery performs one server-driven rotation step and tells
// every connection in the session, since no client originated it.
func (h *Hub) advanceGallery(key session.Key) {
	sess := h.registry.Get(key)
	if !sess.InGallery() {
		return
	}

	payload, ok := h.resolveRotation(sess, "next")
	if !ok {
		return
	}
	payload.Session = string(key)

	sess.RecordActive(session.Prompt{
		ID:      payload.PromptID,
		Content: payload.PromptText,
	})

	msg, err := protocol.Marshal(protocol.EventRotatePrompt, payload)
	if err != nil {
		return
	}
	metrics.RotationTicks.Inc()
	h.broadcastToSession(key, msg, nil)
}

// Store change notifications, called by the REST layer after a
// successful mutation. The prompt list is global, so these go to every
// connection regardless of session.

func (h *Hub) NotifyPromptCreated(p *db.Prompt, sessionToken string) {
	key := session.KeyFrom(sessionToken)
	h.registry.Get(key).RecordActive(session.Prompt{
		ID:        p.ID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	})

	msg, err := protocol.Marshal(protocol.EventNewPrompt, protocol.Prompt{
		ID:        p.ID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return
	}
	h.broadcastAll(msg)
}

func (h *Hub) NotifyPromptUpdated(p *db.Prompt) {
	msg, err := protocol.Marshal(protocol.EventPromptUpdated, protocol.Prompt{
		ID:        p.ID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return
	}
	h.broadcastAll(msg)
}

func (h *Hub) NotifyPromptDeleted(id string) {
	msg, err := protocol.Marshal(protocol.EventPromptDeleted, protocol.PromptDeleted{ID: id})
	if err != nil {
		return
	}
	h.broadcastAll(msg)
}

// Delivery

func (h *Hub) broadcastToSession(key session.Key, data []byte, exclude *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.sessions[key] {
		if client == exclude {
			continue
		}
		h.deliver(client, data)
	}
}

func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.sessions {
		for client := range clients {
			h.deliver(client, data)
		}
	}
}

// deliver is best-effort, at-most-once: a connection with a full send
// buffer loses this message rather than stalling the fan-out.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		metrics.DeliveriesDropped.Inc()
		h.logger.Warn().
			Str("session", string(c.session)).
			Str("client", c.clientID).
			Msg("send buffer full, dropping message")
	}
}

// Stats accessors for the REST layer.

func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.sessions {
		count += len(clients)
	}
	return count
}

// GetActiveSessions returns the number of live connections per session.
func (h *Hub) GetActiveSessions() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.sessions))
	for key, clients := range h.sessions {
		active[string(key)] = len(clients)
	}
	return active
}
