package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried on the live channel. Client-originated events are
// relayed by the hub; new-prompt, prompt-updated and prompt-deleted are
// emitted by the server after store mutations.
const (
	EventTextUpdate    = "text-update"
	EventSelectPrompt  = "select-prompt"
	EventLoadPrompt    = "load-prompt"
	EventGalleryMode   = "gallery-mode"
	EventRotatePrompt  = "rotate-prompt"
	EventNewPrompt     = "new-prompt"
	EventPromptUpdated = "prompt-updated"
	EventPromptDeleted = "prompt-deleted"
	EventSessionState  = "session-state"
)

// Envelope is the wire frame: a type tag plus an event-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextUpdate carries a live edit. A missing text field is treated as
// empty, never as an error.
type TextUpdate struct {
	Text    string `json:"text"`
	Session string `json:"session,omitempty"`
}

// GalleryMode toggles the read-only rotating display for a session.
type GalleryMode struct {
	IsActive    bool   `json:"isActive"`
	PromptIndex int    `json:"promptIndex"`
	Session     string `json:"session,omitempty"`
}

// RotatePrompt advances the gallery. Clients may send only a direction
// ("next" or "prev") and let the server resolve the target, or a fully
// resolved index/text/id triple; the relayed form always carries the
// resolved fields so receivers need no extra fetch.
type RotatePrompt struct {
	PromptIndex int    `json:"promptIndex"`
	PromptText  string `json:"promptText"`
	PromptID    string `json:"promptId"`
	Direction   string `json:"direction,omitempty"`
	Session     string `json:"session,omitempty"`
}

// Prompt is the snapshot payload used by select-prompt, load-prompt,
// new-prompt and prompt-updated.
type Prompt struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Session   string    `json:"session,omitempty"`
}

type PromptDeleted struct {
	ID string `json:"id"`
}

// SessionState is pushed to a connection when it joins, so late joiners
// see the current gallery mode and active prompt without waiting for
// the next event.
type SessionState struct {
	GalleryActive bool    `json:"galleryActive"`
	PromptIndex   int     `json:"promptIndex"`
	Active        *Prompt `json:"active"`
}

// Marshal frames a payload into an envelope of the given type.
func Marshal(eventType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}

// Parse decodes the envelope and validates the type tag. Payload
// decoding is left to the caller since it depends on the type.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing event type")
	}
	return &env, nil
}

// Decode unmarshals an envelope payload into dst. An absent payload
// leaves dst at its zero value: missing fields are tolerated, not
// rejected.
func Decode(env *Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}
