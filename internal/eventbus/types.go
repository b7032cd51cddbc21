package eventbus

import (
	"time"

	"github.com/exportlens/eventd/internal/schema"
)

// Event is an immutable record of something that happened on the platform.
// Dispatch status is tracked by the durable store, not on the event itself.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   any             `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Source    string          `json:"source"`
	Priority  schema.Priority `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
}

// StoredEvent is an event as recorded by the durable store, together with its
// dispatch status.
type StoredEvent struct {
	Event
	Status      schema.Status `json:"status"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// PublishInput describes a publish request. Type is required; everything else
// has defaults (priority medium, source "system").
type PublishInput struct {
	Type      string
	Payload   any
	Priority  schema.Priority
	Source    string
	Metadata  map[string]any
	Ephemeral bool // skip the durable store append
}

// Query bounds history lookups.
type Query struct {
	Limit int       // defaults to 100 when <= 0
	Since time.Time // zero means unbounded
}
