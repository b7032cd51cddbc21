package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var (
	eventMu      sync.Mutex
	eventEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a ULID string. IDs from one process sort
// lexicographically in generation order, which keeps durable event history
// ordered even when two events land on the same millisecond.
func NewEventID() string {
	eventMu.Lock()
	defer eventMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), eventEntropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}
