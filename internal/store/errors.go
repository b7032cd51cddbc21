package store

import (
	"errors"
	"fmt"

	"github.com/exportlens/eventd/internal/schema"
)

var (
	ErrEventNotFound           = errors.New("event not found")
	ErrInvalidStatusTransition = errors.New("invalid event status transition")
)

// StatusTransitionError reports an attempt to move an event's status
// backwards. Callers can match it with errors.Is(err, ErrInvalidStatusTransition).
type StatusTransitionError struct {
	EventID string
	From    schema.Status
	To      schema.Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for event %s: %s -> %s", e.EventID, e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}
