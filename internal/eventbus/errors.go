package eventbus

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyEventType = errors.New("event type is required")
	ErrNilHandler     = errors.New("handler is required")
	ErrBusClosed      = errors.New("event bus is closed")
)

// panicError wraps a recovered handler panic so it can travel the retry path
// like any other failure.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
