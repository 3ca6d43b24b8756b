package broadcast

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("broadcast: unknown event kind")
	ErrEmptyUserID = errors.New("broadcast: user id is required")
	ErrNilHandler  = errors.New("broadcast: handler is nil")
)

// ListenerError wraps a failure raised by one listener during a broadcast.
type ListenerError struct {
	UserID string
	Kind   Kind
	Handle Handle
	Err    error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("broadcast: listener %s for %s/%s failed: %v", e.Handle, e.UserID, e.Kind, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// PanicError is the error recorded when a listener panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}
