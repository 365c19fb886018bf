package stream

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for failed sessions. Match with errors.Is.
var (
	ErrTransport   = errors.New("stream transport failed")
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// Error is delivered to Sink.OnError when a session aborts. It keeps the
// text accumulated before the failure.
type Error struct {
	Kind    error // ErrTransport or ErrIdleTimeout
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	if e.Partial != "" {
		return fmt.Sprintf("%v (partial content received: %d chars): %v", e.Kind, len(e.Partial), e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
