package protocol

import (
	"errors"
	"fmt"
)

// ErrMissingEvent is returned by Decode for frames without an event name.
var ErrMissingEvent = errors.New("frame has no event name")

// TransportError reports a connect or reconnect failure.
type TransportError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a failed call to the backing CRUD store.
// It is never retried automatically.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError blocks a mutation before any optimistic apply or network call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Err.Error()
	}
	return fmt.Sprintf("validation %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
