package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler is returned when an event has no step and is not the stop event.
	ErrNoHandler = errors.New("no handler")

	// ErrNoEvent is returned when a handler finishes without producing an event.
	ErrNoEvent = errors.New("handler returned no event")

	// ErrStepLimit is returned when a run dispatches more events than allowed.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrAlreadyStarted is returned by a second call to Execute.
	ErrAlreadyStarted = errors.New("runtime already started")

	// ErrDuplicateStep is returned when two steps handle the same event type.
	ErrDuplicateStep = errors.New("duplicate step for event type")
)

// ExecutionError is a run failure while handling one event.
type ExecutionError struct {
	EventType string
	Err       error
}

func (e *ExecutionError) Error() string {
	if errors.Is(e.Err, ErrNoHandler) {
		return fmt.Sprintf("no handler for event type %s", e.EventType)
	}
	return fmt.Sprintf("event %s: %v", e.EventType, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
