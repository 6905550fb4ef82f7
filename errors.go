package vegaflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWorkflowNotFound is returned when a stored workflow does not exist
	// or was deleted.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrNoStore is returned by operations that need persistence when the
	// service has no store.
	ErrNoStore = errors.New("no store configured")

	// ErrNoAgentFactory is returned when a document declares agents but the
	// service cannot create them.
	ErrNoAgentFactory = errors.New("no agent factory configured")

	// ErrNoLLM is returned by GenerateDSL when the service has no model.
	ErrNoLLM = errors.New("no LLM configured")
)

// Resolution kinds.
const (
	KindTool  = "tool"
	KindAgent = "agent"
)

// ResolutionError is returned when a tool or agent named by a document cannot
// be resolved.
type ResolutionError struct {
	Kind string
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a run exceeds the service's run timeout.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run timed out after %s: %v", e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
