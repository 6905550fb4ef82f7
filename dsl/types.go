// Package dsl provides the workflow document model, parser and validator.
package dsl

import "encoding/json"

// Reserved event types marking the lifecycle boundaries of a run.
const (
	StartEvent = "WORKFLOW_START"
	StopEvent  = "WORKFLOW_STOP"
)

// Workflow is a parsed workflow document.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Version     string         `json:"version" yaml:"version"`
	Tools       []string       `json:"tools" yaml:"tools"`
	Agents      []Agent        `json:"agents,omitempty" yaml:"agents,omitempty"`
	Events      []Event        `json:"events" yaml:"events"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Content     map[string]any `json:"content,omitempty" yaml:"content,omitempty"`
}

// Agent is an LLM agent declared by a workflow.
type Agent struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	Output      any      `json:"output,omitempty" yaml:"output,omitempty"` // expected reply shape
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Event declares an event type and documents its payload.
type Event struct {
	Type string `json:"type" yaml:"type"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// Step binds an event type to handler source text of the form
// `async (event, context) => { ... }`.
type Step struct {
	Event  string `json:"event" yaml:"event"`
	Handle string `json:"handle" yaml:"handle"`
}

// Marshal encodes the workflow as the JSON blob stored by persistence.
func (w *Workflow) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// HasEvent reports whether an event of the given type is declared.
func (w *Workflow) HasEvent(eventType string) bool {
	for _, e := range w.Events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// ValidationError describes a structurally invalid document or a handler
// that failed to compile.
type ValidationError struct {
	Field   string // offending field, e.g. "steps[2].handle"
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return e.Message + " (" + e.Hint + ")"
	}
	return e.Message
}
