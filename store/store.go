// Package store persists workflow documents, agent identities and run
// history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or was deleted.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Store is the persistence collaborator of the workflow service.
type Store interface {
	// Init creates tables if they don't exist.
	Init(ctx context.Context) error

	// Close closes the store.
	Close() error

	// SaveWorkflow creates or replaces a workflow document. Saving a deleted
	// workflow restores it.
	SaveWorkflow(ctx context.Context, w Workflow) error

	// GetWorkflow returns a live workflow by id.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// ListWorkflows returns live workflows ordered by id.
	ListWorkflows(ctx context.Context) ([]Workflow, error)

	// DeleteWorkflow soft-deletes a workflow.
	DeleteWorkflow(ctx context.Context, id string) error

	// EnsureAgentInstance returns the stable instance id for an agent of a
	// workflow, minting a new one when none exists or the fingerprint changed.
	EnsureAgentInstance(ctx context.Context, workflowID, agentName, fingerprint string) (string, error)

	// InsertRun records the start of a run.
	InsertRun(ctx context.Context, r Run) error

	// FinishRun records the outcome of a run.
	FinishRun(ctx context.Context, runID, status, output, errMsg string, finishedAt time.Time) error

	// InsertRunEvent appends an event to a run's trace.
	InsertRunEvent(ctx context.Context, e RunEvent) error

	// ListRuns returns recent runs, newest first. An empty workflowID lists
	// runs of every workflow.
	ListRuns(ctx context.Context, workflowID string, limit int) ([]Run, error)

	// ListRunEvents returns a run's trace in order.
	ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error)
}

// Workflow is a stored workflow document. DSL holds the document as JSON.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DSL         string    `json:"dsl"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Run is one execution of a workflow.
type Run struct {
	RunID      string     `json:"run_id"`
	WorkflowID string     `json:"workflow_id"`
	Status     string     `json:"status"`
	Input      string     `json:"input"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunEvent is one event published during a run.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
