// Package engine drives a compiled workflow from its start event to its stop
// event.
//
// A Runtime owns the run's shared context object and an event bus. Each event
// is published on the bus; the runtime's dispatcher finds the step for the
// event type, invokes it and queues the event it returns. Events are handled
// strictly one at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/everydev1618/vegaflow/compiler"
	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/eventbus"
)

// Span names and attribute keys.
const (
	SpanRun  = "vegaflow.workflow.run"
	SpanStep = "vegaflow.step"

	AttrWorkflowID = "vegaflow.workflow.id"
	AttrEventType  = "vegaflow.event.type"
	AttrNextEvent  = "vegaflow.event.next"
	AttrSteps      = "vegaflow.run.steps"
)

// Status is the lifecycle state of a Runtime.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Handler handles one event.
type Handler interface {
	Invoke(ctx context.Context, e eventbus.Event, execCtx map[string]any) (*eventbus.Event, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e eventbus.Event, execCtx map[string]any) (*eventbus.Event, error)

func (f HandlerFunc) Invoke(ctx context.Context, e eventbus.Event, execCtx map[string]any) (*eventbus.Event, error) {
	return f(ctx, e, execCtx)
}

// Step binds a handler to an event type.
type Step struct {
	EventType string
	Handler   Handler
}

// Compiled converts compiled steps.
func Compiled(steps []*compiler.Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{EventType: s.EventType, Handler: s}
	}
	return out
}

// Runtime executes one run of a workflow.
type Runtime struct {
	workflowID string
	steps      map[string]Handler
	execCtx    map[string]any
	bus        *eventbus.Bus
	maxSteps   int
	logger     *slog.Logger
	tracer     trace.Tracer

	mu     sync.Mutex
	status Status
	err    error
	count  int

	next *eventbus.Event
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithMaxSteps caps the number of dispatched events. Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(r *Runtime) { r.maxSteps = n }
}

// WithContext seeds the shared context object. The seed is copied.
func WithContext(seed map[string]any) Option {
	return func(r *Runtime) {
		if seed != nil {
			r.execCtx = compiler.Clone(seed).(map[string]any)
		}
	}
}

// WithBus publishes the run's events on b, letting callers observe them.
func WithBus(b *eventbus.Bus) Option {
	return func(r *Runtime) { r.bus = b }
}

// WithWorkflowID labels spans and logs with the workflow id.
func WithWorkflowID(id string) Option {
	return func(r *Runtime) { r.workflowID = id }
}

// New creates an idle runtime over steps.
func New(steps []Step, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		steps:   make(map[string]Handler, len(steps)),
		execCtx: make(map[string]any),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/everydev1618/vegaflow/engine"),
		status:  StatusIdle,
	}
	for _, s := range steps {
		if _, dup := r.steps[s.EventType]; dup {
			return nil, fmt.Errorf("%w %s", ErrDuplicateStep, s.EventType)
		}
		r.steps[s.EventType] = s.Handler
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = eventbus.New()
	}
	return r, nil
}

// Status returns the current state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the error that failed the run, if any.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Steps returns the number of events dispatched to handlers so far.
func (r *Runtime) Steps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Context returns the shared context object. It must not be modified while
// the run is in progress.
func (r *Runtime) Context() map[string]any {
	return r.execCtx
}

// Bus returns the bus the run publishes on.
func (r *Runtime) Bus() *eventbus.Bus {
	return r.bus
}

// Execute runs the workflow with input as the data of the start event and
// returns the data of the stop event.
func (r *Runtime) Execute(ctx context.Context, input map[string]any) (output map[string]any, err error) {
	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	r.status = StatusRunning
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String(AttrWorkflowID, r.workflowID),
	))
	defer func() {
		span.SetAttributes(attribute.Int(AttrSteps, r.Steps()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		r.finish(err)
	}()

	unsubscribe := r.bus.Subscribe(r.dispatch)
	defer unsubscribe()

	data, _ := compiler.Clone(input).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	event := eventbus.Event{Type: dsl.StartEvent, Data: data}

	for {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{EventType: event.Type, Err: err}
		}

		r.next = nil
		if err := r.bus.Publish(ctx, event); err != nil {
			var execErr *ExecutionError
			if errors.As(err, &execErr) {
				return nil, err
			}
			return nil, &ExecutionError{EventType: event.Type, Err: err}
		}

		if event.Type == dsl.StopEvent {
			if event.Data == nil {
				return map[string]any{}, nil
			}
			return event.Data, nil
		}
		if r.next == nil {
			return nil, &ExecutionError{EventType: event.Type, Err: ErrNoEvent}
		}
		event = *r.next
	}
}

// dispatch is the runtime's bus subscriber.
func (r *Runtime) dispatch(ctx context.Context, e eventbus.Event) error {
	if e.Type == dsl.StopEvent {
		return nil
	}

	h, ok := r.steps[e.Type]
	if !ok {
		return &ExecutionError{EventType: e.Type, Err: ErrNoHandler}
	}

	r.mu.Lock()
	r.count++
	n := r.count
	r.mu.Unlock()
	if r.maxSteps > 0 && n > r.maxSteps {
		return &ExecutionError{EventType: e.Type, Err: fmt.Errorf("%w (%d)", ErrStepLimit, r.maxSteps)}
	}

	ctx, span := r.tracer.Start(ctx, SpanStep, trace.WithAttributes(
		attribute.String(AttrWorkflowID, r.workflowID),
		attribute.String(AttrEventType, e.Type),
	))
	defer span.End()

	r.logger.Debug("dispatching event", "workflow", r.workflowID, "event", e.Type, "step", n)

	next, err := h.Invoke(ctx, e, r.execCtx)
	if err == nil && next == nil {
		err = ErrNoEvent
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &ExecutionError{EventType: e.Type, Err: err}
	}

	span.SetAttributes(attribute.String(AttrNextEvent, next.Type))
	span.SetStatus(codes.Ok, "")
	r.next = next
	return nil
}

func (r *Runtime) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.status = StatusFailed
		r.err = err
		return
	}
	r.status = StatusCompleted
}
