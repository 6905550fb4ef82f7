package vegaflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/everydev1618/vegaflow/agents"
	"github.com/everydev1618/vegaflow/compiler"
	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/engine"
	"github.com/everydev1618/vegaflow/eventbus"
	"github.com/everydev1618/vegaflow/llm"
	"github.com/everydev1618/vegaflow/store"
	"github.com/everydev1618/vegaflow/tools"
)

// Service compiles and runs workflow documents.
type Service struct {
	catalog    tools.Catalog
	factory    agents.Factory
	pool       *agents.Pool
	store      store.Store
	model      llm.LLM
	middleware []tools.Middleware
	runTimeout time.Duration
	maxSteps   int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog sets the catalog documents resolve tool names against.
func WithCatalog(c tools.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithAgentFactory sets the factory agents are created with.
func WithAgentFactory(f agents.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithPool shares an agent pool between services. It overrides
// WithAgentFactory.
func WithPool(p *agents.Pool) Option {
	return func(s *Service) { s.pool = p }
}

// WithStore enables stored workflows, stable agent identities and run
// history.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithLLM sets the model GenerateDSL uses.
func WithLLM(m llm.LLM) Option {
	return func(s *Service) { s.model = m }
}

// WithToolMiddleware wraps every resolved tool.
func WithToolMiddleware(mw ...tools.Middleware) Option {
	return func(s *Service) { s.middleware = append(s.middleware, mw...) }
}

// WithRunTimeout bounds each run. Zero means no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.runTimeout = d }
}

// WithMaxSteps caps the events dispatched per run. Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(s *Service) { s.maxSteps = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracer sets the tracer for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New creates a service.
func New(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/everydev1618/vegaflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = tools.NewRegistry()
	}
	if s.pool == nil && s.factory != nil {
		var poolOpts []agents.PoolOption
		if ids, ok := s.store.(agents.IdentityStore); ok {
			poolOpts = append(poolOpts, agents.WithIdentityStore(ids))
		}
		s.pool = agents.NewPool(s.factory, poolOpts...)
	}
	return s
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	RunID      string         `json:"run_id"`
	Output     map[string]any `json:"output"`
	ExecutedAt time.Time      `json:"executed_at"`
	Context    map[string]any `json:"context,omitempty"`
	Steps      int            `json:"steps"`
}

// CompileAndRun validates doc, resolves its tools and agents, compiles every
// step and runs the workflow with input as the start event's data. seed, if
// non-nil, initializes the shared context object.
func (s *Service) CompileAndRun(ctx context.Context, doc *dsl.Workflow, input, seed map[string]any) (*RunResult, error) {
	if err := dsl.Validate(doc); err != nil {
		return nil, err
	}
	return s.run(ctx, doc, input, seed)
}

// Execute runs a stored workflow.
func (s *Service) Execute(ctx context.Context, workflowID string, input, seed map[string]any) (*RunResult, error) {
	doc, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.CompileAndRun(ctx, doc, input, seed)
}

// ValidateOnly checks doc without running it: the definition invariants and
// that every handler compiles. It is the check SaveWorkflow applies.
func (s *Service) ValidateOnly(doc *dsl.Workflow) error {
	if err := dsl.ValidateDefinition(doc); err != nil {
		return err
	}
	_, err := compiler.New(nil, nil).CompileAll(doc)
	return err
}

func (s *Service) run(ctx context.Context, doc *dsl.Workflow, input, seed map[string]any) (*RunResult, error) {
	toolReg, err := s.resolveTools(ctx, doc)
	if err != nil {
		return nil, err
	}
	agentReg, err := s.resolveAgents(ctx, doc)
	if err != nil {
		return nil, err
	}

	steps, err := compiler.New(toolReg, agentReg).CompileAll(doc)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	bus := eventbus.New()
	defer bus.Close()

	rt, err := engine.New(engine.Compiled(steps),
		engine.WithBus(bus),
		engine.WithContext(seed),
		engine.WithMaxSteps(s.maxSteps),
		engine.WithWorkflowID(doc.ID),
		engine.WithLogger(s.logger.With("run", runID)),
		engine.WithTracer(s.tracer),
	)
	if err != nil {
		return nil, &dsl.ValidationError{Field: "steps", Message: err.Error()}
	}

	rec := s.startRecording(ctx, runID, doc.ID, input, bus)

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.logger.Info("workflow run started", "workflow", doc.ID, "run", runID)
	start := time.Now()

	output, err := rt.Execute(runCtx, input)
	if err != nil && s.runTimeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &TimeoutError{Timeout: s.runTimeout, Err: err}
	}
	rec.finish(output, err)

	if err != nil {
		s.logger.Error("workflow run failed", "workflow", doc.ID, "run", runID, "steps", rt.Steps(), "error", err)
		return nil, err
	}
	s.logger.Info("workflow run completed", "workflow", doc.ID, "run", runID,
		"steps", rt.Steps(), "duration", time.Since(start))

	return &RunResult{
		RunID:      runID,
		Output:     output,
		ExecutedAt: time.Now(),
		Context:    rt.Context(),
		Steps:      rt.Steps(),
	}, nil
}

// resolveTools looks up every tool the document declares.
func (s *Service) resolveTools(ctx context.Context, doc *dsl.Workflow) (map[string]*tools.Tool, error) {
	reg := make(map[string]*tools.Tool, len(doc.Tools))
	for _, name := range doc.Tools {
		t, err := s.catalog.Lookup(ctx, name)
		if err != nil {
			return nil, &ResolutionError{Kind: KindTool, Name: name, Err: err}
		}
		resolved := *t
		for i := len(s.middleware) - 1; i >= 0; i-- {
			resolved.Fn = s.middleware[i](name, resolved.Fn)
		}
		resolved.Fn = tools.LogCalls(s.logger)(name, resolved.Fn)
		reg[name] = &resolved
	}
	return reg, nil
}

// resolveAgents creates or reuses every agent the document declares.
func (s *Service) resolveAgents(ctx context.Context, doc *dsl.Workflow) (map[string]agents.Handle, error) {
	reg := make(map[string]agents.Handle, len(doc.Agents))
	if len(doc.Agents) == 0 {
		return reg, nil
	}
	if s.pool == nil {
		return nil, &ResolutionError{Kind: KindAgent, Name: doc.Agents[0].Name, Err: ErrNoAgentFactory}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, def := range doc.Agents {
		g.Go(func() error {
			inst, err := s.pool.GetOrCreate(gctx, doc.ID, def)
			if err != nil {
				return &ResolutionError{Kind: KindAgent, Name: def.Name, Err: err}
			}
			mu.Lock()
			reg[def.Name] = inst
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reg, nil
}

// SaveWorkflow validates doc with ValidateOnly and stores it.
func (s *Service) SaveWorkflow(ctx context.Context, doc *dsl.Workflow) error {
	if s.store == nil {
		return ErrNoStore
	}
	if err := s.ValidateOnly(doc); err != nil {
		return err
	}

	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	if err := s.store.SaveWorkflow(ctx, store.Workflow{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		DSL:         string(data),
	}); err != nil {
		return fmt.Errorf("save workflow %s: %w", doc.ID, err)
	}
	s.logger.Info("workflow saved", "workflow", doc.ID)
	return nil
}

// GetWorkflow loads and parses a stored workflow.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*dsl.Workflow, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	rec, err := s.store.GetWorkflow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return dsl.Parse([]byte(rec.DSL))
}

// ListWorkflows returns the stored workflows.
func (s *Service) ListWorkflows(ctx context.Context) ([]store.Workflow, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListWorkflows(ctx)
}

// DeleteWorkflow soft-deletes a stored workflow and drops its cached agents.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	err := s.store.DeleteWorkflow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return err
	}
	if s.pool != nil {
		s.pool.Evict(id)
	}
	s.logger.Info("workflow deleted", "workflow", id)
	return nil
}

// ListRuns returns recent runs, optionally of one workflow.
func (s *Service) ListRuns(ctx context.Context, workflowID string, limit int) ([]store.Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListRuns(ctx, workflowID, limit)
}

// RunEvents returns the events recorded for a run.
func (s *Service) RunEvents(ctx context.Context, runID string) ([]store.RunEvent, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListRunEvents(ctx, runID)
}

// recorder writes a run and its events to the store. Store failures are
// logged and never fail the run.
type recorder struct {
	s     *Service
	ctx   context.Context
	runID string
	seq   int
	unsub func()
}

func (s *Service) startRecording(ctx context.Context, runID, workflowID string, input map[string]any, bus *eventbus.Bus) *recorder {
	rec := &recorder{s: s, ctx: context.WithoutCancel(ctx), runID: runID}
	if s.store == nil {
		return rec
	}

	if err := s.store.InsertRun(rec.ctx, store.Run{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     store.RunRunning,
		Input:      encode(input),
		StartedAt:  time.Now(),
	}); err != nil {
		s.logger.Warn("failed to record run", "run", runID, "error", err)
		return rec
	}

	rec.unsub = bus.Subscribe(func(_ context.Context, e eventbus.Event) error {
		rec.seq++
		if err := s.store.InsertRunEvent(rec.ctx, store.RunEvent{
			RunID:     runID,
			Seq:       rec.seq,
			Type:      e.Type,
			Data:      encode(e.Data),
			CreatedAt: e.Timestamp,
		}); err != nil {
			s.logger.Warn("failed to record event", "run", runID, "event", e.Type, "error", err)
		}
		return nil
	})
	return rec
}

func (r *recorder) finish(output map[string]any, runErr error) {
	if r.unsub == nil {
		return
	}
	r.unsub()

	status, out, msg := store.RunCompleted, encode(output), ""
	if runErr != nil {
		status, out, msg = store.RunFailed, "", runErr.Error()
	}
	if err := r.s.store.FinishRun(r.ctx, r.runID, status, out, msg, time.Now()); err != nil {
		r.s.logger.Warn("failed to record run result", "run", r.runID, "error", err)
	}
}

func encode(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
