package vegaflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/vegaflow/agents"
	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/engine"
	"github.com/everydev1618/vegaflow/store"
	"github.com/everydev1618/vegaflow/tools"
)

func workflow(id string, toolNames []string, steps ...dsl.Step) *dsl.Workflow {
	events := []dsl.Event{{Type: dsl.StartEvent}, {Type: dsl.StopEvent}}
	for _, s := range steps {
		if s.Event != dsl.StartEvent {
			events = append(events, dsl.Event{Type: s.Event})
		}
	}
	if toolNames == nil {
		toolNames = []string{}
	}
	return &dsl.Workflow{
		ID:          id,
		Name:        "Test " + id,
		Description: "test workflow",
		Version:     "v1",
		Tools:       toolNames,
		Events:      events,
		Steps:       steps,
	}
}

func echoDoc() *dsl.Workflow {
	return workflow("echo_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async (event, context) => ({ type: "WORKFLOW_STOP", data: { output: event.data.input } })`,
	})
}

func TestCompileAndRunLinear(t *testing.T) {
	svc := New()

	res, err := svc.CompileAndRun(context.Background(), echoDoc(), map[string]any{"input": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": "hi"}, res.Output)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.ExecutedAt.IsZero())
	assert.Equal(t, 1, res.Steps)
}

func TestCompileAndRunValidation(t *testing.T) {
	doc := echoDoc()
	doc.Events = []dsl.Event{{Type: "FOO"}, {Type: "BAR"}}

	_, err := New().CompileAndRun(context.Background(), doc, nil, nil)
	var verr *dsl.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.EqualError(t, err, "DSL must have WORKFLOW_START event")

	_, err = New().CompileAndRun(context.Background(), nil, nil, nil)
	assert.EqualError(t, err, "DSL must be a valid object")
}

func TestUnknownToolIsResolutionError(t *testing.T) {
	doc := workflow("tool_flow", []string{"missing"}, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => ({ type: "WORKFLOW_STOP", data: { r: await missing() } })`,
	})

	_, err := New().CompileAndRun(context.Background(), doc, nil, nil)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindTool, rerr.Kind)
	assert.Equal(t, "missing", rerr.Name)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)
}

func TestSymbolScopingThroughService(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("toolA", "a", func(context.Context, any) (any, error) { return "a", nil }))
	require.NoError(t, reg.RegisterFunc("toolB", "b", func(context.Context, any) (any, error) { return "b", nil }))

	doc := workflow("scope_flow", []string{"toolA", "toolB"}, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { await toolA(); return { type: "WORKFLOW_STOP", data: { b: await eval("tool" + "B")() } }; }`,
	})

	_, err := New(WithCatalog(reg)).CompileAndRun(context.Background(), doc, nil, nil)
	var execErr *engine.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, err.Error(), "toolB is not defined")
}

func TestToolFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("flaky", "fails", func(context.Context, any) (any, error) {
		calls.Add(1)
		return nil, boom
	}))

	doc := workflow("retry_flow", []string{"flaky"}, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { await flaky(); return { type: "WORKFLOW_STOP" }; }`,
	})

	_, err := New(WithCatalog(reg)).CompileAndRun(context.Background(), doc, nil, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBadStepPreventsAnyExecution(t *testing.T) {
	var calls atomic.Int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("side_effect", "", func(context.Context, any) (any, error) {
		calls.Add(1)
		return nil, nil
	}))

	doc := workflow("bad_flow", []string{"side_effect"},
		dsl.Step{Event: dsl.StartEvent, Handle: `async () => { await side_effect(); return { type: "NEXT" }; }`},
		dsl.Step{Event: "NEXT", Handle: `this is not javascript`},
	)

	_, err := New(WithCatalog(reg)).CompileAndRun(context.Background(), doc, nil, nil)
	var verr *dsl.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "steps[1].handle", verr.Field)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMultiStepChain(t *testing.T) {
	doc := workflow("chain_flow", nil,
		dsl.Step{Event: dsl.StartEvent, Handle: `async (event, context) => { context.seen = true; return { type: "A", data: {} }; }`},
		dsl.Step{Event: "A", Handle: `async (event, context) => ({ type: "WORKFLOW_STOP", data: { seen: context.seen, seed: context.seed } })`},
	)

	res, err := New().CompileAndRun(context.Background(), doc, nil, map[string]any{"seed": "s"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seen": true, "seed": "s"}, res.Output)
	assert.Equal(t, true, res.Context["seen"])
}

func TestUnknownEventType(t *testing.T) {
	doc := workflow("lost_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => ({ type: "NOWHERE", data: {} })`,
	})

	_, err := New().CompileAndRun(context.Background(), doc, nil, nil)
	assert.EqualError(t, err, "no handler for event type NOWHERE")
}

func TestAgents(t *testing.T) {
	doc := workflow("agent_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async (event) => { const r = await writer.run(event.data.topic); return { type: "WORKFLOW_STOP", data: { text: r.data.result } }; }`,
	})
	doc.Agents = []dsl.Agent{
		{Name: "writer", Prompt: "Write.", Output: map[string]any{"text": "string"}},
		{Name: "critic", Prompt: "Criticize."},
	}

	var created atomic.Int32
	factory := agents.FactoryFunc(func(ctx context.Context, prompt string, toolNames []string) (agents.Handle, error) {
		created.Add(1)
		return agents.EchoFactory{}.CreateAgent(ctx, prompt, toolNames)
	})
	svc := New(WithAgentFactory(factory))

	res, err := svc.CompileAndRun(context.Background(), doc, map[string]any{"topic": "go"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "go", res.Output["text"])

	// A second run reuses the agents.
	_, err = svc.CompileAndRun(context.Background(), doc, map[string]any{"topic": "go"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), created.Load())
}

func TestAgentsWithoutFactory(t *testing.T) {
	doc := echoDoc()
	doc.Agents = []dsl.Agent{{Name: "writer", Prompt: "Write."}}

	_, err := New().CompileAndRun(context.Background(), doc, nil, nil)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindAgent, rerr.Kind)
	assert.ErrorIs(t, err, ErrNoAgentFactory)
}

func TestAgentCreationFailure(t *testing.T) {
	boom := errors.New("no capacity")
	doc := echoDoc()
	doc.Agents = []dsl.Agent{{Name: "writer", Prompt: "Write."}}
	factory := agents.FactoryFunc(func(context.Context, string, []string) (agents.Handle, error) { return nil, boom })

	_, err := New(WithAgentFactory(factory)).CompileAndRun(context.Background(), doc, nil, nil)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "writer", rerr.Name)
	assert.ErrorIs(t, err, boom)
}

func TestRunTimeout(t *testing.T) {
	doc := workflow("spin_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { while (true) {} }`,
	})

	_, err := New(WithRunTimeout(50*time.Millisecond)).CompileAndRun(context.Background(), doc, nil, nil)
	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 50*time.Millisecond, terr.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerDeadlineIsNotTimeoutError(t *testing.T) {
	doc := workflow("spin_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { while (true) {} }`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(WithRunTimeout(time.Minute)).CompileAndRun(ctx, doc, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var terr *TimeoutError
	assert.False(t, errors.As(err, &terr))
}

func TestStepLimit(t *testing.T) {
	doc := workflow("loop_flow", nil,
		dsl.Step{Event: dsl.StartEvent, Handle: `async () => ({ type: "PING" })`},
		dsl.Step{Event: "PING", Handle: `async () => ({ type: "PING" })`},
	)

	_, err := New(WithMaxSteps(10)).CompileAndRun(context.Background(), doc, nil, nil)
	assert.ErrorIs(t, err, engine.ErrStepLimit)
}

func TestToolMiddleware(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("now", "", func(context.Context, any) (any, error) { return "t", nil }))

	var seen []string
	mw := func(name string, next tools.Func) tools.Func {
		return func(ctx context.Context, in any) (any, error) {
			seen = append(seen, name)
			return next(ctx, in)
		}
	}

	doc := workflow("mw_flow", []string{"now"}, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => ({ type: "WORKFLOW_STOP", data: { t: await now() } })`,
	})
	res, err := New(WithCatalog(reg), WithToolMiddleware(mw)).CompileAndRun(context.Background(), doc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "t", res.Output["t"])
	assert.Equal(t, []string{"now"}, seen)
}

func newStoredService(t *testing.T, opts ...Option) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "vegaflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Init(context.Background()))
	return New(append([]Option{WithStore(st)}, opts...)...), st
}

func TestStoredWorkflows(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStoredService(t)

	require.NoError(t, svc.SaveWorkflow(ctx, echoDoc()))

	list, err := svc.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "echo_flow", list[0].ID)

	doc, err := svc.GetWorkflow(ctx, "echo_flow")
	require.NoError(t, err)
	assert.Equal(t, echoDoc().Steps, doc.Steps)

	res, err := svc.Execute(ctx, "echo_flow", map[string]any{"input": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output["output"])

	runs, err := svc.ListRuns(ctx, "echo_flow", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
	assert.JSONEq(t, `{"output":"hi"}`, runs[0].Output)

	events, err := svc.RunEvents(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, dsl.StartEvent, events[0].Type)
	assert.JSONEq(t, `{"input":"hi"}`, events[0].Data)
	assert.Equal(t, dsl.StopEvent, events[1].Type)

	require.NoError(t, svc.DeleteWorkflow(ctx, "echo_flow"))
	_, err = svc.Execute(ctx, "echo_flow", nil, nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, svc.DeleteWorkflow(ctx, "echo_flow"), ErrWorkflowNotFound)
}

func TestFailedRunIsRecorded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStoredService(t)

	doc := workflow("fail_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { throw new Error("bad input"); }`,
	})
	_, err := svc.CompileAndRun(ctx, doc, nil, nil)
	require.Error(t, err)

	runs, err := svc.ListRuns(ctx, "fail_flow", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "bad input")
}

func TestSaveRejectsInvalidWorkflow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStoredService(t)

	bad := echoDoc()
	bad.Steps[0].Handle = `function () {}`
	var verr *dsl.ValidationError
	require.True(t, errors.As(svc.SaveWorkflow(ctx, bad), &verr))

	dup := echoDoc()
	dup.Steps = append(dup.Steps, dup.Steps[0])
	require.True(t, errors.As(svc.SaveWorkflow(ctx, dup), &verr))

	list, err := svc.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStableAgentIdentity(t *testing.T) {
	ctx := context.Background()
	_, st := newStoredService(t)

	doc := workflow("agent_flow", nil, dsl.Step{
		Event:  dsl.StartEvent,
		Handle: `async () => { const r = await writer.run("x"); return { type: "WORKFLOW_STOP", data: { id: r.data.agent } }; }`,
	})
	doc.Agents = []dsl.Agent{{Name: "writer", Prompt: "Write."}}

	// Two services over one store stand in for a restart.
	first, err := New(WithStore(st), WithAgentFactory(agents.EchoFactory{})).CompileAndRun(ctx, doc, nil, nil)
	require.NoError(t, err)
	second, err := New(WithStore(st), WithAgentFactory(agents.EchoFactory{})).CompileAndRun(ctx, doc, nil, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, first.Output["id"])
	assert.Equal(t, first.Output["id"], second.Output["id"])
}

func TestNoStore(t *testing.T) {
	svc := New()
	ctx := context.Background()

	assert.ErrorIs(t, svc.SaveWorkflow(ctx, echoDoc()), ErrNoStore)
	_, err := svc.Execute(ctx, "echo_flow", nil, nil)
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = svc.ListRuns(ctx, "", 0)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestValidateOnly(t *testing.T) {
	svc := New()
	assert.NoError(t, svc.ValidateOnly(echoDoc()))

	doc := echoDoc()
	doc.ID = "1bad"
	assert.Error(t, svc.ValidateOnly(doc))
}

func TestValidateOnlyCompilesHandlers(t *testing.T) {
	svc, _ := newStoredService(t)

	doc := echoDoc()
	doc.Steps[0].Handle = `function () { return 1 }`

	err := svc.ValidateOnly(doc)
	var verr *dsl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "steps[0].handle", verr.Field)

	saveErr := svc.SaveWorkflow(context.Background(), doc)
	require.Error(t, saveErr)
	assert.Equal(t, err.Error(), saveErr.Error())
}

func TestErrorMessages(t *testing.T) {
	err := &ResolutionError{Kind: KindTool, Name: "x", Err: tools.ErrToolNotFound}
	assert.Equal(t, `cannot resolve tool "x": tool not found`, err.Error())

	terr := &TimeoutError{Timeout: time.Second, Err: context.DeadlineExceeded}
	assert.Equal(t, "run timed out after 1s: context deadline exceeded", terr.Error())
}
