// Package compiler turns step handler source text into callable steps.
//
// A handler is a single JavaScript arrow function:
//
//	async (event, context) => {
//	    const r = await summarizer.run(event.data.text);
//	    context.summary = r.data.result;
//	    return { type: "WORKFLOW_STOP", data: { summary: r.data.result } };
//	}
//
// Only the tools and agents whose names occur in the handler text are bound,
// by parameter position, inside the compiled function. Any other name is
// unresolvable and fails with a ReferenceError when evaluated.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"

	"github.com/everydev1618/vegaflow/agents"
	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/eventbus"
	"github.com/everydev1618/vegaflow/tools"
)

// stepVar names the handler inside the generated wrapper.
const stepVar = "__vegaflow_step"

// Compiler compiles the steps of one run. Its steps share one JavaScript
// runtime and must not be invoked concurrently; the Compiler serializes
// invocations.
type Compiler struct {
	tools  map[string]*tools.Tool
	agents map[string]agents.Handle

	vm     *goja.Runtime
	thrown map[*goja.Object]error
	ctx    context.Context
	mu     sync.Mutex

	// shared is the JavaScript side of the run's execution context,
	// built once from sharedSrc and handed to every step.
	shared    *goja.Object
	sharedSrc map[string]any
}

// New creates a compiler over the run's resolved tools and agents.
func New(toolReg map[string]*tools.Tool, agentReg map[string]agents.Handle) *Compiler {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	return &Compiler{
		tools:  toolReg,
		agents: agentReg,
		vm:     vm,
		thrown: make(map[*goja.Object]error),
		ctx:    context.Background(),
	}
}

// CompileStep compiles a single step against fresh registries.
func CompileStep(def dsl.Step, toolReg map[string]*tools.Tool, agentReg map[string]agents.Handle) (*Step, error) {
	return New(toolReg, agentReg).Compile(def)
}

// Step is a compiled handler bound to an event type.
type Step struct {
	EventType string
	Tools     []string // bound tool names, sorted
	Agents    []string // bound agent names, sorted

	fn goja.Callable
	c  *Compiler
}

// Params returns the handler's parameter list.
func (s *Step) Params() []string {
	params := make([]string, 0, 2+len(s.Tools)+len(s.Agents))
	params = append(params, "event", "context")
	params = append(params, s.Tools...)
	params = append(params, s.Agents...)
	return params
}

// CompileAll compiles every step of doc. The first failure is returned as a
// *dsl.ValidationError naming the step; nothing is executed.
func (c *Compiler) CompileAll(doc *dsl.Workflow) ([]*Step, error) {
	steps := make([]*Step, 0, len(doc.Steps))
	for i, def := range doc.Steps {
		s, err := c.Compile(def)
		if err != nil {
			var verr *dsl.ValidationError
			if errors.As(err, &verr) {
				verr.Field = fmt.Sprintf("steps[%d].%s", i, verr.Field)
			}
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Compile checks that def's handler is a single arrow function and compiles
// it with the tools and agents it mentions as parameters.
func (c *Compiler) Compile(def dsl.Step) (*Step, error) {
	src := strings.TrimSpace(def.Handle)
	if err := checkShape(src); err != nil {
		return nil, &dsl.ValidationError{
			Field:   "handle",
			Message: fmt.Sprintf("step %q: %v", def.Event, err),
			Hint:    "handlers must look like async (event, context) => { ... }",
		}
	}

	s := &Step{
		EventType: def.Event,
		Tools:     Scan(src, mapKeys(c.tools)),
		Agents:    Scan(src, mapKeys(c.agents)),
		c:         c,
	}

	for _, name := range s.Agents {
		if _, clash := c.tools[name]; clash {
			return nil, &dsl.ValidationError{
				Field:   "handle",
				Message: fmt.Sprintf("step %q: %q is both a tool and an agent", def.Event, name),
			}
		}
	}
	for _, name := range append(append([]string(nil), s.Tools...), s.Agents...) {
		if !validBinding(name) {
			return nil, &dsl.ValidationError{
				Field:   "handle",
				Message: fmt.Sprintf("step %q: %q cannot be bound as a handler variable", def.Event, name),
				Hint:    "tool and agent names used in handlers must be JavaScript identifiers other than event and context",
			}
		}
	}

	wrapper := fmt.Sprintf("(function (%s) {\nconst %s = %s\n;return %s(event, context);\n})",
		strings.Join(s.Params(), ", "), stepVar, src, stepVar)

	prog, err := goja.Compile("step:"+def.Event, wrapper, true)
	if err != nil {
		return nil, &dsl.ValidationError{
			Field:   "handle",
			Message: fmt.Sprintf("step %q: handler does not compile: %v", def.Event, err),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.vm.RunProgram(prog)
	if err != nil {
		return nil, &dsl.ValidationError{
			Field:   "handle",
			Message: fmt.Sprintf("step %q: handler does not compile: %v", def.Event, err),
		}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &dsl.ValidationError{Field: "handle", Message: fmt.Sprintf("step %q: handler is not a function", def.Event)}
	}
	s.fn = fn

	return s, nil
}

// checkShape requires src to be exactly one arrow function expression.
func checkShape(src string) error {
	if src == "" {
		return errors.New("handler is empty")
	}
	prog, err := goja.Parse("handler", src)
	if err != nil {
		return fmt.Errorf("handler does not parse: %w", err)
	}
	if len(prog.Body) != 1 {
		return fmt.Errorf("handler must be a single arrow function, found %d statements", len(prog.Body))
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return errors.New("handler must be an arrow function expression")
	}
	if _, ok := stmt.Expression.(*ast.ArrowFunctionLiteral); !ok {
		return errors.New("handler must be an arrow function expression")
	}
	return nil
}

// Invoke runs the handler with a copy of e and the run's shared context
// object, both as native JavaScript values. It returns the event the handler
// produced, or nil when the handler returned nothing. Cancelling ctx
// interrupts the handler.
func (s *Step) Invoke(ctx context.Context, e eventbus.Event, execCtx map[string]any) (*eventbus.Event, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.ctx = ctx
	defer func() { c.ctx = context.Background() }()
	clear(c.thrown)

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		c.vm.ClearInterrupt()
	}()

	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	shared := c.contextObject(execCtx)
	defer c.syncContext(shared, execCtx)

	args := make([]goja.Value, 0, 2+len(s.Tools)+len(s.Agents))
	args = append(args,
		c.toJS(map[string]any{"type": e.Type, "data": data}),
		shared,
	)
	// Registries are re-read on every call.
	for _, name := range s.Tools {
		args = append(args, c.toolValue(name))
	}
	for _, name := range s.Agents {
		args = append(args, c.agentValue(name))
	}

	v, err := s.fn(goja.Undefined(), args...)
	if err != nil {
		return nil, c.scriptError(ctx, err)
	}

	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return nil, c.rejection(p.Result())
		default:
			return nil, errors.New("handler did not settle")
		}
	}

	return toEvent(v)
}

// contextObject returns the JavaScript object for execCtx. Steps invoked with
// the same map share one object, so values stored by one handler keep their
// identity in the next; the map is rewritten from it after every call.
func (c *Compiler) contextObject(execCtx map[string]any) *goja.Object {
	if execCtx == nil {
		return c.toJS(map[string]any{}).(*goja.Object)
	}
	if c.shared != nil && reflect.ValueOf(c.sharedSrc).Pointer() == reflect.ValueOf(execCtx).Pointer() {
		return c.shared
	}
	c.shared = c.toJS(execCtx).(*goja.Object)
	c.sharedSrc = execCtx
	return c.shared
}

func (c *Compiler) syncContext(shared *goja.Object, execCtx map[string]any) {
	if execCtx == nil {
		return
	}
	exported, _ := shared.Export().(map[string]any)
	clear(execCtx)
	maps.Copy(execCtx, exported)
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
