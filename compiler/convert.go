package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/everydev1618/vegaflow/eventbus"
)

// ErrInvalidEvent is returned when a handler produces something that is not
// an event object.
var ErrInvalidEvent = errors.New("handler returned an invalid event")

// ScriptError is an exception thrown by a handler. Err holds the Go error
// behind it when the exception came from a tool or agent.
type ScriptError struct {
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// throw raises err inside the VM, remembering it so the original error can
// be recovered when the exception escapes the handler.
func (c *Compiler) throw(err error) {
	obj := c.vm.NewGoError(err)
	c.thrown[obj] = err
	panic(obj)
}

func (c *Compiler) toolValue(name string) goja.Value {
	t, ok := c.tools[name]
	if !ok {
		return goja.Undefined()
	}
	return c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		var input any
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			input = Clone(arg.Export())
		}
		out, err := t.Call(c.ctx, input)
		if err != nil {
			c.throw(err)
		}
		return c.toJS(out)
	})
}

func (c *Compiler) agentValue(name string) goja.Value {
	h, ok := c.agents[name]
	if !ok {
		return goja.Undefined()
	}
	obj := c.vm.NewObject()
	_ = obj.Set("name", name)
	_ = obj.Set("run", func(call goja.FunctionCall) goja.Value {
		input, err := agentInput(call.Argument(0))
		if err != nil {
			c.throw(fmt.Errorf("agent %s: %w", name, err))
		}
		res, err := h.Run(c.ctx, input)
		if err != nil {
			c.throw(fmt.Errorf("agent %s: %w", name, err))
		}
		return c.toJS(res.Map())
	})
	return obj
}

// toJS builds a native JavaScript value from a Go value. Maps and slices
// become plain objects and arrays owned by the runtime; other composite
// values go through their JSON encoding.
func (c *Compiler) toJS(v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return t
	case map[string]any:
		obj := c.vm.NewObject()
		for _, k := range mapKeys(t) {
			_ = obj.Set(k, c.toJS(t[k]))
		}
		return obj
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = c.toJS(item)
		}
		return c.vm.NewArray(items...)
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return c.vm.ToValue(t)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return c.vm.ToValue(v)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return c.vm.ToValue(v)
	}
	return c.toJS(generic)
}

// agentInput converts the argument of agent.run to the text sent to the
// agent. Non-string values are sent as JSON.
func agentInput(v goja.Value) (string, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	return string(data), nil
}

// scriptError converts an error returned by a VM call.
func (c *Compiler) scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.New("handler interrupted")
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return c.rejection(ex.Value())
	}
	return err
}

// rejection converts a thrown or rejected value.
func (c *Compiler) rejection(v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		if cause, ok := c.thrown[obj]; ok {
			return &ScriptError{Message: cause.Error(), Err: cause}
		}
	}
	if v == nil || goja.IsUndefined(v) {
		return &ScriptError{Message: "handler threw undefined"}
	}
	return &ScriptError{Message: v.String()}
}

// toEvent converts a handler's return value. Undefined and null mean no
// event.
func toEvent(v goja.Value) (*eventbus.Event, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %s", ErrInvalidEvent, v.String())
	}
	typ, ok := m["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	e := &eventbus.Event{Type: typ}
	switch d := m["data"].(type) {
	case nil:
	case map[string]any:
		e.Data = Clone(d).(map[string]any)
	default:
		return nil, fmt.Errorf("%w: data of %s must be an object, got %T", ErrInvalidEvent, typ, d)
	}
	return e, nil
}

// Clone deep-copies the maps and slices of a JSON-like value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}
