// Package tools resolves the tool names a workflow declares to invocable
// functions: an in-memory registry, built-in tools and MCP-served tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/everydev1618/vegaflow/llm"
)

// Standard errors
var (
	// ErrToolNotFound is returned when a tool is not registered
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyRegistered is returned when trying to register a duplicate tool name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// ToolError wraps errors with tool context.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return "tool " + e.ToolName + ": " + e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Func is the signature of an invocable tool. Input and output are plain
// JSON-like values (maps, slices, strings, numbers, booleans, nil).
type Func func(ctx context.Context, input any) (any, error)

// Middleware wraps tool execution.
type Middleware func(name string, next Func) Func

// Tool is a named invocable function.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Fn          Func
}

// Call invokes the tool, wrapping failures in a ToolError.
func (t *Tool) Call(ctx context.Context, input any) (any, error) {
	out, err := t.Fn(ctx, input)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) && te.ToolName == t.Name {
			return nil, err
		}
		return nil, &ToolError{ToolName: t.Name, Err: err}
	}
	return out, nil
}

// Schema describes the tool for an LLM.
func (t *Tool) Schema() llm.ToolSchema {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	desc := t.Description
	if desc == "" {
		desc = t.Name
	}
	return llm.ToolSchema{Name: t.Name, Description: desc, InputSchema: schema}
}

// Catalog resolves tool names to invocable tools.
type Catalog interface {
	// Lookup returns the named tool or a *ToolError wrapping ErrToolNotFound.
	Lookup(ctx context.Context, name string) (*Tool, error)
}

// Lister is implemented by catalogs that can enumerate their tools.
type Lister interface {
	List() []*Tool
}

// ParamDef defines a tool parameter.
type ParamDef struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required" yaml:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ObjectSchema builds a JSON schema object from parameter definitions.
func ObjectSchema(params map[string]ParamDef) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}

	for name, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Registry is an in-memory tool catalog.
type Registry struct {
	tools      map[string]*Tool
	middleware []Middleware
	mu         sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMiddleware adds middleware applied to every looked-up tool.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(r *Registry) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Fn == nil {
		return fmt.Errorf("tool %s: function is required", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

// RegisterFunc is shorthand for Register with only a name and function.
func (r *Registry) RegisterFunc(name, description string, fn Func) error {
	return r.Register(Tool{Name: name, Description: description, Fn: fn})
}

// Use adds middleware to the tool chain.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Lookup returns the named tool with middleware applied.
func (r *Registry) Lookup(_ context.Context, name string) (*Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	middleware := r.middleware
	r.mu.RUnlock()

	if !ok {
		return nil, &ToolError{ToolName: name, Err: ErrToolNotFound}
	}

	fn := t.Fn
	// Apply middleware (in reverse order)
	for i := len(middleware) - 1; i >= 0; i-- {
		fn = middleware[i](name, fn)
	}

	out := *t
	out.Fn = fn
	return &out, nil
}

// Execute looks up and calls a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, input any) (any, error) {
	t, err := r.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, input)
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns a new Registry with only the specified tools. Unknown names
// are ignored. Middleware is shared.
func (r *Registry) Filter(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := &Registry{
		tools:      make(map[string]*Tool),
		middleware: r.middleware,
	}
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			filtered.tools[n] = t
		}
	}
	return filtered
}

// Schema returns the LLM schemas for all tools.
func (r *Registry) Schema() []llm.ToolSchema {
	list := r.List()
	schemas := make([]llm.ToolSchema, 0, len(list))
	for _, t := range list {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// chain is a catalog backed by several others.
type chain []Catalog

// Chain returns a catalog that asks each catalog in order and returns the
// first tool found.
func Chain(catalogs ...Catalog) Catalog {
	return chain(catalogs)
}

func (c chain) Lookup(ctx context.Context, name string) (*Tool, error) {
	for _, cat := range c {
		if cat == nil {
			continue
		}
		t, err := cat.Lookup(ctx, name)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrToolNotFound) {
			return nil, err
		}
	}
	return nil, &ToolError{ToolName: name, Err: ErrToolNotFound}
}

func (c chain) List() []*Tool {
	seen := make(map[string]bool)
	var out []*Tool
	for _, cat := range c {
		l, ok := cat.(Lister)
		if !ok {
			continue
		}
		for _, t := range l.List() {
			if !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t)
			}
		}
	}
	return out
}
