package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/everydev1618/vegaflow/llm"
	"github.com/everydev1618/vegaflow/tools"
)

// DefaultMaxIterations bounds the model/tool loop of one run.
const DefaultMaxIterations = 50

// LLMFactory creates agents backed by a language model.
type LLMFactory struct {
	model         llm.LLM
	tools         tools.Catalog
	logger        *slog.Logger
	maxIterations int
}

// LLMOption configures an LLMFactory.
type LLMOption func(*LLMFactory)

// WithTools sets the catalog agent tool names are resolved against.
func WithTools(c tools.Catalog) LLMOption {
	return func(f *LLMFactory) {
		f.tools = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LLMOption {
	return func(f *LLMFactory) {
		f.logger = l
	}
}

// WithMaxIterations sets the model/tool loop limit.
func WithMaxIterations(n int) LLMOption {
	return func(f *LLMFactory) {
		f.maxIterations = n
	}
}

// NewLLMFactory creates a factory for model-backed agents.
func NewLLMFactory(model llm.LLM, opts ...LLMOption) *LLMFactory {
	f := &LLMFactory{
		model:         model,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateAgent resolves the agent's tools and returns a new agent with an
// empty history.
func (f *LLMFactory) CreateAgent(ctx context.Context, prompt string, toolNames []string) (Handle, error) {
	a := &LLMAgent{
		prompt:        prompt,
		model:         f.model,
		tools:         make(map[string]*tools.Tool, len(toolNames)),
		logger:        f.logger,
		maxIterations: f.maxIterations,
	}

	for _, name := range toolNames {
		if f.tools == nil {
			return nil, &tools.ToolError{ToolName: name, Err: tools.ErrToolNotFound}
		}
		t, err := f.tools.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		a.tools[name] = t
		a.schemas = append(a.schemas, t.Schema())
	}

	return a, nil
}

// LLMAgent is a conversational agent. It keeps its history across runs;
// concurrent runs are serialized.
type LLMAgent struct {
	prompt        string
	model         llm.LLM
	tools         map[string]*tools.Tool
	schemas       []llm.ToolSchema
	logger        *slog.Logger
	maxIterations int

	history []llm.Message
	mu      sync.Mutex
}

// History returns a copy of the conversation so far.
func (a *LLMAgent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Run sends input to the model, executes any tool calls it asks for and
// returns its final reply. A failed run leaves the history unchanged.
func (a *LLMAgent) Run(ctx context.Context, input string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn := []llm.Message{{Role: llm.RoleUser, Content: input}}
	result := &Result{}

	for i := 0; i < a.maxIterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		messages := make([]llm.Message, 0, len(a.history)+len(turn)+1)
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.prompt})
		messages = append(messages, a.history...)
		messages = append(messages, turn...)

		resp, err := a.model.Generate(ctx, messages, a.schemas)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}

		result.Data.InputTokens += resp.InputTokens
		result.Data.OutputTokens += resp.OutputTokens
		result.Data.CostUSD += resp.CostUSD

		// If no tool calls, we're done
		if len(resp.ToolCalls) == 0 {
			turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			a.history = append(a.history, turn...)
			result.Data.Result = resp.Content
			result.Data.Truncated = resp.StopReason == llm.StopReasonLength
			return result, nil
		}

		turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			result.Data.ToolCalls = append(result.Data.ToolCalls, tc.Name)
			results = append(results, a.callTool(ctx, tc))
		}
		turn = append(turn, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}

	return nil, ErrMaxIterationsExceeded
}

// callTool runs one tool call. Failures are reported back to the model
// rather than aborting the run.
func (a *LLMAgent) callTool(ctx context.Context, tc llm.ToolCall) llm.ToolResult {
	res := llm.ToolResult{ToolCallID: tc.ID}

	t, ok := a.tools[tc.Name]
	if !ok {
		res.Content = "Error: " + (&tools.ToolError{ToolName: tc.Name, Err: tools.ErrToolNotFound}).Error()
		res.IsError = true
		return res
	}

	out, err := t.Call(ctx, tc.Arguments)
	if err != nil {
		a.logger.Warn("agent tool call failed", "tool", tc.Name, "error", err)
		res.Content = "Error: " + err.Error()
		res.IsError = true
		return res
	}

	if s, ok := out.(string); ok {
		res.Content = s
		return res
	}
	data, err := json.Marshal(out)
	if err != nil {
		res.Content = fmt.Sprint(out)
		return res
	}
	res.Content = string(data)
	return res
}
