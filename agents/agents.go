// Package agents adapts LLM-backed conversational agents to the single
// run capability workflow handlers call.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMaxIterationsExceeded is returned when an agent keeps calling tools
// without producing a final answer.
var ErrMaxIterationsExceeded = errors.New("max iterations exceeded")

// Result is the reply of one agent run.
type Result struct {
	Data ResultData `json:"data"`
}

// ResultData carries the reply text and run metadata.
type ResultData struct {
	Result       string   `json:"result"`
	Agent        string   `json:"agent,omitempty"`
	ToolCalls    []string `json:"tool_calls,omitempty"`
	InputTokens  int      `json:"input_tokens,omitempty"`
	OutputTokens int      `json:"output_tokens,omitempty"`
	CostUSD      float64  `json:"cost_usd,omitempty"`
	Truncated    bool     `json:"truncated,omitempty"` // reply cut off at the token limit
}

// Map returns the result as the plain object handed to workflow handlers:
// {data: {result, agent, ...}}.
func (r *Result) Map() map[string]any {
	data := map[string]any{"result": r.Data.Result}
	if r.Data.Agent != "" {
		data["agent"] = r.Data.Agent
	}
	if len(r.Data.ToolCalls) > 0 {
		calls := make([]any, len(r.Data.ToolCalls))
		for i, c := range r.Data.ToolCalls {
			calls[i] = c
		}
		data["tool_calls"] = calls
	}
	if r.Data.Truncated {
		data["truncated"] = true
	}
	if r.Data.InputTokens > 0 || r.Data.OutputTokens > 0 {
		data["usage"] = map[string]any{
			"input_tokens":  r.Data.InputTokens,
			"output_tokens": r.Data.OutputTokens,
			"cost_usd":      r.Data.CostUSD,
		}
	}
	return map[string]any{"data": data}
}

// Handle is a live agent.
type Handle interface {
	Run(ctx context.Context, input string) (*Result, error)
}

// Factory creates agents from a prompt and the names of the tools they may
// call.
type Factory interface {
	CreateAgent(ctx context.Context, prompt string, toolNames []string) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, prompt string, toolNames []string) (Handle, error)

// CreateAgent implements Factory.
func (f FactoryFunc) CreateAgent(ctx context.Context, prompt string, toolNames []string) (Handle, error) {
	return f(ctx, prompt, toolNames)
}

// BuildPrompt appends the instruction requiring replies to match the
// declared output shape. A nil shape leaves the prompt unchanged.
func BuildPrompt(prompt string, output any) string {
	if output == nil {
		return prompt
	}

	var shape string
	if s, ok := output.(string); ok {
		shape = s
	} else {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return prompt
		}
		shape = string(data)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(prompt, "\n"))
	sb.WriteString("\n\nReturn your answer as JSON with exactly this shape and nothing else, no prose and no code fences:\n")
	sb.WriteString(shape)
	return sb.String()
}

// EchoFactory creates inert agents that reply with their input. It never
// calls a model and is used for dry runs and tests.
type EchoFactory struct{}

// CreateAgent implements Factory.
func (EchoFactory) CreateAgent(_ context.Context, prompt string, toolNames []string) (Handle, error) {
	return &EchoAgent{Prompt: prompt, Tools: append([]string(nil), toolNames...)}, nil
}

// EchoAgent replies with its input.
type EchoAgent struct {
	Prompt string
	Tools  []string
}

// Run implements Handle.
func (a *EchoAgent) Run(ctx context.Context, input string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Data: ResultData{Result: input}}, nil
}
