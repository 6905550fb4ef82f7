package llm

import "context"

// LLM is the interface for language model backends.
type LLM interface {
	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, messages []Message, tools []ToolSchema) (*LLMResponse, error)
}

// Message represents a conversation message.
type Message struct {
	Role    Role
	Content string

	// ToolCalls are the calls an assistant message asked for.
	ToolCalls []ToolCall

	// ToolResults answer the calls of the preceding assistant message.
	ToolResults []ToolResult
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// LLMResponse is the response from an LLM call.
type LLMResponse struct {
	// Content is the text response
	Content string

	// ToolCalls are any tool calls the model wants to make
	ToolCalls []ToolCall

	// Token counts
	InputTokens  int
	OutputTokens int

	// Cost in USD
	CostUSD float64

	// Latency in milliseconds
	LatencyMs int64

	StopReason StopReason
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult carries the output of one tool call back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// StopReason indicates why the LLM stopped generating.
type StopReason string

const (
	StopReasonEnd     StopReason = "end_turn"
	StopReasonToolUse StopReason = "tool_use"
	StopReasonLength  StopReason = "max_tokens"
)

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Model pricing for cost calculation (USD per 1M tokens)
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"claude-sonnet-4-20250514":   {3.00, 15.00},
	"claude-opus-4-20250514":     {15.00, 75.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
}

// CalculateCost returns the USD cost of a request. Unknown models are priced
// as the default model.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = modelPricing[DefaultAnthropicModel]
	}
	return float64(inputTokens)/1_000_000*pricing.InputPer1M +
		float64(outputTokens)/1_000_000*pricing.OutputPer1M
}
