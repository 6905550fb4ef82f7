// Package llm provides the language model backend used by workflow agents
// and by workflow generation.
//
// # Anthropic Backend
//
//	model := llm.NewAnthropic()  // Uses ANTHROPIC_API_KEY env var
//
//	// Or with explicit settings
//	model := llm.NewAnthropic(
//	    llm.WithAPIKey("sk-..."),
//	    llm.WithModel("claude-opus-4-20250514"),
//	)
//
// # Tool Calls
//
// A response may carry ToolCalls instead of final text. The caller executes
// them and continues the conversation with an assistant message holding the
// calls followed by a user message holding the ToolResults:
//
//	resp, _ := model.Generate(ctx, messages, schemas)
//	messages = append(messages,
//	    llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls},
//	    llm.Message{Role: llm.RoleUser, ToolResults: results},
//	)
//
// # Rate Limiting
//
// Responses with status 429 or 529 are retried, honouring retry-after, up to
// five times by default (WithRetries).
package llm
