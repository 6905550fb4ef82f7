package vegaflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/llm"
	"github.com/everydev1618/vegaflow/tools"
)

const generateSystemPrompt = `You design workflows for an event-driven workflow engine. You reply with a single JSON document and nothing else.

The document has these fields:
- "id": starts with a letter, then letters, digits or underscores
- "name", "description": short human-readable text
- "version": like "v1" or "v1.0"
- "tools": names of tools the handlers call, chosen from the available tools
- "agents": LLM agents, each {"name", "description", "prompt", "output", "tools"} where "output" is the JSON shape the agent must reply with
- "events": every event type, each {"type", "data"}; UPPER_SNAKE_CASE; must include "WORKFLOW_START" and "WORKFLOW_STOP"
- "steps": one per event type except WORKFLOW_STOP, each {"event", "handle"}

A "handle" is the source of one JavaScript arrow function:
  async (event, context) => { ...; return { type: "NEXT_EVENT", data: { ... } }; }
- event.data holds the event payload; WORKFLOW_START carries the caller's input
- context is an object shared by every step of the run
- a tool is called as: await tool_name(input)
- an agent is called as: await agent_name.run(text), the reply text is in result.data.result
- the last step returns { type: "WORKFLOW_STOP", data: <final output> }
- nothing else is in scope: no require, no fetch, no timers`

// GenerateDSL asks the model for a workflow implementing description. The
// candidate is returned only if it passes validation.
func (s *Service) GenerateDSL(ctx context.Context, description string, inputShape, outputShape any) (*dsl.Workflow, error) {
	if s.model == nil {
		return nil, ErrNoLLM
	}

	resp, err := s.model.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: generateSystemPrompt},
		{Role: llm.RoleUser, Content: s.buildGeneratePrompt(description, inputShape, outputShape)},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("generate workflow: %w", err)
	}

	doc, err := dsl.Parse([]byte(extractJSON(resp.Content)))
	if err != nil {
		return nil, fmt.Errorf("generated workflow is invalid: %w", err)
	}
	s.logger.Info("workflow generated", "workflow", doc.ID, "steps", len(doc.Steps),
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	return doc, nil
}

func (s *Service) buildGeneratePrompt(description string, inputShape, outputShape any) string {
	var b strings.Builder
	b.WriteString("Build a workflow that does the following:\n")
	b.WriteString(description)
	b.WriteString("\n")

	if inputShape != nil {
		fmt.Fprintf(&b, "\nThe WORKFLOW_START data has this shape:\n%s\n", shape(inputShape))
	}
	if outputShape != nil {
		fmt.Fprintf(&b, "\nThe WORKFLOW_STOP data must have this shape:\n%s\n", shape(outputShape))
	}

	if lister, ok := s.catalog.(tools.Lister); ok {
		if list := lister.List(); len(list) > 0 {
			b.WriteString("\nAvailable tools:\n")
			for _, t := range list {
				fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
			}
		}
	}
	return b.String()
}

func shape(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
