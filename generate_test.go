package vegaflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/vegaflow/dsl"
	"github.com/everydev1618/vegaflow/llm"
	"github.com/everydev1618/vegaflow/tools"
)

type cannedLLM struct {
	reply    string
	err      error
	messages []llm.Message
}

func (c *cannedLLM) Generate(_ context.Context, messages []llm.Message, _ []llm.ToolSchema) (*llm.LLMResponse, error) {
	c.messages = messages
	if c.err != nil {
		return nil, c.err
	}
	return &llm.LLMResponse{Content: c.reply}, nil
}

const generatedDoc = `{
  "id": "greeter",
  "name": "Greeter",
  "description": "Greets the caller",
  "version": "v1",
  "tools": [],
  "events": [{"type": "WORKFLOW_START"}, {"type": "WORKFLOW_STOP"}],
  "steps": [{"event": "WORKFLOW_START", "handle": "async (event) => ({ type: \"WORKFLOW_STOP\", data: { greeting: 'hi ' + event.data.name } })"}]
}`

func TestGenerateDSL(t *testing.T) {
	model := &cannedLLM{reply: "Here you go:\n```json\n" + generatedDoc + "\n```"}
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("get_current_time", "Current time", func(context.Context, any) (any, error) { return "now", nil }))

	svc := New(WithLLM(model), WithCatalog(reg))
	doc, err := svc.GenerateDSL(context.Background(), "greet the caller by name",
		map[string]any{"name": "string"}, map[string]any{"greeting": "string"})
	require.NoError(t, err)
	assert.Equal(t, "greeter", doc.ID)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llm.RoleSystem, model.messages[0].Role)
	prompt := model.messages[1].Content
	assert.Contains(t, prompt, "greet the caller by name")
	assert.Contains(t, prompt, `"greeting": "string"`)
	assert.Contains(t, prompt, "- get_current_time: Current time")

	// The generated document runs.
	res, err := svc.CompileAndRun(context.Background(), doc, map[string]any{"name": "Ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi Ada", res.Output["greeting"])
}

func TestGenerateDSLRejectsInvalid(t *testing.T) {
	model := &cannedLLM{reply: `{"id": "x", "name": "x", "description": "x", "version": "v1", "tools": [], "events": [{"type": "WORKFLOW_START"}], "steps": []}`}

	_, err := New(WithLLM(model)).GenerateDSL(context.Background(), "anything", nil, nil)
	var verr *dsl.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "DSL must have at least 2 events")
}

func TestGenerateDSLErrors(t *testing.T) {
	_, err := New().GenerateDSL(context.Background(), "x", nil, nil)
	assert.ErrorIs(t, err, ErrNoLLM)

	boom := errors.New("overloaded")
	_, err = New(WithLLM(&cannedLLM{err: boom})).GenerateDSL(context.Background(), "x", nil, nil)
	assert.ErrorIs(t, err, boom)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure!\n{\"a\":{\"b\":2}}\nEnjoy.", `{"a":{"b":2}}`},
		{"no json", "no json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSON(tt.in))
	}
}
