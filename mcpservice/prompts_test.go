package mcpservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

func promptHandler(text string) PromptHandler {
	return func(ctx context.Context, _ *sessions.Session, args map[string]string) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []mcp.PromptMessage{{
				Role:    mcp.RoleUser,
				Content: []mcp.ContentBlock{{Type: "text", Text: text}},
			}},
		}, nil
	}
}

func TestPromptsContainerRegisterValidation(t *testing.T) {
	t.Parallel()

	c := NewPromptsContainer()
	assert.ErrorContains(t, c.Register("", PromptConfig{}, promptHandler("x")), "requires a name")
	assert.ErrorContains(t, c.Register("p", PromptConfig{}, nil), "requires a handler")
	assert.ErrorContains(t, c.Register("p", PromptConfig{
		Schema: &mcp.ToolInputSchema{Type: "string"},
	}, promptHandler("x")), "must be object")
}

func TestPromptsContainerDerivesArguments(t *testing.T) {
	t.Parallel()

	c := NewPromptsContainer()
	require.NoError(t, c.Register("writing/summarize", PromptConfig{
		Description: "summarizes text",
		Schema: &mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]mcp.SchemaProperty{
				"topic": {Type: "string", Description: "what to cover"},
				"tone":  {Type: "string"},
			},
			Required: []string{"topic"},
		},
	}, promptHandler("ok")))

	got, ok := c.Get("writing_summarize")
	require.True(t, ok)
	assert.Equal(t, permission.Path{"writing"}, got.Group)

	// Arguments are sorted by name for deterministic listings.
	require.Len(t, got.Descriptor.Arguments, 2)
	assert.Equal(t, "tone", got.Descriptor.Arguments[0].Name)
	assert.False(t, got.Descriptor.Arguments[0].Required)
	assert.Equal(t, "topic", got.Descriptor.Arguments[1].Name)
	assert.True(t, got.Descriptor.Arguments[1].Required)
	assert.Equal(t, "what to cover", got.Descriptor.Arguments[1].Description)
}

func TestPromptsContainerListForFiltersByScope(t *testing.T) {
	t.Parallel()

	c := NewPromptsContainer()
	require.NoError(t, c.Register("greet", PromptConfig{}, promptHandler("hi")))
	require.NoError(t, c.Register("writing/summarize", PromptConfig{}, promptHandler("x")))
	require.NoError(t, c.Register("other/brainstorm", PromptConfig{}, promptHandler("x")))

	all := c.ListFor(nil, true)
	require.Len(t, all, 3)
	assert.Equal(t, "greet", all[0].Name)
	assert.Equal(t, "writing_summarize", all[1].Name)

	scoped := c.ListFor(permission.Path{"writing"}, true)
	require.Len(t, scoped, 2)
	assert.Equal(t, "greet", scoped[0].Name)
	assert.Equal(t, "writing_summarize", scoped[1].Name)
}

func TestPromptsContainerLastWriteWinsKeepsSlot(t *testing.T) {
	t.Parallel()

	c := NewPromptsContainer()
	require.NoError(t, c.Register("a", PromptConfig{Description: "first"}, promptHandler("1")))
	require.NoError(t, c.Register("b", PromptConfig{}, promptHandler("2")))
	require.NoError(t, c.Register("a", PromptConfig{Description: "second"}, promptHandler("3")))

	all := c.ListFor(nil, true)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "second", all[0].Description)

	got, ok := c.Get("a")
	require.True(t, ok)
	res, err := got.Handler(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", res.Messages[0].Content[0].Text)
}
