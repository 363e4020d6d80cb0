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

func staticContents(text string) ResourceHandler {
	return func(ctx context.Context, _ *sessions.Session, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
		return TextContents(uri, "text/plain", text), nil
	}
}

func TestResourcesContainerRegisterValidation(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	assert.ErrorContains(t, c.Register("", ResourceConfig{URI: "res://a"}, staticContents("x")), "requires a name")
	assert.ErrorContains(t, c.Register("docs/a", ResourceConfig{URI: "res://a"}, nil), "requires a handler")
	assert.ErrorContains(t, c.Register("docs/a", ResourceConfig{}, staticContents("x")), "exactly one")
	assert.ErrorContains(t, c.Register("docs/a", ResourceConfig{URI: "res://a", Template: "res://{id}"}, staticContents("x")), "exactly one")
	assert.ErrorContains(t, c.Register("docs/a", ResourceConfig{Template: "res://{"}, staticContents("x")), "unterminated")
	assert.Equal(t, 0, c.Len())
}

func TestResourcesContainerListFor(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	require.NoError(t, c.Register("readme", ResourceConfig{URI: "res://readme", MimeType: "text/markdown"}, staticContents("hi")))
	require.NoError(t, c.Register("docs/guide", ResourceConfig{URI: "res://guide"}, staticContents("hi")))
	require.NoError(t, c.Register("other/notes", ResourceConfig{URI: "res://notes"}, staticContents("hi")))

	all := c.ListFor(nil, true)
	require.Len(t, all, 3)
	assert.Equal(t, "readme", all[0].Name)
	assert.Equal(t, "res://readme", all[0].URI)

	scoped := c.ListFor(permission.Path{"docs"}, true)
	require.Len(t, scoped, 2)
	assert.Equal(t, "res://readme", scoped[0].URI)
	assert.Equal(t, "res://guide", scoped[1].URI)
}

func TestResourcesContainerLastWriteWinsByURI(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	require.NoError(t, c.Register("docs/a", ResourceConfig{URI: "res://a", Description: "first"}, staticContents("1")))
	require.NoError(t, c.Register("docs/b", ResourceConfig{URI: "res://b"}, staticContents("2")))
	require.NoError(t, c.Register("docs/a2", ResourceConfig{URI: "res://a", Description: "second"}, staticContents("3")))

	all := c.ListFor(nil, true)
	require.Len(t, all, 2)
	assert.Equal(t, "res://a", all[0].URI)
	assert.Equal(t, "second", all[0].Description)

	resolved, ok := c.Resolve("res://a")
	require.True(t, ok)
	contents, err := resolved.Handler(context.Background(), nil, "res://a", nil)
	require.NoError(t, err)
	assert.Equal(t, "3", contents[0].Text)
}

func TestResourcesContainerResolvePrefersConcrete(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	require.NoError(t, c.Register("greet/template", ResourceConfig{Template: "greeting://{name}"}, staticContents("templated")))
	require.NoError(t, c.Register("greet/alice", ResourceConfig{URI: "greeting://alice"}, staticContents("concrete")))

	resolved, ok := c.Resolve("greeting://alice")
	require.True(t, ok)
	assert.Nil(t, resolved.Params)
	contents, err := resolved.Handler(context.Background(), nil, "greeting://alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "concrete", contents[0].Text)

	resolved, ok = c.Resolve("greeting://bob")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"name": "bob"}, resolved.Params)
	assert.Equal(t, permission.Path{"greet"}, resolved.Group)

	_, ok = c.Resolve("unknown://x")
	assert.False(t, ok)
}

func TestResourcesContainerTemplates(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	require.NoError(t, c.Register("db/rows", ResourceConfig{Template: "db://{table}/{id}"}, staticContents("row")))
	require.NoError(t, c.Register("other/things", ResourceConfig{Template: "thing://{id}"}, staticContents("thing")))

	all := c.ListTemplatesFor(nil, true)
	require.Len(t, all, 2)
	assert.Equal(t, "db://{table}/{id}", all[0].URITemplate)
	assert.Equal(t, "rows", all[0].Name)

	scoped := c.ListTemplatesFor(permission.Path{"db"}, true)
	require.Len(t, scoped, 1)
	assert.Equal(t, "db://{table}/{id}", scoped[0].URITemplate)
}

func TestResourcesContainerUnregister(t *testing.T) {
	t.Parallel()

	c := NewResourcesContainer()
	require.NoError(t, c.Register("docs/a", ResourceConfig{URI: "res://a"}, staticContents("1")))

	assert.True(t, c.Unregister("res://a"))
	assert.False(t, c.Unregister("res://a"))
	assert.Empty(t, c.ListFor(nil, true))
	_, ok := c.Resolve("res://a")
	assert.False(t, ok)
}
