package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgateway/composition-core/registry"
)

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	name      string
	tools     []Tool
	prompts   []Prompt
	resources []Resource
	templates []ResourceTemplate
	init      InitializeResult
	err       error
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) ListTools(context.Context) ([]Tool, error) {
	return f.tools, f.err
}
func (f *fakeBackend) ListPrompts(context.Context) ([]Prompt, error) {
	return f.prompts, f.err
}
func (f *fakeBackend) ListResources(context.Context) ([]Resource, error) {
	return f.resources, f.err
}
func (f *fakeBackend) ListResourceTemplates(context.Context) ([]ResourceTemplate, error) {
	return f.templates, f.err
}
func (f *fakeBackend) Initialize(context.Context) (InitializeResult, error) {
	return f.init, f.err
}

func compiledStore(t *testing.T, doc string) *registry.Store {
	t.Helper()
	reg, err := registry.ParseDocument([]byte(doc))
	require.NoError(t, err)
	cr, err := registry.Compile(reg, "test")
	require.NoError(t, err)
	return registry.NewStore(cr)
}

func emptyStore() *registry.Store { return registry.NewStore(nil) }

func toolNames(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, tl := range tools {
		out[i] = tl.Name
	}
	return out
}

func TestListToolsSingleBackendNoPrefix(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{name: "web", tools: []Tool{{Name: "fetch"}, {Name: "scrape"}}}
	r := New([]Backend{b}, emptyStore(), ServerInfo{Name: "gateway"})

	res, err := r.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fetch", "scrape"}, toolNames(res.Tools))
	assert.Nil(t, res.NextCursor)
}

func TestListToolsMultiplexPrefixes(t *testing.T) {
	t.Parallel()

	b1 := &fakeBackend{name: "web", tools: []Tool{{Name: "fetch"}}}
	b2 := &fakeBackend{name: "db", tools: []Tool{{Name: "query"}}}
	r := New([]Backend{b1, b2}, emptyStore(), ServerInfo{Name: "gateway"})

	res, err := r.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web_fetch", "db_query"}, toolNames(res.Tools))
}

func TestListToolsVirtualizationReplacesBackendTool(t *testing.T) {
	t.Parallel()

	store := compiledStore(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "web", "url": "https://w.example", "transport": "sse"}],
		"tools": [
			{"name": "fetch_page", "server": "web", "originalName": "fetch",
				"description": "virtualized fetch", "hideFields": ["api_key"]}
		]
	}`)
	b := &fakeBackend{name: "web", tools: []Tool{
		{Name: "fetch", Description: "raw fetch", InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string"},
				"api_key": map[string]any{"type": "string"},
			},
			"required": []any{"url", "api_key"},
		}},
		{Name: "untouched"},
	}}
	r := New([]Backend{b}, store, ServerInfo{Name: "gateway"})

	res, err := r.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fetch_page", "untouched"}, toolNames(res.Tools))

	var virtual Tool
	for _, tl := range res.Tools {
		if tl.Name == "fetch_page" {
			virtual = tl
		}
	}
	assert.Equal(t, "virtualized fetch", virtual.Description)
	props := virtual.InputSchema["properties"].(map[string]any)
	assert.Contains(t, props, "url")
	assert.NotContains(t, props, "api_key")
	assert.Equal(t, []any{"url"}, virtual.InputSchema["required"])
}

func TestListToolsPolicyFilter(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{name: "web", tools: []Tool{{Name: "allowed"}, {Name: "denied"}}}
	r := New([]Backend{b}, emptyStore(), ServerInfo{Name: "gateway"},
		WithPolicyFilter(func(kind ItemKind, name string) bool {
			return name != "denied"
		}))

	res, err := r.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"allowed"}, toolNames(res.Tools))
}

func TestListToolsUnhealthyBackendDropped(t *testing.T) {
	t.Parallel()

	good := &fakeBackend{name: "good", tools: []Tool{{Name: "works"}}}
	bad := &fakeBackend{name: "bad", err: errors.New("connection refused")}
	r := New([]Backend{good, bad}, emptyStore(), ServerInfo{Name: "gateway"})

	res, err := r.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"good_works"}, toolNames(res.Tools))
}

func TestListResourcesURIsNotPrefixed(t *testing.T) {
	t.Parallel()

	b1 := &fakeBackend{name: "files", resources: []Resource{{URI: "file:///a.txt", Name: "a"}}}
	b2 := &fakeBackend{name: "docs", resources: []Resource{{URI: "doc://b", Name: "b"}}}
	r := New([]Backend{b1, b2}, emptyStore(), ServerInfo{Name: "gateway"})

	res, err := r.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Resources, 2)
	uris := []string{res.Resources[0].URI, res.Resources[1].URI}
	assert.ElementsMatch(t, []string{"file:///a.txt", "doc://b"}, uris)
	// Display names carry the prefix, URIs never do.
	names := []string{res.Resources[0].Name, res.Resources[1].Name}
	assert.ElementsMatch(t, []string{"files_a", "docs_b"}, names)
}

func TestInitializeMerge(t *testing.T) {
	t.Parallel()

	b1 := &fakeBackend{name: "one", init: InitializeResult{
		ProtocolVersion: "2025-03-26",
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      ServerInfo{Name: "one"},
	}}
	b2 := &fakeBackend{name: "two", init: InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    map[string]any{"prompts": map[string]any{}},
		ServerInfo:      ServerInfo{Name: "two"},
	}}
	r := New([]Backend{b1, b2}, emptyStore(), ServerInfo{Name: "gateway", Version: "1.0.0"})

	res, err := r.Initialize(context.Background())
	require.NoError(t, err)
	// Lowest protocol version across backends.
	assert.Equal(t, "2024-11-05", res.ProtocolVersion)
	// Union of capabilities.
	assert.Contains(t, res.Capabilities, "tools")
	assert.Contains(t, res.Capabilities, "prompts")
	// The gateway's own server info.
	assert.Equal(t, "gateway", res.ServerInfo.Name)
}

func TestRouteSingle(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{name: "only"}
	r := New([]Backend{b}, emptyStore(), ServerInfo{Name: "gateway"})
	got, err := r.RouteSingle()
	require.NoError(t, err)
	assert.Equal(t, "only", got.Name())

	multi := New([]Backend{b, &fakeBackend{name: "second"}}, emptyStore(), ServerInfo{Name: "gateway"})
	_, err = multi.RouteSingle()
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestListPromptsMultiplexPrefixes(t *testing.T) {
	t.Parallel()

	b1 := &fakeBackend{name: "one", prompts: []Prompt{{Name: "summarize"}}}
	b2 := &fakeBackend{name: "two", prompts: []Prompt{{Name: "translate"}}}
	r := New([]Backend{b1, b2}, emptyStore(), ServerInfo{Name: "gateway"})

	res, err := r.ListPrompts(context.Background())
	require.NoError(t, err)
	names := []string{res.Prompts[0].Name, res.Prompts[1].Name}
	assert.ElementsMatch(t, []string{"one_summarize", "two_translate"}, names)
}
