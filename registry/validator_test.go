package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestDoc(t *testing.T, doc string) *Registry {
	t.Helper()
	reg, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	return reg
}

func ruleNames(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Rule
	}
	return out
}

func TestValidateCleanRegistry(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [
			{"name": "fetch", "server": "srv", "version": "1.2.0"},
			{"name": "wrapped", "server": "srv", "originalName": "fetch",
				"depends": [{"type": "tool", "name": "fetch", "version": ">=1.0.0"}]}
		]
	}`)
	result := Validate(reg)
	assert.True(t, result.OK())
	assert.Empty(t, result.Warnings)
}

func TestValidateDuplicateNames(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "dup", "url": "https://srv.example", "transport": "sse"}],
		"tools": [
			{"name": "dup", "server": "dup"},
			{"name": "t", "server": "dup"},
			{"name": "t", "server": "dup"}
		]
	}`)
	result := Validate(reg)
	require.False(t, result.OK())
	rules := ruleNames(result.Errors)
	assert.Contains(t, rules, "duplicate-name")
	// Both the cross-kind collision (tool "dup" vs server "dup") and the
	// tool/tool collision are reported in one pass.
	assert.GreaterOrEqual(t, len(result.Errors), 2)
}

func TestValidateUnresolvedDependency(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [{"name": "t", "server": "srv",
			"depends": [
				{"type": "tool", "name": "ghost"},
				{"type": "schema", "name": "missing_schema"},
				{"type": "server", "name": "unknown_server"}
			]}]
	}`)
	result := Validate(reg)
	require.Len(t, result.Errors, 3)
	for _, e := range result.Errors {
		assert.Equal(t, "unresolved-dependency", e.Rule)
	}
}

func TestValidateDependencyCycle(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [
			{"name": "a", "server": "srv", "depends": [{"type": "tool", "name": "b"}]},
			{"name": "b", "server": "srv", "depends": [{"type": "tool", "name": "c"}]},
			{"name": "c", "server": "srv", "depends": [{"type": "tool", "name": "a"}]}
		]
	}`)
	result := Validate(reg)
	require.False(t, result.OK())
	found := false
	for _, e := range result.Errors {
		if e.Rule == "dependency-cycle" {
			found = true
			assert.Contains(t, e.Msg, "->")
		}
	}
	assert.True(t, found)
}

func TestValidateSelfDependencyIsCycle(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [{"name": "selfish", "server": "srv",
			"depends": [{"type": "tool", "name": "selfish"}]}]
	}`)
	result := Validate(reg)
	require.False(t, result.OK())
	assert.Contains(t, ruleNames(result.Errors), "dependency-cycle")
}

func TestValidateUnresolvedSchemaRef(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"schemas": {"Known": {"type": "object"}},
		"tools": [
			{"name": "good", "server": "srv",
				"inputSchema": {"$ref": "#/schemas/Known"}},
			{"name": "bad", "server": "srv",
				"inputSchema": {"properties": {"x": {"$ref": "#/schemas/Unknown"}}}}
		]
	}`)
	result := Validate(reg)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "unresolved-ref", result.Errors[0].Rule)
	assert.Equal(t, "bad", result.Errors[0].Item)
}

func TestValidateVersionConstraints(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [
			{"name": "target", "server": "srv", "version": "1.2.0"},
			{"name": "ok", "server": "srv", "depends": [{"type": "tool", "name": "target", "version": ">=1.0.0"}]},
			{"name": "too_new", "server": "srv", "depends": [{"type": "tool", "name": "target", "version": ">=2.0.0"}]},
			{"name": "no_version", "server": "srv", "depends": [{"type": "server", "name": "srv", "version": ">=1.0.0"}]}
		]
	}`)
	result := Validate(reg)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, "version-constraint", e.Rule)
	}
}

func TestValidateDeprecationWarnsNotErrors(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "old", "url": "https://old.example", "transport": "sse",
			"deprecated": "use new-server instead"}],
		"tools": [{"name": "t", "server": "old"}]
	}`)
	result := Validate(reg)
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "t", result.Warnings[0].Tool)
	assert.Contains(t, result.Warnings[0].Msg, "new-server")
}

// P1: validation reports every error in one pass without panicking, even on
// a registry broken in several independent ways.
func TestValidateReportsAllErrorsInOnePass(t *testing.T) {
	t.Parallel()

	reg := parseTestDoc(t, `{
		"schemaVersion": "2.0",
		"servers": [{"name": "srv", "url": "https://srv.example", "transport": "sse"}],
		"tools": [
			{"name": "dup", "server": "srv"},
			{"name": "dup", "server": "srv"},
			{"name": "loop", "server": "srv", "depends": [{"type": "tool", "name": "loop"}]},
			{"name": "dangling", "server": "srv", "depends": [{"type": "tool", "name": "ghost"}]}
		]
	}`)
	result := Validate(reg)
	rules := ruleNames(result.Errors)
	assert.Contains(t, rules, "duplicate-name")
	assert.Contains(t, rules, "dependency-cycle")
	assert.Contains(t, rules, "unresolved-dependency")
}
