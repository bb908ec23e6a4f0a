package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolgateway/composition-core/gatewaytest"
	"github.com/toolgateway/composition-core/hooks"
	"github.com/toolgateway/composition-core/registry"
)

// compileDoc parses, validates, and compiles a registry document, failing
// the test on any error.
func compileDoc(t *testing.T, doc string) *registry.Store {
	t.Helper()
	reg, err := registry.ParseDocument([]byte(doc))
	require.NoError(t, err)
	result := registry.Validate(reg)
	require.Empty(t, result.Errors)
	cr, err := registry.Compile(reg, "test")
	require.NoError(t, err)
	return registry.NewStore(cr)
}

func parseDoc(doc string) (*registry.Registry, error) {
	return registry.ParseDocument([]byte(doc))
}

func compileReg(reg *registry.Registry) (*registry.CompiledRegistry, error) {
	return registry.Compile(reg, "test")
}

// sourceTool builds a compiled source tool directly, for dispatch-level
// tests that don't need a full document round trip.
func sourceTool(name, server, backend string) *registry.CompiledTool {
	return &registry.CompiledTool{
		Name: name,
		Source: &registry.CompiledSource{
			Target: registry.ResolvedTarget{Server: server, BackendTool: backend},
		},
	}
}

// testStore wraps compiled tools into a snapshot store.
func testStore(tools ...*registry.CompiledTool) *registry.Store {
	cr := &registry.CompiledRegistry{
		Revision:      "test",
		ToolsByName:   map[string]*registry.CompiledTool{},
		ToolsBySource: map[registry.ResolvedTarget][]string{},
		Agents:        map[string]*registry.AgentDefinition{},
	}
	for _, ct := range tools {
		cr.ToolsByName[ct.Name] = ct
		if ct.IsSource() {
			rt := ct.Source.Target
			cr.ToolsBySource[rt] = append(cr.ToolsBySource[rt], ct.Name)
		}
	}
	return registry.NewStore(cr)
}

// newTestExecutor pairs a store with a fake invoker.
func newTestExecutor(store *registry.Store, inv *gatewaytest.FakeInvoker, opts ...Option) *Executor {
	return New(store, inv, opts...)
}

// rootEC builds an ExecutionContext against store's snapshot for
// dispatch-level tests.
func rootEC(store *registry.Store, inv ToolInvoker, input any) *ExecutionContext {
	return NewExecutionContext(input, store.Load(), inv, nil, hooks.CallerIdentity{Source: hooks.SourceAnonymous})
}
