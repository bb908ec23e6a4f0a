package executor

import (
	"context"
	"sync"

	"github.com/toolgateway/composition-core/hooks"
	"github.com/toolgateway/composition-core/registry"
	"github.com/toolgateway/composition-core/tracing"
)

// ToolInvoker carries a resolved backend call out of the core. The executor resolves virtual names to their
// concrete (server, backend tool) target before invoking, so the invoker
// receives the pair it must dispatch to; server is empty for agent calls,
// where the invoker resolves the agent name itself. args/result are decoded
// JSON values (map[string]any, []any, or a scalar) rather than raw bytes,
// since every pattern executor works on decoded values.
type ToolInvoker interface {
	Invoke(ctx context.Context, server, tool string, args any) (any, error)
}

// ExecutionContext is the per-in-flight-composition state:
// immutable input, a step-results map, the registry snapshot, the invoker,
// optional tracing, and caller identity. Its lifetime is one composition
// call; Child creates the fresh context a nested pattern/composition gets,
// sharing Registry/Invoker/Tracing/Caller but starting a new, empty
// StepResults map and a new Input.
type ExecutionContext struct {
	Input    any
	Registry *registry.CompiledRegistry
	Invoker  ToolInvoker
	Tracing  *tracing.Context
	Caller   hooks.CallerIdentity

	mu          sync.Mutex
	stepResults map[string]any
}

// NewExecutionContext constructs a root ExecutionContext for a composition
// call.
func NewExecutionContext(input any, reg *registry.CompiledRegistry, invoker ToolInvoker, tc *tracing.Context, caller hooks.CallerIdentity) *ExecutionContext {
	return &ExecutionContext{
		Input:       input,
		Registry:    reg,
		Invoker:     invoker,
		Tracing:     tc,
		Caller:      caller,
		stepResults: map[string]any{},
	}
}

// Child returns a fresh ExecutionContext for a nested pattern/composition
// invocation with its own input and step-results map, sharing everything
// else.
func (ec *ExecutionContext) Child(input any) *ExecutionContext {
	return NewExecutionContext(input, ec.Registry, ec.Invoker, ec.Tracing, ec.Caller)
}

// SetStep records step id's result. Safe for concurrent use so that
// parallel pipeline waves can write distinct step ids
// concurrently.
func (ec *ExecutionContext) SetStep(id string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.stepResults == nil {
		ec.stepResults = map[string]any{}
	}
	ec.stepResults[id] = value
}

// GetStep returns step id's recorded result, if any.
func (ec *ExecutionContext) GetStep(id string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.stepResults[id]
	return v, ok
}
