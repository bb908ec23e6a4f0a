package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/toolgateway/composition-core/hooks"
	"github.com/toolgateway/composition-core/patterns"
	"github.com/toolgateway/composition-core/registry"
	"github.com/toolgateway/composition-core/statestore"
	"github.com/toolgateway/composition-core/statestore/memory"
	"github.com/toolgateway/composition-core/telemetry"
	"github.com/toolgateway/composition-core/tracing"
)

// Executor is the composition dispatch engine: given a compiled tool name
// and input, it either calls through to a backend (source tool) or walks a
// pattern tree (composition), returning the decoded JSON result. The
// Logger/Tracer pair defaults to no-ops so callers never need a nil check.
type Executor struct {
	store   *registry.Store
	invoker ToolInvoker
	states  statestore.Store
	log     telemetry.Logger
	tracer  telemetry.Tracer
	now     func() time.Time

	// locks serializes read-modify-write cycles on per-name breaker and
	// per-key throttle state.
	locks sync.Map // string -> *sync.Mutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithStateStore sets the StateStore backing Cache/Idempotent/CircuitBreaker/
// Throttle. Without one, every stateful pattern runs against an in-memory
// store created internally.
func WithStateStore(s statestore.Store) Option {
	return func(e *Executor) { e.states = s }
}

// WithLogger sets the structured logger. Defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithTracer sets the span tracer. Defaults to a no-op.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithClock overrides the wall clock used by Cache/CircuitBreaker/Throttle
// state arithmetic. Tests use this for deterministic TTL and window math.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New builds an Executor reading from store and invoking backends through
// invoker.
func New(store *registry.Store, invoker ToolInvoker, opts ...Option) *Executor {
	e := &Executor{
		store:   store,
		invoker: invoker,
		log:     telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.states == nil {
		e.states = memory.New()
	}
	return e
}

// lockFor returns the mutex serializing state updates for key, creating it
// on first use.
func (e *Executor) lockFor(key string) *sync.Mutex {
	if mu, ok := e.locks.Load(key); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Execute runs tool name against input with tracing off and an anonymous
// caller.
func (e *Executor) Execute(ctx context.Context, name string, input any) (any, error) {
	return e.ExecuteAs(ctx, name, input, hooks.CallerIdentity{Source: hooks.SourceAnonymous}, nil)
}

// ExecuteWithTracing is Execute with an explicit tracing.Context attached
// to every step span.
func (e *Executor) ExecuteWithTracing(ctx context.Context, name string, input any, tc *tracing.Context) (any, error) {
	return e.ExecuteAs(ctx, name, input, hooks.CallerIdentity{Source: hooks.SourceAnonymous}, tc)
}

// ExecuteAs runs tool name as caller, with optional tracing.
func (e *Executor) ExecuteAs(ctx context.Context, name string, input any, caller hooks.CallerIdentity, tc *tracing.Context) (any, error) {
	reg := e.store.Load()
	if reg == nil {
		return nil, errToolNotFound(name)
	}
	tool, ok := reg.Tool(name)
	if !ok {
		return nil, errToolNotFound(name)
	}
	if tool.CompiledInput != nil {
		if err := tool.CompiledInput.Validate(input); err != nil {
			return nil, errInvalidInput(name, err.Error())
		}
	}
	ec := NewExecutionContext(input, reg, e.invoker, tc, caller)
	return e.executeCompiledTool(ctx, ec, tool)
}

func (e *Executor) executeCompiledTool(ctx context.Context, ec *ExecutionContext, tool *registry.CompiledTool) (any, error) {
	if tool.IsSource() {
		return e.executeSource(ctx, ec, tool.Name, tool.Source)
	}
	return e.executeComposition(ctx, ec, tool.Name, tool.Composition)
}

// executeSource injects defaults (with ${ENV} substitution), strips hidden
// fields, invokes the backend, and applies the output transform.
func (e *Executor) executeSource(ctx context.Context, ec *ExecutionContext, name string, src *registry.CompiledSource) (any, error) {
	ctx, span := ec.Tracing.StartStep(ctx, e.tracer, name, "source", ec.Input)
	defer span.End()

	args, err := buildSourceArgs(ec.Input, src)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out, err := ec.Invoker.Invoke(ctx, src.Target.Server, src.Target.BackendTool, args)
	if err != nil {
		wrapped := errToolExecutionFailed(name, err)
		span.RecordError(wrapped)
		return nil, wrapped
	}

	out, err = applyOutputTransform(out, src.OutputTransform)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ec.Tracing.RecordOutput(span, out)
	return out, nil
}

func buildSourceArgs(input any, src *registry.CompiledSource) (any, error) {
	m, ok := input.(map[string]any)
	if !ok {
		if input == nil {
			m = map[string]any{}
		} else if len(src.MergedDefaults) == 0 && len(src.MergedHide) == 0 {
			// Patterns may thread non-object values (array elements, claim
			// check references) into a plain source call; only tools that
			// need to merge into the args require an object.
			return input, nil
		} else {
			return nil, errType("object", fmt.Sprintf("%T", input))
		}
	}
	merged := make(map[string]any, len(m)+len(src.MergedDefaults))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range src.MergedDefaults {
		if _, present := merged[k]; present {
			continue
		}
		rv, err := substituteEnv(v)
		if err != nil {
			return nil, err
		}
		merged[k] = rv
	}
	for _, hide := range src.MergedHide {
		delete(merged, hide)
	}
	return merged, nil
}

// substituteEnv expands every ${VAR} occurrence in a string default value
// from the process environment; other
// JSON value kinds pass through unchanged.
func substituteEnv(v any) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "${") {
		return v, nil
	}
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		varName := rest[start+2 : end]
		val, present := os.LookupEnv(varName)
		if !present {
			return nil, errEnvVarNotFound(varName)
		}
		b.WriteString(rest[:start])
		b.WriteString(val)
		rest = rest[end+1:]
	}
	return b.String(), nil
}

func applyOutputTransform(out any, transform registry.OutputTransform) (any, error) {
	if len(transform) == 0 {
		return out, nil
	}
	result := make(map[string]any, len(transform))
	for field, expr := range transform {
		v, err := evalPathOrWhole(out, expr.String())
		if err != nil {
			return nil, err
		}
		result[field] = v
	}
	return result, nil
}

func (e *Executor) executeComposition(ctx context.Context, ec *ExecutionContext, name string, comp *registry.CompiledComposition) (any, error) {
	out, err := e.dispatch(ctx, ec, comp.Root)
	if err != nil {
		return nil, err
	}
	return applyOutputTransform(out, comp.OutputTransform)
}

// dispatch walks one pattern/leaf Spec node, delegating to the per-pattern
// file that implements it.
func (e *Executor) dispatch(ctx context.Context, ec *ExecutionContext, spec patterns.Spec) (any, error) {
	switch spec.Kind {
	case patterns.KindTool:
		return e.invokeByName(ctx, ec, spec.Tool)
	case patterns.KindAgent:
		return e.invokeAgent(ctx, ec, spec.Agent)
	case patterns.KindPipeline:
		return e.runPipeline(ctx, ec, spec.Pipeline)
	case patterns.KindScatterGather:
		return e.runScatterGather(ctx, ec, spec.ScatterGather)
	case patterns.KindFilter:
		return e.runFilter(ctx, ec, spec.Filter)
	case patterns.KindSchemaMap:
		return e.runSchemaMap(ctx, ec, spec.SchemaMap)
	case patterns.KindMapEach:
		return e.runMapEach(ctx, ec, spec.MapEach)
	case patterns.KindRetry:
		return e.runRetry(ctx, ec, spec.Retry)
	case patterns.KindTimeout:
		return e.runTimeout(ctx, ec, spec.Timeout)
	case patterns.KindCache:
		return e.runCache(ctx, ec, spec.Cache)
	case patterns.KindIdempotent:
		return e.runIdempotent(ctx, ec, spec.Idempotent)
	case patterns.KindCircuitBreaker:
		return e.runCircuitBreaker(ctx, ec, spec.CircuitBreaker)
	case patterns.KindDeadLetter:
		return e.runDeadLetter(ctx, ec, spec.DeadLetter)
	case patterns.KindSaga:
		return e.runSaga(ctx, ec, spec.Saga)
	case patterns.KindClaimCheck:
		return e.runClaimCheck(ctx, ec, spec.ClaimCheck)
	case patterns.KindThrottle:
		return e.runThrottle(ctx, ec, spec.Throttle)
	case patterns.KindWireTap:
		return e.runWireTap(ctx, ec, spec.WireTap)
	case patterns.KindRouter:
		return e.runRouter(ctx, ec, spec.Router)
	case patterns.KindEnricher:
		return e.runEnricher(ctx, ec, spec.Enricher)
	default:
		return nil, errInvalidInput("", "unknown pattern kind "+string(spec.Kind))
	}
}

// invokeByName runs a named tool (source or composition) as a nested
// operation, sharing ec's registry/invoker/tracing/caller but the current
// ec.Input as the call's input.
func (e *Executor) invokeByName(ctx context.Context, ec *ExecutionContext, name string) (any, error) {
	tool, ok := ec.Registry.Tool(name)
	if !ok {
		return nil, errToolNotFound(name)
	}
	child := ec.Child(ec.Input)
	return e.executeCompiledTool(ctx, child, tool)
}

// invokeAgent routes an agent operation through the same external
// ToolInvoker as a backend tool call: the invoker is the one seam this
// module has for reaching outside the core, and an agent call is, from
// the core's perspective, just another named external collaborator
// invoked with the composition's current input.
func (e *Executor) invokeAgent(ctx context.Context, ec *ExecutionContext, name string) (any, error) {
	if _, ok := ec.Registry.Agents[name]; !ok {
		return nil, errToolNotFound(name)
	}
	out, err := ec.Invoker.Invoke(ctx, "", name, ec.Input)
	if err != nil {
		return nil, errToolExecutionFailed(name, err)
	}
	return out, nil
}
