// Package celx wraps github.com/google/cel-go for the core's two CEL
// surfaces: Idempotent key expressions (evaluated against the request)
// and the Retry/Cache/Throttle predicate fields (retry_if over the error's
// message text, cache_if over a result, a throttle bucket key expression).
// Compile parses and type-checks an expression once and the resulting
// Program is safe for concurrent Eval. The registry compiler does not
// compile CEL; the executor compiles each expression on first use and
// reuses the Program.
package celx

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// env declares every variable any pattern's CEL expression may reference.
// A single shared environment keeps compilation cheap and gives every
// expression the same vocabulary regardless of which pattern uses it.
var env = mustNewEnv()

func mustNewEnv() *cel.Env {
	e, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("result", cel.DynType),
		cel.Variable("error", cel.StringType),
		cel.Variable("attempt", cel.IntType),
	)
	if err != nil {
		panic(fmt.Sprintf("celx: building base environment: %v", err))
	}
	return e
}

// Program is a compiled, reusable CEL expression.
type Program struct {
	source string
	prg    cel.Program
}

// Compile parses and checks expr against the shared environment. The
// executor calls it when a pattern first evaluates expr, so a compile error
// surfaces as an error of that call; registry.Compile does not check CEL.
func Compile(expr string) (*Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celx: compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("celx: program %q: %w", expr, err)
	}
	return &Program{source: expr, prg: prg}, nil
}

// String returns the original expression text.
func (p *Program) String() string { return p.source }

// Vars is the activation passed to Eval; any subset of the declared
// variables ("input", "result", "error", "attempt") may be supplied; an
// expression that reads a variable missing from Vars fails to evaluate
// with an error.
type Vars map[string]any

// EvalBool evaluates p and coerces the result to bool. A non-bool result is
// a PredicateError-class failure surfaced to the caller.
func (p *Program) EvalBool(vars Vars) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any(vars))
	if err != nil {
		return false, fmt.Errorf("celx: eval %q: %w", p.source, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celx: expression %q did not evaluate to bool (got %T)", p.source, out.Value())
	}
	return b, nil
}

// Eval evaluates p and returns its native Go value, used for Idempotent key
// expressions and Throttle key expressions where any scalar/structured
// result is coerced to a string by the caller.
func (p *Program) Eval(vars Vars) (any, error) {
	out, _, err := p.prg.Eval(map[string]any(vars))
	if err != nil {
		return nil, fmt.Errorf("celx: eval %q: %w", p.source, err)
	}
	return out.Value(), nil
}

// EvalString evaluates p and renders the result as a string, used to build
// composite keys (Idempotent's ":"-joined expressions, Throttle's bucket
// key).
func (p *Program) EvalString(vars Vars) (string, error) {
	v, err := p.Eval(vars)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}
