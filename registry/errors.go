package registry

import "fmt"

// ValidationError is a single validator failure. A registry with any
// ValidationError is not compiled.
type ValidationError struct {
	Rule string // e.g. "duplicate-name", "cycle", "unresolved-ref"
	Item string // the offending tool/schema/server/agent name
	Msg  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("registry validation [%s] %s: %s", e.Rule, e.Item, e.Msg)
}

// ValidationWarning is a non-fatal validator finding (currently only
// deprecated-target usage).
type ValidationWarning struct {
	Tool       string
	Deprecated string
	Msg        string
}

func (w ValidationWarning) String() string {
	return fmt.Sprintf("registry warning: tool %q uses deprecated %q: %s", w.Tool, w.Deprecated, w.Msg)
}

// ValidationResult aggregates every error and warning found in one pass
// over a Registry.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// OK reports whether the registry has no validation errors (warnings are
// allowed).
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// CompileErrorKind enumerates the closed set of compiler failures.
type CompileErrorKind string

const (
	ErrSourceResolution CompileErrorKind = "source_resolution"
	ErrInvalidJSONPath  CompileErrorKind = "invalid_json_path"
	ErrSchemaValidation CompileErrorKind = "schema_validation"
	ErrDuplicateName    CompileErrorKind = "duplicate_tool_name"
)

// CompileError is returned by Compile when a Registry cannot be turned
// into a CompiledRegistry.
type CompileError struct {
	Kind CompileErrorKind
	Item string
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("registry compile [%s] %s: %s", e.Kind, e.Item, e.Msg)
}
