// Package executor implements the Composition Executor, the
// stateless pattern executors (Pipeline, ScatterGather, Filter,
// SchemaMap, MapEach), and the stateful pattern executors (Retry,
// Timeout, Cache, Idempotent, CircuitBreaker, DeadLetter, Saga, ClaimCheck,
// Throttle, WireTap, Router, Enricher). The executor is configured with
// functional options and carries a Logger/Tracer pair defaulting to
// no-ops, with per-call spans carrying structured attributes.
package executor

import "fmt"

// Kind enumerates the closed set of error classifications the core surfaces.
type Kind string

const (
	KindToolNotFound        Kind = "tool_not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindJSONPathError       Kind = "json_path_error"
	KindTypeError           Kind = "type_error"
	KindPredicateError      Kind = "predicate_error"
	KindTimeout             Kind = "timeout"
	KindAllTargetsFailed    Kind = "all_targets_failed"
	KindCircuitOpen         Kind = "circuit_open"
	KindDuplicateRequest    Kind = "duplicate_request"
	KindToolExecutionFailed Kind = "tool_execution_failed"
	KindStateStoreError     Kind = "state_store_error"
	KindNotImplemented      Kind = "stateful_pattern_not_implemented"
	KindNoRouteMatch        Kind = "no_route_match"
	KindEnvVarNotFound      Kind = "env_var_not_found"
	KindInvalidMethod       Kind = "invalid_method"
	KindRateLimited         Kind = "rate_limited"
)

// Error is the single error type every core component returns, satisfying
// error and carrying the classification Retry.retry_if and the fail-open
// policies dispatch on.
type Error struct {
	Kind Kind

	// Tool/Item is the offending tool/breaker/pattern name, when applicable.
	Item string
	Msg  string

	// Expected/Actual populate KindTypeError.
	Expected string
	Actual   string

	// TimeoutMS populates KindTimeout.
	TimeoutMS int64
	// Message overrides the default Timeout message (Timeout.message).
	Message string

	// RetryAfterMS populates KindCircuitOpen.
	RetryAfterMS int64

	// Pattern/Details populate KindNotImplemented.
	Pattern string
	Details string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTypeError:
		return fmt.Sprintf("executor: type error: expected %s, got %s", e.Expected, e.Actual)
	case KindTimeout:
		if e.Message != "" {
			return "executor: timeout: " + e.Message
		}
		return fmt.Sprintf("executor: timeout after %dms", e.TimeoutMS)
	case KindCircuitOpen:
		return fmt.Sprintf("executor: circuit %q open, retry after %dms", e.Item, e.RetryAfterMS)
	case KindNotImplemented:
		return fmt.Sprintf("executor: stateful pattern %q not implemented: %s", e.Pattern, e.Details)
	default:
		if e.Err != nil {
			return fmt.Sprintf("executor [%s] %s: %v", e.Kind, e.Item, e.Err)
		}
		return fmt.Sprintf("executor [%s] %s: %s", e.Kind, e.Item, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: K}) to check classification
// without needing every field to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func errToolNotFound(name string) *Error {
	return &Error{Kind: KindToolNotFound, Item: name, Msg: "unknown name in registry"}
}

func errInvalidInput(item, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Item: item, Msg: msg}
}

func errJSONPath(item string, err error) *Error {
	return &Error{Kind: KindJSONPathError, Item: item, Err: err}
}

func errType(expected, actual string) *Error {
	return &Error{Kind: KindTypeError, Expected: expected, Actual: actual}
}

func errPredicate(msg string) *Error {
	return &Error{Kind: KindPredicateError, Msg: msg}
}

func errTimeout(ms int64, message string) *Error {
	return &Error{Kind: KindTimeout, TimeoutMS: ms, Message: message}
}

func errAllTargetsFailed(item string) *Error {
	return &Error{Kind: KindAllTargetsFailed, Item: item, Msg: "scatter-gather had no successes"}
}

func errCircuitOpen(name string, retryAfterMS int64) *Error {
	return &Error{Kind: KindCircuitOpen, Item: name, RetryAfterMS: retryAfterMS}
}

func errDuplicateRequest(item string) *Error {
	return &Error{Kind: KindDuplicateRequest, Item: item, Msg: "duplicate request"}
}

func errToolExecutionFailed(item string, err error) *Error {
	return &Error{Kind: KindToolExecutionFailed, Item: item, Err: err}
}

func errStateStore(item string, err error) *Error {
	return &Error{Kind: KindStateStoreError, Item: item, Err: err}
}

func errNotImplemented(pattern, details string) *Error {
	return &Error{Kind: KindNotImplemented, Pattern: pattern, Details: details}
}

func errNoRouteMatch(item string) *Error {
	return &Error{Kind: KindNoRouteMatch, Item: item, Msg: "no route matched and no otherwise clause"}
}

func errEnvVarNotFound(name string) *Error {
	return &Error{Kind: KindEnvVarNotFound, Item: name, Msg: "environment variable not set"}
}

func errRateLimited(key string, retryAfterMS int64) *Error {
	return &Error{Kind: KindRateLimited, Item: key, RetryAfterMS: retryAfterMS, Msg: "rate limit exceeded"}
}

// Retryable implements the default retry classification used when a Retry
// pattern has no retry_if predicate: everything except InvalidInput,
// ToolNotFound, and CircuitOpen is retryable.
func Retryable(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return true
	}
	switch e.Kind {
	case KindInvalidInput, KindToolNotFound, KindCircuitOpen:
		return false
	default:
		return true
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
