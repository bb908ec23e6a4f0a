package executor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/toolgateway/composition-core/celx"
	"github.com/toolgateway/composition-core/patterns"
)

// exprCache memoizes compiled retry_if/cache_if/idempotency key/throttle key
// CEL programs across attempts and calls, avoiding re-parsing the same
// literal expression string every retry.
var exprCache sync.Map // string -> *celx.Program

func compileCached(expr string) (*celx.Program, error) {
	if v, ok := exprCache.Load(expr); ok {
		return v.(*celx.Program), nil
	}
	p, err := celx.Compile(expr)
	if err != nil {
		return nil, err
	}
	actual, _ := exprCache.LoadOrStore(expr, p)
	return actual.(*celx.Program), nil
}

// runRetry attempts r.Inner up to r.MaxAttempts times, sleeping a backoff
// delay between attempts, honoring an optional retry_if predicate (its
// `error` variable is the error's message text) and per-attempt timeout.
func (e *Executor) runRetry(ctx context.Context, ec *ExecutionContext, r *patterns.Retry) (any, error) {
	var retryIf *celx.Program
	if r.RetryIf != "" {
		p, err := compileCached(r.RetryIf)
		if err != nil {
			return nil, err
		}
		retryIf = p
	}

	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := computeBackoff(r.Backoff, attempt, r.Jitter)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.AttemptTimeoutMS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(r.AttemptTimeoutMS)*time.Millisecond)
		}
		out, err := e.dispatch(attemptCtx, ec.Child(ec.Input), r.Inner)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err

		shouldRetry := Retryable(err)
		if retryIf != nil {
			ok, evalErr := retryIf.EvalBool(celx.Vars{"input": ec.Input, "error": err.Error(), "attempt": attempt})
			if evalErr != nil {
				return nil, errPredicate(evalErr.Error())
			}
			shouldRetry = ok
		}
		if !shouldRetry {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// computeBackoff returns the delay before the given attempt number (attempt
// ≥ 2), optionally full-jitter-randomized to a uniform draw over [0, delay]
// (full jitter rather than additive: bursts of retries spread out over
// the whole delay window).
func computeBackoff(b patterns.Backoff, attempt int, jitter bool) time.Duration {
	n := attempt - 1
	var ms float64
	switch b.Kind {
	case patterns.BackoffFixed:
		ms = float64(b.InitialMS)
	case patterns.BackoffLinear:
		ms = float64(b.InitialMS) + float64(n-1)*float64(b.IncrementMS)
	case patterns.BackoffExponential:
		mult := b.Multiplier
		if mult <= 0 {
			mult = 2
		}
		ms = float64(b.InitialMS) * math.Pow(mult, float64(n-1))
	default:
		ms = float64(b.InitialMS)
	}
	if b.MaxMS > 0 && ms > float64(b.MaxMS) {
		ms = float64(b.MaxMS)
	}
	if ms < 0 {
		ms = 0
	}
	if jitter {
		ms = rand.Float64() * ms
	}
	return time.Duration(ms) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
