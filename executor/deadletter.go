package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/toolgateway/composition-core/patterns"
)

// runDeadLetter retries dl.Inner up to dl.MaxAttempts times, then posts the
// failure to dl.DeadLetterTool best-effort and either rethrows the error or
// swallows it.
func (e *Executor) runDeadLetter(ctx context.Context, ec *ExecutionContext, dl *patterns.DeadLetter) (any, error) {
	maxAttempts := dl.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delays := deadLetterDelays(dl.Backoff)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, delays()); err != nil {
				return nil, err
			}
		}
		out, err := e.dispatch(ctx, ec.Child(ec.Input), dl.Inner)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}

	// Best effort: a dead-letter post failure is logged, never propagated.
	envelope := map[string]any{
		"originalInput": ec.Input,
		"error":         lastErr.Error(),
		"attempts":      maxAttempts,
		"timestamp":     e.now().UnixMilli(),
	}
	if _, derr := e.invokeByName(ctx, ec.Child(envelope), dl.DeadLetterTool); derr != nil {
		e.log.Error(ctx, "dead letter post failed", "tool", dl.DeadLetterTool, "error", derr)
	}

	if dl.Rethrow {
		return nil, lastErr
	}
	return nil, nil
}

// deadLetterDelays returns a generator of successive inter-attempt delays.
// Exponential backoff reuses backoff.ExponentialBackOff's schedule (with
// randomization disabled so the pattern's own delay bounds stay exact);
// fixed/linear use the shared computeBackoff arithmetic.
func deadLetterDelays(b *patterns.Backoff) func() time.Duration {
	if b == nil {
		return func() time.Duration { return 0 }
	}
	if b.Kind == patterns.BackoffExponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Duration(b.InitialMS) * time.Millisecond
		exp.RandomizationFactor = 0
		if b.Multiplier > 0 {
			exp.Multiplier = b.Multiplier
		}
		if b.MaxMS > 0 {
			exp.MaxInterval = time.Duration(b.MaxMS) * time.Millisecond
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		return func() time.Duration {
			d := exp.NextBackOff()
			if d == backoff.Stop {
				return exp.MaxInterval
			}
			return d
		}
	}
	attempt := 1
	return func() time.Duration {
		attempt++
		return computeBackoff(*b, attempt, false)
	}
}
