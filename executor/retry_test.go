package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgateway/composition-core/gatewaytest"
	"github.com/toolgateway/composition-core/patterns"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("flaky", "srv", "flaky"))
	inv := gatewaytest.NewFakeInvoker().Script("flaky",
		func() (any, error) { return nil, errors.New("boom") },
		func() (any, error) { return nil, errors.New("boom") },
		func() (any, error) { return "recovered", nil },
	)
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{})

	out, err := exec.runRetry(context.Background(), ec, &patterns.Retry{
		Inner:       toolSpec("flaky"),
		MaxAttempts: 3,
		Backoff:     patterns.Backoff{Kind: patterns.BackoffFixed, InitialMS: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Len(t, inv.CallsFor("flaky"), 3)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("down", "srv", "down"))
	inv := gatewaytest.NewFakeInvoker().Fail("down", errors.New("always"))
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{})

	_, err := exec.runRetry(context.Background(), ec, &patterns.Retry{
		Inner:       toolSpec("down"),
		MaxAttempts: 3,
		Backoff:     patterns.Backoff{Kind: patterns.BackoffFixed, InitialMS: 1},
	})
	require.Error(t, err)
	assert.Len(t, inv.CallsFor("down"), 3)
}

func TestRetryDefaultClassificationSkipsNonRetryable(t *testing.T) {
	t.Parallel()

	// ToolNotFound is non-retryable by the default classification.
	store := testStore()
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{})

	_, err := exec.runRetry(context.Background(), ec, &patterns.Retry{
		Inner:       toolSpec("ghost"),
		MaxAttempts: 5,
		Backoff:     patterns.Backoff{Kind: patterns.BackoffFixed, InitialMS: 1},
	})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindToolNotFound, e.Kind)
	assert.Empty(t, inv.Calls())
}

func TestRetryIfPredicateStopsRetry(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("down", "srv", "down"))
	inv := gatewaytest.NewFakeInvoker().Fail("down", errors.New("always"))
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{})

	_, err := exec.runRetry(context.Background(), ec, &patterns.Retry{
		Inner:       toolSpec("down"),
		MaxAttempts: 5,
		Backoff:     patterns.Backoff{Kind: patterns.BackoffFixed, InitialMS: 1},
		RetryIf:     "attempt < 2",
	})
	require.Error(t, err)
	assert.Len(t, inv.CallsFor("down"), 2)
}

func TestComputeBackoff(t *testing.T) {
	t.Parallel()

	fixed := patterns.Backoff{Kind: patterns.BackoffFixed, InitialMS: 100}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(fixed, 2, false))
	assert.Equal(t, 100*time.Millisecond, computeBackoff(fixed, 5, false))

	linear := patterns.Backoff{Kind: patterns.BackoffLinear, InitialMS: 100, IncrementMS: 50}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(linear, 2, false))
	assert.Equal(t, 150*time.Millisecond, computeBackoff(linear, 3, false))

	exp := patterns.Backoff{Kind: patterns.BackoffExponential, InitialMS: 100, Multiplier: 2, MaxMS: 300}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(exp, 2, false))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(exp, 3, false))
	// Capped by MaxMS.
	assert.Equal(t, 300*time.Millisecond, computeBackoff(exp, 4, false))

	// Full jitter draws uniformly from [0, delay].
	for range 20 {
		d := computeBackoff(fixed, 2, true)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestTimeoutReturnsTimeoutError(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("slow", "srv", "slow"))
	inv := gatewaytest.NewFakeInvoker()
	inv.Handler = func(server, tool string, args any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{})

	_, err := exec.runTimeout(context.Background(), ec, &patterns.Timeout{
		Inner:      toolSpec("slow"),
		DurationMS: 20,
	})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTimeout, e.Kind)
	assert.Equal(t, int64(20), e.TimeoutMS)
}

func TestTimeoutFallback(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("slow", "srv", "slow"), sourceTool("backup", "srv", "backup"))
	inv := gatewaytest.NewFakeInvoker().Respond("backup", "fallback result")
	inv.Script("slow", func() (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{"q": "orig"})

	fb := toolSpec("backup")
	out, err := exec.runTimeout(context.Background(), ec, &patterns.Timeout{
		Inner:      toolSpec("slow"),
		DurationMS: 20,
		Fallback:   &fb,
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback result", out)

	// Fallback runs with the original input.
	backup := inv.CallsFor("backup")
	require.Len(t, backup, 1)
	assert.Equal(t, map[string]any{"q": "orig"}, backup[0].Args)
}
