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

func throttleSpec(strategy patterns.ThrottleStrategy, rate int, windowMS int64) *patterns.Throttle {
	return &patterns.Throttle{
		Inner:      toolSpec("op"),
		Rate:       rate,
		WindowMS:   windowMS,
		Strategy:   strategy,
		OnExceeded: patterns.OnExceededReject,
		KeyExpr:    "input.bucket",
	}
}

func newThrottleHarness(t *testing.T) (*Executor, *gatewaytest.FakeInvoker, *gatewaytest.Clock) {
	t.Helper()
	clock := gatewaytest.NewClock(time.Unix(1_700_000_000, 0))
	store := testStore(sourceTool("op", "srv", "op"))
	inv := gatewaytest.NewFakeInvoker().Respond("op", "ok")
	exec := newTestExecutor(store, inv, WithClock(clock.Now))
	return exec, inv, clock
}

func throttleOnce(t *testing.T, exec *Executor, spec *patterns.Throttle, bucket string) error {
	t.Helper()
	ec := rootEC(exec.store, exec.invoker, map[string]any{"bucket": bucket})
	_, err := exec.runThrottle(context.Background(), ec, spec)
	return err
}

// P9: sliding window admits at most rate calls per window.
func TestThrottleSlidingWindow(t *testing.T) {
	t.Parallel()

	exec, inv, clock := newThrottleHarness(t)
	spec := throttleSpec(patterns.ThrottleSlidingWindow, 3, 1_000)

	for range 3 {
		require.NoError(t, throttleOnce(t, exec, spec, "sw"))
	}
	err := throttleOnce(t, exec, spec, "sw")
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.Len(t, inv.CallsFor("op"), 3)

	// Half a window later, still saturated.
	clock.Advance(500 * time.Millisecond)
	require.Error(t, throttleOnce(t, exec, spec, "sw"))

	// Once the oldest timestamps age out, admission resumes.
	clock.Advance(600 * time.Millisecond)
	require.NoError(t, throttleOnce(t, exec, spec, "sw"))
}

// P9: token bucket admits bursts up to rate after a full refill.
func TestThrottleTokenBucketBurst(t *testing.T) {
	t.Parallel()

	exec, inv, clock := newThrottleHarness(t)
	spec := throttleSpec(patterns.ThrottleTokenBucket, 4, 1_000)

	// Fresh bucket admits a full burst.
	for range 4 {
		require.NoError(t, throttleOnce(t, exec, spec, "tb"))
	}
	require.Error(t, throttleOnce(t, exec, spec, "tb"))

	// After a full window the bucket refills to capacity and a full burst
	// is admitted again.
	clock.Advance(1_100 * time.Millisecond)
	for range 4 {
		require.NoError(t, throttleOnce(t, exec, spec, "tb"))
	}
	require.Error(t, throttleOnce(t, exec, spec, "tb"))
	assert.Len(t, inv.CallsFor("op"), 8)
}

func TestThrottleFixedWindowResets(t *testing.T) {
	t.Parallel()

	exec, _, clock := newThrottleHarness(t)
	spec := throttleSpec(patterns.ThrottleFixedWindow, 2, 1_000)

	require.NoError(t, throttleOnce(t, exec, spec, "fw"))
	require.NoError(t, throttleOnce(t, exec, spec, "fw"))
	require.Error(t, throttleOnce(t, exec, spec, "fw"))

	clock.Advance(1_000 * time.Millisecond)
	require.NoError(t, throttleOnce(t, exec, spec, "fw"))
}

func TestThrottleLeakyBucketDrains(t *testing.T) {
	t.Parallel()

	exec, _, clock := newThrottleHarness(t)
	spec := throttleSpec(patterns.ThrottleLeakyBucket, 2, 1_000)

	require.NoError(t, throttleOnce(t, exec, spec, "lb"))
	require.NoError(t, throttleOnce(t, exec, spec, "lb"))
	require.Error(t, throttleOnce(t, exec, spec, "lb"))

	// Draining at rate/window frees capacity.
	clock.Advance(600 * time.Millisecond)
	require.NoError(t, throttleOnce(t, exec, spec, "lb"))
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	t.Parallel()

	exec, _, _ := newThrottleHarness(t)
	spec := throttleSpec(patterns.ThrottleFixedWindow, 1, 1_000)

	require.NoError(t, throttleOnce(t, exec, spec, "tenant-a"))
	require.Error(t, throttleOnce(t, exec, spec, "tenant-a"))
	require.NoError(t, throttleOnce(t, exec, spec, "tenant-b"))
}
