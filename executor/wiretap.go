package executor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/toolgateway/composition-core/patterns"
)

// runWireTap runs wt.Inner as the main operation and fires best-effort
// copies of the message to each target whose sampling coin flip passes.
// Tap point selects whether the taps carry the input
// (before), the output (after), or both. Tap failures are logged only and
// never affect the main result.
func (e *Executor) runWireTap(ctx context.Context, ec *ExecutionContext, wt *patterns.WireTap) (any, error) {
	var pending sync.WaitGroup

	if wt.TapPoint == patterns.TapBefore || wt.TapPoint == patterns.TapBoth {
		e.fireTaps(ctx, ec, wt.Targets, ec.Input, &pending)
	}

	out, err := e.dispatch(ctx, ec.Child(ec.Input), wt.Inner)

	if err == nil && (wt.TapPoint == patterns.TapAfter || wt.TapPoint == patterns.TapBoth) {
		e.fireTaps(ctx, ec, wt.Targets, out, &pending)
	}

	// Taps are fire-and-forget from the caller's point of view, but waiting
	// here keeps cancellation cooperative: no tap goroutine
	// outlives its composition unobserved.
	pending.Wait()
	return out, err
}

// fireTaps launches one goroutine per sampled target. The tap context is
// detached from the main operation's cancellation so a completed main call
// still delivers its taps.
func (e *Executor) fireTaps(ctx context.Context, ec *ExecutionContext, targets []patterns.WireTapTarget, payload any, pending *sync.WaitGroup) {
	tapCtx := context.WithoutCancel(ctx)
	for _, t := range targets {
		if rand.Float64() >= t.Percentage {
			continue
		}
		pending.Add(1)
		go func(backend string) {
			defer pending.Done()
			if _, err := ec.Invoker.Invoke(tapCtx, backend, "", payload); err != nil {
				e.log.Warn(tapCtx, "wire tap delivery failed", "backend", backend, "error", err)
			}
		}(t.Backend)
	}
}
