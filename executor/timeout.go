package executor

import (
	"context"
	"time"

	"github.com/toolgateway/composition-core/patterns"
)

// runTimeout races t.Inner against t.DurationMS, running the fallback (if
// any) with the original input on timeout, else returning a Timeout error.
func (e *Executor) runTimeout(ctx context.Context, ec *ExecutionContext, t *patterns.Timeout) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(t.DurationMS)*time.Millisecond)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.dispatch(attemptCtx, ec.Child(ec.Input), t.Inner)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-attemptCtx.Done():
		if t.Fallback != nil {
			return e.dispatch(ctx, ec.Child(ec.Input), *t.Fallback)
		}
		return nil, errTimeout(t.DurationMS, t.Message)
	}
}
