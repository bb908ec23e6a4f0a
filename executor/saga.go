package executor

import (
	"context"
	"time"

	"github.com/toolgateway/composition-core/patterns"
)

// runSaga executes s.Steps in order, recording each step's result under its
// id, and on any forward failure compensates the completed steps in reverse
// order. A saga-wide timeout aborts forward progress
// and triggers the same compensation; so does cancellation of ctx.
func (e *Executor) runSaga(ctx context.Context, ec *ExecutionContext, s *patterns.Saga) (any, error) {
	fwdCtx := ctx
	var cancel context.CancelFunc
	if s.TimeoutMS > 0 {
		fwdCtx, cancel = context.WithTimeout(ctx, time.Duration(s.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	var completed []patterns.SagaStep
	var stepOrder []string
	var prevResult any = ec.Input
	for _, step := range s.Steps {
		input := prevResult
		if step.Input != nil {
			v, err := resolveBinding(ec, *step.Input)
			if err != nil {
				e.compensate(ctx, ec, completed)
				return nil, err
			}
			input = v
		}
		out, err := e.dispatch(fwdCtx, ec.Child(input), step.Action)
		if err != nil {
			e.compensate(ctx, ec, completed)
			if fwdCtx.Err() == context.DeadlineExceeded {
				return nil, errTimeout(s.TimeoutMS, "saga timed out at step "+step.ID)
			}
			return nil, &Error{Kind: KindToolExecutionFailed, Item: step.ID, Msg: "saga step failed, completed steps compensated", Err: err}
		}
		ec.SetStep(step.ID, out)
		stepOrder = append(stepOrder, step.ID)
		completed = append(completed, step)
		prevResult = out
	}

	return resolveOutputBinding(ec, s.Output, stepOrder)
}

// compensate invokes each completed step's compensation in reverse order.
// Compensations are best effort: each error is logged and never
// short-circuits the remaining compensations; compensation errors are not
// collected or returned to the caller. Compensation runs detached from the forward phase's
// cancellation so an aborted saga still unwinds.
func (e *Executor) compensate(ctx context.Context, ec *ExecutionContext, completed []patterns.SagaStep) {
	compCtx := context.WithoutCancel(ctx)
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		result, _ := ec.GetStep(step.ID)
		if _, err := e.dispatch(compCtx, ec.Child(result), *step.Compensate); err != nil {
			e.log.Error(compCtx, "saga compensation failed", "step", step.ID, "error", err)
		}
	}
}
