package executor

import (
	"context"
	"sync"

	"github.com/toolgateway/composition-core/patterns"
)

// runPipeline executes p's steps in dependency order, running each wave of
// mutually-independent steps concurrently. The last step's output
// is the pipeline's output.
func (e *Executor) runPipeline(ctx context.Context, ec *ExecutionContext, p *patterns.Pipeline) (any, error) {
	if len(p.Steps) == 0 {
		return nil, errInvalidInput("pipeline", "no steps")
	}
	waves, err := planWaves(p.Steps)
	if err != nil {
		return nil, err
	}

	for _, wave := range waves {
		if err := e.runWave(ctx, ec, p.Steps, wave); err != nil {
			return nil, err
		}
	}

	last := p.Steps[len(p.Steps)-1]
	v, _ := ec.GetStep(last.ID)
	return v, nil
}

// runWave executes the steps at the given indices concurrently, waiting for
// all to finish before returning the first error in wave order, if any;
// a failing step does not cancel its siblings. Each step's result
// is only published to ec.stepResults once its own invocation returns.
func (e *Executor) runWave(ctx context.Context, ec *ExecutionContext, steps []patterns.Step, wave []int) error {
	if len(wave) == 1 {
		return e.runStep(ctx, ec, steps, wave[0])
	}
	var wg sync.WaitGroup
	errs := make([]error, len(wave))
	for i, idx := range wave {
		wg.Add(1)
		go func(i, idx int) {
			defer wg.Done()
			errs[i] = e.runStep(ctx, ec, steps, idx)
		}(i, idx)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, ec *ExecutionContext, steps []patterns.Step, idx int) error {
	step := steps[idx]
	input, err := e.resolveStepInput(ec, steps, idx)
	if err != nil {
		return err
	}
	child := ec.Child(input)

	var out any
	switch step.Operation {
	case patterns.OpTool:
		out, err = e.invokeByName(ctx, child, step.Tool)
	case patterns.OpAgent:
		out, err = e.invokeAgent(ctx, child, step.Agent)
	case patterns.OpPattern:
		if step.Pattern == nil {
			return errInvalidInput(step.ID, "operation is pattern but no pattern set")
		}
		out, err = e.dispatch(ctx, child, *step.Pattern)
	default:
		return errInvalidInput(step.ID, "unknown step operation "+string(step.Operation))
	}
	if err != nil {
		return err
	}
	ec.SetStep(step.ID, out)
	return nil
}

// resolveStepInput resolves a step's input binding, falling back to the
// pipeline's running input (the prior step's output, or the composition
// input for the first step) when no binding is set.
func (e *Executor) resolveStepInput(ec *ExecutionContext, steps []patterns.Step, idx int) (any, error) {
	step := steps[idx]
	if step.Input == nil {
		if idx == 0 {
			return ec.Input, nil
		}
		prev, ok := ec.GetStep(steps[idx-1].ID)
		if !ok {
			return nil, errInvalidInput(step.ID, "previous step has no recorded result")
		}
		return prev, nil
	}
	return resolveBinding(ec, *step.Input)
}

// planWaves groups step indices into a sequence of waves such that every
// step in wave k only depends on steps in waves < k, implementing the
// topological order of the binding graph.
func planWaves(steps []patterns.Step) ([][]int, error) {
	idOf := make(map[string]int, len(steps))
	for i, s := range steps {
		idOf[s.ID] = i
	}
	deps := make([][]int, len(steps))
	for i, s := range steps {
		if s.Input == nil {
			if i > 0 {
				deps[i] = []int{i - 1}
			}
			continue
		}
		refs := map[string]bool{}
		collectStepRefs(*s.Input, refs)
		for name := range refs {
			j, ok := idOf[name]
			if !ok {
				return nil, errInvalidInput(s.ID, "binding references unknown step id "+name)
			}
			deps[i] = append(deps[i], j)
		}
	}

	remaining := map[int]bool{}
	for i := range steps {
		remaining[i] = true
	}
	var waves [][]int
	done := make(map[int]bool, len(steps))
	for len(remaining) > 0 {
		var wave []int
		for i := range remaining {
			ready := true
			for _, d := range deps[i] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			return nil, errInvalidInput("pipeline", "cycle among step bindings")
		}
		for _, i := range wave {
			done[i] = true
			delete(remaining, i)
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

func collectStepRefs(b patterns.Binding, out map[string]bool) {
	switch b.Kind {
	case patterns.BindStep:
		out[b.StepID] = true
	case patterns.BindConstruct:
		for _, sub := range b.Construct {
			collectStepRefs(sub, out)
		}
	case patterns.BindMerge:
		for _, sub := range b.Merge {
			collectStepRefs(sub, out)
		}
	}
}
