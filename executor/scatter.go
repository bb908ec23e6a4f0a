package executor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/toolgateway/composition-core/patterns"
)

// runScatterGather fans ec.Input out to every target concurrently and joins
// the results through the aggregation pipeline.
func (e *Executor) runScatterGather(ctx context.Context, ec *ExecutionContext, sg *patterns.ScatterGather) (any, error) {
	if len(sg.Targets) == 0 {
		return nil, errInvalidInput("scatterGather", "no targets")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if sg.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(sg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	results := make([]any, len(sg.Targets))
	errs := make([]error, len(sg.Targets))
	var wg sync.WaitGroup
	var failFastOnce sync.Once
	failCtx, failCancel := context.WithCancel(runCtx)
	defer failCancel()

	for i, target := range sg.Targets {
		wg.Add(1)
		go func(i int, target patterns.Spec) {
			defer wg.Done()
			child := ec.Child(ec.Input)
			out, err := e.dispatch(failCtx, child, target)
			results[i] = out
			errs[i] = err
			if err != nil && sg.FailFast {
				failFastOnce.Do(failCancel)
			}
		}(i, target)
	}
	wg.Wait()

	var successes []any
	var anyErr error
	for i, err := range errs {
		if err != nil {
			if anyErr == nil {
				anyErr = err
			}
			continue
		}
		successes = append(successes, results[i])
	}
	if sg.TimeoutMS > 0 && runCtx.Err() == context.DeadlineExceeded && anyErr != nil {
		return nil, errTimeout(sg.TimeoutMS, "")
	}
	if sg.FailFast && anyErr != nil {
		return nil, anyErr
	}
	if len(successes) == 0 {
		return nil, errAllTargetsFailed("scatterGather")
	}

	return applyAggregation(successes, sg.Aggregation)
}

func applyAggregation(values []any, ops []patterns.AggregationOp) (any, error) {
	cur := values
	var result any = cur
	for _, op := range ops {
		switch op.Kind {
		case patterns.AggFlatten:
			cur = flattenOne(cur)
			result = cur
		case patterns.AggSort:
			cur = sortBy(cur, op.Field, op.Order)
			result = cur
		case patterns.AggDedupe:
			cur = dedupeBy(cur, op.Field)
			result = cur
		case patterns.AggLimit:
			if op.Count >= 0 && op.Count < len(cur) {
				cur = cur[:op.Count]
			}
			result = cur
		case patterns.AggConcat:
			result = cur
		case patterns.AggMerge:
			merged := map[string]any{}
			for _, v := range cur {
				m, ok := v.(map[string]any)
				if !ok {
					return nil, errType("object", "non-object in merge aggregation")
				}
				for k, fv := range m {
					merged[k] = fv
				}
			}
			result = merged
			return result, nil
		default:
			return nil, errInvalidInput("scatterGather", "unknown aggregation kind "+string(op.Kind))
		}
	}
	return result, nil
}

// flattenOne flattens one level of []any nesting, i.e. []any{[]any{a,b},c}
// becomes []any{a,b,c}; elements that aren't themselves arrays pass through.
func flattenOne(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func sortBy(values []any, field string, order patterns.SortOrder) []any {
	out := make([]any, len(values))
	copy(out, values)
	sort.SliceStable(out, func(i, j int) bool {
		vi, _ := fieldOf(out[i], field)
		vj, _ := fieldOf(out[j], field)
		if order == patterns.SortDesc {
			return lessValue(vj, vi)
		}
		return lessValue(vi, vj)
	})
	return out
}

func dedupeBy(values []any, field string) []any {
	seen := map[string]bool{}
	out := make([]any, 0, len(values))
	for _, v := range values {
		fv, _ := fieldOf(v, field)
		key := toJSONString(fv)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func fieldOf(v any, field string) (any, bool) {
	if field == "" {
		return v, true
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	fv, ok := m[field]
	return fv, ok
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) < string(bj)
}
