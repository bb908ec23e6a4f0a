package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/toolgateway/composition-core/patterns"
)

// runEnricher augments the input body with the results of parallel lookups.
// The input must be a JSON object: a non-object body is
// surfaced as a type error rather than silently treated as empty. Lookups
// run concurrently, join under an optional timeout, and merge back into a
// copy of the body per the configured strategy.
func (e *Executor) runEnricher(ctx context.Context, ec *ExecutionContext, en *patterns.Enricher) (any, error) {
	body, ok := ec.Input.(map[string]any)
	if !ok {
		return nil, errType("object", fmt.Sprintf("%T", ec.Input))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if en.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(en.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	results := make([]any, len(en.Enrichments))
	errs := make([]error, len(en.Enrichments))
	var wg sync.WaitGroup
	for i, enr := range en.Enrichments {
		reqBody := any(body)
		if enr.Input != nil {
			v, err := resolveBinding(ec, *enr.Input)
			if err != nil {
				return nil, err
			}
			reqBody = v
		}
		wg.Add(1)
		go func(i int, enr patterns.Enrichment, reqBody any) {
			defer wg.Done()
			results[i], errs[i] = e.dispatch(runCtx, ec.Child(reqBody), enr.Backend)
		}(i, enr, reqBody)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !en.IgnoreFailures {
			return nil, err
		}
	}

	merged := make(map[string]any, len(body)+len(en.Enrichments))
	for k, v := range body {
		merged[k] = v
	}
	switch en.Merge.Kind {
	case patterns.MergeNested:
		nested := make(map[string]any, len(en.Enrichments))
		for i, enr := range en.Enrichments {
			if errs[i] != nil {
				continue
			}
			nested[enr.Field] = results[i]
		}
		merged[en.Merge.Key] = nested

	case patterns.MergeSchemaMap:
		// Source dotted paths select out of the per-field result set.
		byField := make(map[string]any, len(en.Enrichments))
		for i, enr := range en.Enrichments {
			if errs[i] != nil {
				continue
			}
			byField[enr.Field] = results[i]
		}
		for target, path := range en.Merge.Mappings {
			v, err := evalPathOrWhole(byField, dotPathToJSONPath(path))
			if err != nil {
				return nil, err
			}
			merged[target] = v
		}

	default: // MergeSpread: root-level union.
		for i, enr := range en.Enrichments {
			if errs[i] != nil {
				continue
			}
			if m, ok := results[i].(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
				continue
			}
			merged[enr.Field] = results[i]
		}
	}

	return merged, nil
}
