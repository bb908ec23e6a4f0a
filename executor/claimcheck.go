package executor

import (
	"context"
	"strings"

	"github.com/toolgateway/composition-core/patterns"
)

// runClaimCheck stores the (large) input via cc.StoreTool, threads the
// returned reference through cc.Inner, and optionally retrieves the original
// payload via cc.RetrieveTool at the end.
func (e *Executor) runClaimCheck(ctx context.Context, ec *ExecutionContext, cc *patterns.ClaimCheck) (any, error) {
	stored, err := e.invokeByName(ctx, ec.Child(ec.Input), cc.StoreTool)
	if err != nil {
		return nil, err
	}

	ref := stored
	if cc.ReferenceTransform != "" {
		v, terr := evalPathOrWhole(stored, dotPathToJSONPath(cc.ReferenceTransform))
		if terr != nil {
			return nil, terr
		}
		ref = v
	}

	out, err := e.dispatch(ctx, ec.Child(ref), cc.Inner)
	if err != nil {
		return nil, err
	}

	if cc.RetrieveAtEnd {
		return e.invokeByName(ctx, ec.Child(stored), cc.RetrieveTool)
	}
	return out, nil
}

// dotPathToJSONPath widens the claim-check reference_transform dot path
// ("a.b.c") into the JSONPath form the shared evaluator expects.
func dotPathToJSONPath(p string) string {
	if p == "" || strings.HasPrefix(p, "$") {
		return p
	}
	return "$." + p
}
