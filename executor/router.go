package executor

import (
	"context"

	"github.com/toolgateway/composition-core/jsonpathx"
	"github.com/toolgateway/composition-core/patterns"
)

// runRouter evaluates r.Routes' `when` predicates in declaration order
// against ec.Input and executes the first match's `then`; falls back to
// `otherwise`, else NoRouteMatch.
func (e *Executor) runRouter(ctx context.Context, ec *ExecutionContext, r *patterns.Router) (any, error) {
	for _, route := range r.Routes {
		expr, err := jsonpathx.Parse(route.When.Field)
		if err != nil {
			return nil, errJSONPath(route.When.Field, err)
		}
		fv, _ := expr.First(ec.Input)
		ok, err := evalPredicate(fv, route.When.Op, route.When.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			return e.dispatch(ctx, ec.Child(ec.Input), route.Then)
		}
	}
	if r.Otherwise != nil {
		return e.dispatch(ctx, ec.Child(ec.Input), *r.Otherwise)
	}
	return nil, errNoRouteMatch("router")
}
