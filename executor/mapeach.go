package executor

import (
	"context"
	"fmt"

	"github.com/toolgateway/composition-core/patterns"
)

// runMapEach applies me.Inner to each element of ec.Input (which must be an
// array) in order, sequentially: element order must be preserved and
// sequential execution is the simplest behavior that does so
// deterministically.
func (e *Executor) runMapEach(ctx context.Context, ec *ExecutionContext, me *patterns.MapEach) (any, error) {
	arr, ok := ec.Input.([]any)
	if !ok {
		return nil, errType("array", fmt.Sprintf("%T", ec.Input))
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		child := ec.Child(el)
		v, err := e.dispatch(ctx, child, me.Inner)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
