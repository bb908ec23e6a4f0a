package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/toolgateway/composition-core/jsonpathx"
	"github.com/toolgateway/composition-core/patterns"
)

// runFilter keeps elements of ec.Input (which must be an array) for which
// the predicate holds.
func (e *Executor) runFilter(_ context.Context, ec *ExecutionContext, f *patterns.Filter) (any, error) {
	arr, ok := ec.Input.([]any)
	if !ok {
		return nil, errType("array", fmt.Sprintf("%T", ec.Input))
	}
	expr, err := jsonpathx.Parse(f.Predicate.Field)
	if err != nil {
		return nil, errJSONPath(f.Predicate.Field, err)
	}
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		fv, _ := expr.First(el)
		ok, err := evalPredicate(fv, f.Predicate.Op, f.Predicate.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, el)
		}
	}
	return out, nil
}

func evalPredicate(fieldVal any, op patterns.PredicateOp, target any) (bool, error) {
	switch op {
	case patterns.OpEq:
		return toJSONString(fieldVal) == toJSONString(target), nil
	case patterns.OpNe:
		return toJSONString(fieldVal) != toJSONString(target), nil
	case patterns.OpGt:
		return lessValue(target, fieldVal), nil
	case patterns.OpGte:
		return lessValue(target, fieldVal) || toJSONString(fieldVal) == toJSONString(target), nil
	case patterns.OpLt:
		return lessValue(fieldVal, target), nil
	case patterns.OpLte:
		return lessValue(fieldVal, target) || toJSONString(fieldVal) == toJSONString(target), nil
	case patterns.OpContains:
		if fieldVal == nil {
			return false, nil
		}
		arr, ok := fieldVal.([]any)
		if !ok {
			if s, ok := fieldVal.(string); ok {
				ts, _ := target.(string)
				return strings.Contains(s, ts), nil
			}
			return false, errPredicate("contains requires an array or string field")
		}
		for _, v := range arr {
			if toJSONString(v) == toJSONString(target) {
				return true, nil
			}
		}
		return false, nil
	case patterns.OpIn:
		arr, ok := target.([]any)
		if !ok {
			return false, errPredicate("in requires an array value")
		}
		for _, v := range arr {
			if toJSONString(v) == toJSONString(fieldVal) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errPredicate("unknown predicate op " + string(op))
	}
}
