package executor

import (
	"encoding/json"

	"github.com/toolgateway/composition-core/jsonpathx"
	"github.com/toolgateway/composition-core/patterns"
)

// resolveBinding evaluates a patterns.Binding against ec, implementing
// Input/Step/Constant/Construct plus Saga's Merge/Static additions.
func resolveBinding(ec *ExecutionContext, b patterns.Binding) (any, error) {
	switch b.Kind {
	case patterns.BindInput:
		return evalPathOrWhole(ec.Input, b.Path)
	case patterns.BindStep:
		v, ok := ec.GetStep(b.StepID)
		if !ok {
			return nil, errInvalidInput(b.StepID, "binding references a step with no recorded result")
		}
		return evalPathOrWhole(v, b.Path)
	case patterns.BindConstant, patterns.BindStatic:
		return b.Value, nil
	case patterns.BindConstruct:
		out := make(map[string]any, len(b.Construct))
		for field, sub := range b.Construct {
			v, err := resolveBinding(ec, sub)
			if err != nil {
				return nil, err
			}
			out[field] = v
		}
		return out, nil
	case patterns.BindMerge:
		merged := map[string]any{}
		for _, sub := range b.Merge {
			v, err := resolveBinding(ec, sub)
			if err != nil {
				return nil, err
			}
			m, ok := v.(map[string]any)
			if !ok {
				return nil, errType("object", "non-object")
			}
			for k, val := range m {
				merged[k] = val
			}
		}
		return merged, nil
	default:
		return nil, errInvalidInput("", "unsupported binding kind "+string(b.Kind))
	}
}

func evalPathOrWhole(root any, path string) (any, error) {
	if path == "" {
		return root, nil
	}
	expr, err := jsonpathx.Parse(path)
	if err != nil {
		return nil, errJSONPath(path, err)
	}
	v, _ := expr.Eval(root)
	return v, nil
}

// resolveOutputBinding assembles a Saga's final result from its
// OutputBinding: All (default), Step(id, path?), or Object(field -> binding).
func resolveOutputBinding(ec *ExecutionContext, ob *patterns.OutputBinding, stepOrder []string) (any, error) {
	if ob == nil {
		out := map[string]any{}
		for _, id := range stepOrder {
			if v, ok := ec.GetStep(id); ok {
				out[id] = v
			}
		}
		return out, nil
	}
	switch ob.Kind {
	case patterns.OutputAll:
		out := map[string]any{}
		for _, id := range stepOrder {
			if v, ok := ec.GetStep(id); ok {
				out[id] = v
			}
		}
		return out, nil
	case patterns.OutputStep:
		v, ok := ec.GetStep(ob.StepID)
		if !ok {
			return nil, errInvalidInput(ob.StepID, "output binding references a step with no recorded result")
		}
		return evalPathOrWhole(v, ob.Path)
	case patterns.OutputObject:
		out := make(map[string]any, len(ob.Object))
		for field, b := range ob.Object {
			v, err := resolveBinding(ec, b)
			if err != nil {
				return nil, err
			}
			out[field] = v
		}
		return out, nil
	default:
		return nil, errInvalidInput("", "unsupported output binding kind "+string(ob.Kind))
	}
}

// toJSONString renders v as a deterministic string, used by Cache key
// construction: scalars keep their plain form, structured values are
// JSON-encoded.
func toJSONString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
