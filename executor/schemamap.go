package executor

import (
	"context"
	"strings"

	"github.com/toolgateway/composition-core/patterns"
)

// runSchemaMap builds an object from sm's field sources evaluated against
// ec.Input.
func (e *Executor) runSchemaMap(_ context.Context, ec *ExecutionContext, sm *patterns.SchemaMap) (any, error) {
	return evalSchemaMap(ec.Input, sm)
}

func evalSchemaMap(root any, sm *patterns.SchemaMap) (any, error) {
	out := make(map[string]any, len(sm.Mappings))
	for field, src := range sm.Mappings {
		v, err := evalFieldSource(root, src)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func evalFieldSource(root any, src patterns.FieldSource) (any, error) {
	switch src.Kind {
	case patterns.SrcPath:
		v, err := evalPathOrWhole(root, src.Path)
		if err != nil {
			return nil, err
		}
		return v, nil
	case patterns.SrcLiteral:
		return src.Literal, nil
	case patterns.SrcCoalesce:
		for _, p := range src.Paths {
			v, err := evalPathOrWhole(root, p)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	case patterns.SrcTemplate:
		return evalTemplate(root, src.Template, src.Vars)
	case patterns.SrcConcat:
		var parts []string
		for _, p := range src.Paths {
			v, err := evalPathOrWhole(root, p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, toJSONString(v))
		}
		return strings.Join(parts, src.Sep), nil
	case patterns.SrcNested:
		if src.Nested == nil {
			return nil, errInvalidInput("schemaMap", "nested field source with no schemaMap")
		}
		return evalSchemaMap(root, src.Nested)
	default:
		return nil, errInvalidInput("schemaMap", "unknown field source kind "+string(src.Kind))
	}
}

// evalTemplate substitutes each {name} placeholder in tmpl with the string
// form of the JSONPath in vars[name] evaluated against root.
func evalTemplate(root any, tmpl string, vars map[string]string) (string, error) {
	out := tmpl
	for name, path := range vars {
		v, err := evalPathOrWhole(root, path)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, "{"+name+"}", toJSONString(v))
	}
	return out, nil
}
