package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgateway/composition-core/gatewaytest"
	"github.com/toolgateway/composition-core/patterns"
)

func TestFilterPredicates(t *testing.T) {
	t.Parallel()

	items := []any{
		map[string]any{"name": "alpha", "score": float64(10), "tags": []any{"x", "y"}},
		map[string]any{"name": "beta", "score": float64(5), "tags": []any{"y"}},
		map[string]any{"name": "gamma", "score": float64(7)},
	}
	store := testStore()
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)

	cases := []struct {
		name string
		pred patterns.Predicate
		want []string
	}{
		{"eq", patterns.Predicate{Field: "$.name", Op: patterns.OpEq, Value: "beta"}, []string{"beta"}},
		{"ne nil field is true", patterns.Predicate{Field: "$.missing", Op: patterns.OpNe, Value: "v"}, []string{"alpha", "beta", "gamma"}},
		{"gt", patterns.Predicate{Field: "$.score", Op: patterns.OpGt, Value: float64(6)}, []string{"alpha", "gamma"}},
		{"lte", patterns.Predicate{Field: "$.score", Op: patterns.OpLte, Value: float64(7)}, []string{"beta", "gamma"}},
		{"contains array", patterns.Predicate{Field: "$.tags", Op: patterns.OpContains, Value: "x"}, []string{"alpha"}},
		{"in", patterns.Predicate{Field: "$.name", Op: patterns.OpIn, Value: []any{"alpha", "gamma"}}, []string{"alpha", "gamma"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := rootEC(store, inv, items)
			out, err := exec.runFilter(context.Background(), ec, &patterns.Filter{Predicate: tc.pred})
			require.NoError(t, err)
			var names []string
			for _, el := range out.([]any) {
				names = append(names, el.(map[string]any)["name"].(string))
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestFilterNonArrayInput(t *testing.T) {
	t.Parallel()

	store := testStore()
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, map[string]any{"not": "array"})

	_, err := exec.runFilter(context.Background(), ec, &patterns.Filter{
		Predicate: patterns.Predicate{Field: "$.x", Op: patterns.OpEq, Value: "v"},
	})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTypeError, e.Kind)
}

func TestSchemaMapFieldSources(t *testing.T) {
	t.Parallel()

	input := map[string]any{
		"user": map[string]any{"first": "Ada", "last": "Lovelace"},
		"id":   float64(7),
	}
	sm := &patterns.SchemaMap{Mappings: map[string]patterns.FieldSource{
		"first": {Kind: patterns.SrcPath, Path: "$.user.first"},
		"fixed": {Kind: patterns.SrcLiteral, Literal: "constant"},
		"pick":  {Kind: patterns.SrcCoalesce, Paths: []string{"$.missing", "$.user.last"}},
		"greet": {Kind: patterns.SrcTemplate, Template: "hello {name}", Vars: map[string]string{"name": "$.user.first"}},
		"full":  {Kind: patterns.SrcConcat, Paths: []string{"$.user.first", "$.user.last"}, Sep: " "},
		"wrapped": {Kind: patterns.SrcNested, Nested: &patterns.SchemaMap{Mappings: map[string]patterns.FieldSource{
			"id": {Kind: patterns.SrcPath, Path: "$.id"},
		}}},
	}}

	out, err := evalSchemaMap(input, sm)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"first":   "Ada",
		"fixed":   "constant",
		"pick":    "Lovelace",
		"greet":   "hello Ada",
		"full":    "Ada Lovelace",
		"wrapped": map[string]any{"id": float64(7)},
	}, out)
}

func TestMapEachAppliesInnerPerElement(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("upper", "srv", "upper"))
	inv := gatewaytest.NewFakeInvoker()
	inv.Handler = func(server, tool string, args any) (any, error) {
		return map[string]any{"wrapped": args}, nil
	}
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, []any{map[string]any{"v": "a"}, map[string]any{"v": "b"}})

	out, err := exec.runMapEach(context.Background(), ec, &patterns.MapEach{Inner: toolSpec("upper")})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"wrapped": map[string]any{"v": "a"}},
		map[string]any{"wrapped": map[string]any{"v": "b"}},
	}, out)
}

func TestMapEachNonArrayInput(t *testing.T) {
	t.Parallel()

	store := testStore()
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)
	ec := rootEC(store, inv, "scalar")

	_, err := exec.runMapEach(context.Background(), ec, &patterns.MapEach{Inner: toolSpec("x")})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTypeError, e.Kind)
}
