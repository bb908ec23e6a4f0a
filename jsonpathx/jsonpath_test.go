package jsonpathx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{
		"no dollar",
		"$.a..b",
		"$.a[",
		"$.a[xyz]",
		"$.",
	} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestEvalSingleMatch(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"a": {"b": 42}, "arr": [10, 20, 30]}`)

	v, ok := MustParse("$.a.b").Eval(root)
	require.True(t, ok)
	assert.Equal(t, float64(42), v)

	v, ok = MustParse("$.arr[1]").Eval(root)
	require.True(t, ok)
	assert.Equal(t, float64(20), v)

	// Negative index counts from the end.
	v, ok = MustParse("$.arr[-1]").Eval(root)
	require.True(t, ok)
	assert.Equal(t, float64(30), v)

	// Root selector.
	v, ok = MustParse("$").Eval(root)
	require.True(t, ok)
	assert.Equal(t, root, v)
}

func TestEvalNoMatch(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"a": 1}`)
	v, ok := MustParse("$.missing.deep").Eval(root)
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok = MustParse("$.a[0]").Eval(root)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestEvalWildcardMultiMatch(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"items": [{"id": "a"}, {"id": "b"}, {"id": "c"}]}`)
	v, ok := MustParse("$.items[*].id").Eval(root)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestFirstCollapsesMultiMatch(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"items": [{"id": "a"}, {"id": "b"}]}`)
	v, ok := MustParse("$.items[*].id").First(root)
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestBracketFieldAccess(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"a": [{"x": 1}, {"x": 2}]}`)
	v, ok := MustParse("$.a[0].x").Eval(root)
	require.True(t, ok)
	assert.Equal(t, float64(1), v)
}

func TestGetOneShot(t *testing.T) {
	t.Parallel()

	root := decode(t, `{"a": {"b": "value"}}`)
	v, ok, err := Get(root, "$.a.b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	_, _, err = Get(root, "broken[")
	assert.Error(t, err)
}
