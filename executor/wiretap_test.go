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

func TestWireTapBeforeCarriesInput(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("main", "srv", "main"))
	inv := gatewaytest.NewFakeInvoker().
		Respond("main", map[string]any{"result": true}).
		Respond("audit", "tapped")
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"q": "x"})
	out, err := exec.runWireTap(context.Background(), ec, &patterns.WireTap{
		Inner:    toolSpec("main"),
		Targets:  []patterns.WireTapTarget{{Backend: "audit", Percentage: 1.0}},
		TapPoint: patterns.TapBefore,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": true}, out)

	taps := inv.CallsFor("audit")
	require.Len(t, taps, 1)
	assert.Equal(t, map[string]any{"q": "x"}, taps[0].Args)
}

func TestWireTapBothFiresTwice(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("main", "srv", "main"))
	inv := gatewaytest.NewFakeInvoker().
		Respond("main", map[string]any{"result": true}).
		Respond("audit", "tapped")
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"q": "x"})
	_, err := exec.runWireTap(context.Background(), ec, &patterns.WireTap{
		Inner:    toolSpec("main"),
		Targets:  []patterns.WireTapTarget{{Backend: "audit", Percentage: 1.0}},
		TapPoint: patterns.TapBoth,
	})
	require.NoError(t, err)
	assert.Len(t, inv.CallsFor("audit"), 2)
}

func TestWireTapZeroPercentNeverFires(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("main", "srv", "main"))
	inv := gatewaytest.NewFakeInvoker().Respond("main", "ok")
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{})
	_, err := exec.runWireTap(context.Background(), ec, &patterns.WireTap{
		Inner:    toolSpec("main"),
		Targets:  []patterns.WireTapTarget{{Backend: "audit", Percentage: 0}},
		TapPoint: patterns.TapBoth,
	})
	require.NoError(t, err)
	assert.Empty(t, inv.CallsFor("audit"))
}

func TestWireTapFailureDoesNotAffectMainResult(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("main", "srv", "main"))
	inv := gatewaytest.NewFakeInvoker().
		Respond("main", "ok").
		Fail("audit", errors.New("tap backend down"))
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{})
	out, err := exec.runWireTap(context.Background(), ec, &patterns.WireTap{
		Inner:    toolSpec("main"),
		Targets:  []patterns.WireTapTarget{{Backend: "audit", Percentage: 1.0}},
		TapPoint: patterns.TapBefore,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRouterFirstMatchWins(t *testing.T) {
	t.Parallel()

	store := testStore(
		sourceTool("cheap", "srv", "cheap"),
		sourceTool("premium", "srv", "premium"),
		sourceTool("standard", "srv", "standard"),
	)
	inv := gatewaytest.NewFakeInvoker().
		Respond("cheap", "cheap result").
		Respond("premium", "premium result").
		Respond("standard", "standard result")
	exec := newTestExecutor(store, inv)

	otherwise := toolSpec("standard")
	router := &patterns.Router{
		Routes: []patterns.Route{
			{When: patterns.Predicate{Field: "$.tier", Op: patterns.OpEq, Value: "premium"}, Then: toolSpec("premium")},
			{When: patterns.Predicate{Field: "$.budget", Op: patterns.OpLt, Value: float64(10)}, Then: toolSpec("cheap")},
		},
		Otherwise: &otherwise,
	}

	cases := []struct {
		input map[string]any
		want  string
	}{
		{map[string]any{"tier": "premium", "budget": float64(5)}, "premium result"},
		{map[string]any{"tier": "basic", "budget": float64(5)}, "cheap result"},
		{map[string]any{"tier": "basic", "budget": float64(50)}, "standard result"},
	}
	for _, tc := range cases {
		ec := rootEC(store, inv, tc.input)
		out, err := exec.runRouter(context.Background(), ec, router)
		require.NoError(t, err)
		assert.Equal(t, tc.want, out)
	}
}

func TestRouterNoRouteMatch(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("a", "srv", "a"))
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"kind": "other"})
	_, err := exec.runRouter(context.Background(), ec, &patterns.Router{
		Routes: []patterns.Route{
			{When: patterns.Predicate{Field: "$.kind", Op: patterns.OpEq, Value: "a"}, Then: toolSpec("a")},
		},
	})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindNoRouteMatch, e.Kind)
}
