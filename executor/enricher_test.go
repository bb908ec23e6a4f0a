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

func TestEnricherSpreadMerge(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"), sourceTool("weather", "srv", "weather"))
	inv := gatewaytest.NewFakeInvoker().
		Respond("geo", map[string]any{"lat": 1.5, "lon": 2.5}).
		Respond("weather", map[string]any{"temp": float64(20)})
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"city": "Paris"})
	out, err := exec.runEnricher(context.Background(), ec, &patterns.Enricher{
		Enrichments: []patterns.Enrichment{
			{Field: "geo", Backend: toolSpec("geo")},
			{Field: "weather", Backend: toolSpec("weather")},
		},
		Merge: patterns.MergeStrategy{Kind: patterns.MergeSpread},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"city": "Paris", "lat": 1.5, "lon": 2.5, "temp": float64(20),
	}, out)
}

func TestEnricherNestedMerge(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"))
	inv := gatewaytest.NewFakeInvoker().Respond("geo", map[string]any{"lat": 1.5})
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"city": "Paris"})
	out, err := exec.runEnricher(context.Background(), ec, &patterns.Enricher{
		Enrichments: []patterns.Enrichment{{Field: "geo", Backend: toolSpec("geo")}},
		Merge:       patterns.MergeStrategy{Kind: patterns.MergeNested, Key: "extra"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"city":  "Paris",
		"extra": map[string]any{"geo": map[string]any{"lat": 1.5}},
	}, out)
}

func TestEnricherSchemaMapMerge(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"))
	inv := gatewaytest.NewFakeInvoker().Respond("geo", map[string]any{"coords": map[string]any{"lat": 1.5}})
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"city": "Paris"})
	out, err := exec.runEnricher(context.Background(), ec, &patterns.Enricher{
		Enrichments: []patterns.Enrichment{{Field: "geo", Backend: toolSpec("geo")}},
		Merge: patterns.MergeStrategy{
			Kind:     patterns.MergeSchemaMap,
			Mappings: map[string]string{"latitude": "geo.coords.lat"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Paris", "latitude": 1.5}, out)
}

func TestEnricherIgnoreFailures(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"), sourceTool("broken", "srv", "broken"))
	inv := gatewaytest.NewFakeInvoker().
		Respond("geo", map[string]any{"lat": 1.5}).
		Fail("broken", errors.New("down"))
	exec := newTestExecutor(store, inv)

	enr := &patterns.Enricher{
		Enrichments: []patterns.Enrichment{
			{Field: "geo", Backend: toolSpec("geo")},
			{Field: "broken", Backend: toolSpec("broken")},
		},
		Merge: patterns.MergeStrategy{Kind: patterns.MergeSpread},
	}

	// Failures propagate by default.
	ec := rootEC(store, inv, map[string]any{"city": "Paris"})
	_, err := exec.runEnricher(context.Background(), ec, enr)
	require.Error(t, err)

	// With ignore_failures, the successful enrichment still merges.
	enr.IgnoreFailures = true
	ec = rootEC(store, inv, map[string]any{"city": "Paris"})
	out, merr := exec.runEnricher(context.Background(), ec, enr)
	require.NoError(t, merr)
	assert.Equal(t, map[string]any{"city": "Paris", "lat": 1.5}, out)
}

func TestEnricherNonObjectBodyIsError(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"))
	inv := gatewaytest.NewFakeInvoker()
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, "not an object")
	_, err := exec.runEnricher(context.Background(), ec, &patterns.Enricher{
		Enrichments: []patterns.Enrichment{{Field: "geo", Backend: toolSpec("geo")}},
		Merge:       patterns.MergeStrategy{Kind: patterns.MergeSpread},
	})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTypeError, e.Kind)
}

func TestEnricherCustomInputBinding(t *testing.T) {
	t.Parallel()

	store := testStore(sourceTool("geo", "srv", "geo"))
	inv := gatewaytest.NewFakeInvoker().Respond("geo", map[string]any{"lat": 1.5})
	exec := newTestExecutor(store, inv)

	ec := rootEC(store, inv, map[string]any{"city": "Paris", "country": "FR"})
	_, err := exec.runEnricher(context.Background(), ec, &patterns.Enricher{
		Enrichments: []patterns.Enrichment{{
			Field:   "geo",
			Backend: toolSpec("geo"),
			Input:   &patterns.Binding{Kind: patterns.BindInput, Path: "$.city"},
		}},
		Merge: patterns.MergeStrategy{Kind: patterns.MergeSpread},
	})
	require.NoError(t, err)

	calls := inv.CallsFor("geo")
	require.Len(t, calls, 1)
	assert.Equal(t, "Paris", calls[0].Args)
}
