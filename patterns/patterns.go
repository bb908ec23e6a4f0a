// Package patterns defines the closed vocabulary of composition patterns:
// the Spec tagged union, the Binding forms used by Pipeline/Saga, and the
// FieldSource forms used by SchemaMap.
//
// Each type is modeled as a Go struct with a Kind discriminator plus
// pointer fields for each variant's payload. Adding a new pattern kind is
// an intentional, breaking change: every exhaustive switch over Kind must
// be updated.
package patterns

import "encoding/json"

// Kind enumerates every pattern and leaf operation.
type Kind string

const (
	KindPipeline       Kind = "pipeline"
	KindScatterGather  Kind = "scatterGather"
	KindFilter         Kind = "filter"
	KindSchemaMap      Kind = "schemaMap"
	KindMapEach        Kind = "mapEach"
	KindRetry          Kind = "retry"
	KindTimeout        Kind = "timeout"
	KindCache          Kind = "cache"
	KindIdempotent     Kind = "idempotent"
	KindCircuitBreaker Kind = "circuitBreaker"
	KindDeadLetter     Kind = "deadLetter"
	KindSaga           Kind = "saga"
	KindClaimCheck     Kind = "claimCheck"
	KindThrottle       Kind = "throttle"
	KindWireTap        Kind = "wireTap"
	KindRouter         Kind = "router"
	KindEnricher       Kind = "enricher"
	// KindTool and KindAgent are leaf operations referenced from Step,
	// ScatterGather targets, Router routes, and MapEach's inner operation.
	KindTool  Kind = "tool"
	KindAgent Kind = "agent"
)

// Spec is the tagged union of every pattern/leaf operation. Exactly the
// field matching Kind is populated. Spec is what ExecutionGraph nodes and
// nested `inner`/`then`/`targets` fields hold.
type Spec struct {
	Kind Kind `json:"kind"`

	Tool  string `json:"tool,omitempty"`  // KindTool
	Agent string `json:"agent,omitempty"` // KindAgent

	Pipeline       *Pipeline       `json:"pipeline,omitempty"`
	ScatterGather  *ScatterGather  `json:"scatterGather,omitempty"`
	Filter         *Filter         `json:"filter,omitempty"`
	SchemaMap      *SchemaMap      `json:"schemaMap,omitempty"`
	MapEach        *MapEach        `json:"mapEach,omitempty"`
	Retry          *Retry          `json:"retry,omitempty"`
	Timeout        *Timeout        `json:"timeout,omitempty"`
	Cache          *Cache          `json:"cache,omitempty"`
	Idempotent     *Idempotent     `json:"idempotent,omitempty"`
	CircuitBreaker *CircuitBreaker `json:"circuitBreaker,omitempty"`
	DeadLetter     *DeadLetter     `json:"deadLetter,omitempty"`
	Saga           *Saga           `json:"saga,omitempty"`
	ClaimCheck     *ClaimCheck     `json:"claimCheck,omitempty"`
	Throttle       *Throttle       `json:"throttle,omitempty"`
	WireTap        *WireTap        `json:"wireTap,omitempty"`
	Router         *Router         `json:"router,omitempty"`
	Enricher       *Enricher       `json:"enricher,omitempty"`
}

// UnmarshalJSON decodes the externally-tagged wire form
// (`{"pipeline": {...}}`, `{"scatterGather": {...}}`, ...) into a Spec
// with Kind set from whichever single key is present.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if tool, ok := raw["tool"]; ok {
		var name string
		if err := json.Unmarshal(tool, &name); err != nil {
			return err
		}
		s.Kind, s.Tool = KindTool, name
		return nil
	}
	if agent, ok := raw["agent"]; ok {
		var name string
		if err := json.Unmarshal(agent, &name); err != nil {
			return err
		}
		s.Kind, s.Agent = KindAgent, name
		return nil
	}
	type variant struct {
		kind   Kind
		target any
	}
	variants := []variant{
		{KindPipeline, &s.Pipeline},
		{KindScatterGather, &s.ScatterGather},
		{KindFilter, &s.Filter},
		{KindSchemaMap, &s.SchemaMap},
		{KindMapEach, &s.MapEach},
		{KindRetry, &s.Retry},
		{KindTimeout, &s.Timeout},
		{KindCache, &s.Cache},
		{KindIdempotent, &s.Idempotent},
		{KindCircuitBreaker, &s.CircuitBreaker},
		{KindDeadLetter, &s.DeadLetter},
		{KindSaga, &s.Saga},
		{KindClaimCheck, &s.ClaimCheck},
		{KindThrottle, &s.Throttle},
		{KindWireTap, &s.WireTap},
		{KindRouter, &s.Router},
		{KindEnricher, &s.Enricher},
	}
	for _, v := range variants {
		if body, ok := raw[string(v.kind)]; ok {
			if err := json.Unmarshal(body, v.target); err != nil {
				return err
			}
			s.Kind = v.kind
			return nil
		}
	}
	return &UnknownPatternError{Raw: string(data)}
}

// MarshalJSON re-encodes a Spec into the externally-tagged wire form.
func (s Spec) MarshalJSON() ([]byte, error) {
	wrap := func(key string, v any) ([]byte, error) {
		return json.Marshal(map[string]any{key: v})
	}
	switch s.Kind {
	case KindTool:
		return wrap("tool", s.Tool)
	case KindAgent:
		return wrap("agent", s.Agent)
	case KindPipeline:
		return wrap(string(KindPipeline), s.Pipeline)
	case KindScatterGather:
		return wrap(string(KindScatterGather), s.ScatterGather)
	case KindFilter:
		return wrap(string(KindFilter), s.Filter)
	case KindSchemaMap:
		return wrap(string(KindSchemaMap), s.SchemaMap)
	case KindMapEach:
		return wrap(string(KindMapEach), s.MapEach)
	case KindRetry:
		return wrap(string(KindRetry), s.Retry)
	case KindTimeout:
		return wrap(string(KindTimeout), s.Timeout)
	case KindCache:
		return wrap(string(KindCache), s.Cache)
	case KindIdempotent:
		return wrap(string(KindIdempotent), s.Idempotent)
	case KindCircuitBreaker:
		return wrap(string(KindCircuitBreaker), s.CircuitBreaker)
	case KindDeadLetter:
		return wrap(string(KindDeadLetter), s.DeadLetter)
	case KindSaga:
		return wrap(string(KindSaga), s.Saga)
	case KindClaimCheck:
		return wrap(string(KindClaimCheck), s.ClaimCheck)
	case KindThrottle:
		return wrap(string(KindThrottle), s.Throttle)
	case KindWireTap:
		return wrap(string(KindWireTap), s.WireTap)
	case KindRouter:
		return wrap(string(KindRouter), s.Router)
	case KindEnricher:
		return wrap(string(KindEnricher), s.Enricher)
	default:
		return nil, &UnknownPatternError{Raw: string(s.Kind)}
	}
}

// UnknownPatternError is returned when a pattern document does not match
// any known externally-tagged key.
type UnknownPatternError struct{ Raw string }

func (e *UnknownPatternError) Error() string {
	return "patterns: unrecognized pattern document: " + e.Raw
}
