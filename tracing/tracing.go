// Package tracing implements the per-call tracing handle: an opaque
// parent-span reference plus a verbosity enum and sampled flag,
// threaded through every composition and step. The span plumbing itself is
// real OpenTelemetry (go.opentelemetry.io/otel/trace); only the Verbosity
// enum is this module's own small wrapper, since OTel has no native
// concept of it.
package tracing

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/toolgateway/composition-core/telemetry"
)

// Verbosity gates how much detail per-step spans carry.
type Verbosity int

const (
	VerbosityNone Verbosity = iota
	VerbosityEvents
	VerbosityTiming
	VerbosityFull
)

// Context is the per-call tracing handle: an opaque parent span plus the
// verbosity/sampling gates. A nil *Context means tracing is off.
type Context struct {
	Parent    oteltrace.SpanContext
	Verbosity Verbosity
	Sampled   bool
}

// maxPayloadBytes bounds the size of any payload attribute attached to a
// span "payload truncation".
const maxPayloadBytes = 2048

// StartStep starts a span for one pattern/tool execution step, gated
// behind Sampled so span creation has near-zero cost when tracing is off.
// input/output are attached as truncated JSON attributes only when
// Verbosity is Full.
func (tc *Context) StartStep(ctx context.Context, tracer telemetry.Tracer, stepID, opKind string, input any) (context.Context, telemetry.Span) {
	if tc == nil || !tc.Sampled || tracer == nil {
		return ctx, noopSpan{}
	}
	attrs := []attribute.KeyValue{
		attribute.String("composition.step_id", stepID),
		attribute.String("composition.op_kind", opKind),
	}
	if tc.Verbosity == VerbosityFull {
		attrs = append(attrs, attribute.String("composition.input", truncate(input)))
	}
	return tracer.Start(ctx, "composition.step."+opKind, oteltrace.WithAttributes(attrs...))
}

// RecordOutput attaches a truncated output attribute when Verbosity is
// Full; a no-op otherwise (and a no-op on a noop span regardless).
func (tc *Context) RecordOutput(span telemetry.Span, output any) {
	if tc == nil || tc.Verbosity != VerbosityFull || span == nil {
		return
	}
	span.SetAttributes(attribute.String("composition.output", truncate(output)))
}

func truncate(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unmarshalable>"
	}
	if len(b) > maxPayloadBytes {
		return string(b[:maxPayloadBytes]) + "...(truncated)"
	}
	return string(b)
}

type noopSpan struct{}

func (noopSpan) SetAttributes(...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                   {}
func (noopSpan) End()                                {}
