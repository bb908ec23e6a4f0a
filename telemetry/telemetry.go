// Package telemetry provides the small Logger/Tracer seams every core
// component logs and traces through: a thin interface with a real backend
// (zap for logging, OpenTelemetry for tracing) plus a no-op default so
// components never need a nil check.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger is the structured logging seam used throughout the core.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Span wraps a tracing span handle so callers never import OTel directly.
type Span interface {
	SetAttributes(kv ...attribute.KeyValue)
	RecordError(err error)
	End()
}

// Tracer starts spans. Implementations gate span creation behind
// sampling so tracing has near-zero cost when off.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// --- zap-backed logger ---

type zapLogger struct{ l *zap.Logger }

// NewZapLogger wraps an existing zap.Logger. A nil l is treated as a noop.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NewNoopLogger()
	}
	return &zapLogger{l: l}
}

func kvToFields(keyvals []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}

func (z *zapLogger) Debug(_ context.Context, msg string, kv ...any) {
	z.l.Debug(msg, kvToFields(kv)...)
}
func (z *zapLogger) Info(_ context.Context, msg string, kv ...any) { z.l.Info(msg, kvToFields(kv)...) }
func (z *zapLogger) Warn(_ context.Context, msg string, kv ...any) { z.l.Warn(msg, kvToFields(kv)...) }
func (z *zapLogger) Error(_ context.Context, msg string, kv ...any) {
	z.l.Error(msg, kvToFields(kv)...)
}

// --- noop logger ---

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

// --- OTel-backed tracer ---

type otelTracer struct{ tracer trace.Tracer }

// NewOtelTracer wraps an OpenTelemetry tracer obtained from
// otel.Tracer(instrumentationName).
func NewOtelTracer(t trace.Tracer) Tracer { return &otelTracer{tracer: t} }

type otelSpan struct{ span trace.Span }

func (o *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := o.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (s *otelSpan) SetAttributes(kv ...attribute.KeyValue) { s.span.SetAttributes(kv...) }
func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
func (s *otelSpan) End() { s.span.End() }

// --- noop tracer ---

type noopTracer struct{}

// NewNoopTracer returns a Tracer that creates no real spans.
func NewNoopTracer() Tracer { return noopTracer{} }

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                   {}
func (noopSpan) End()                                {}
