// Package telemetry wraps UCS requests, cache operations, and dispatch
// cycles in OpenTelemetry spans. A no-op TracerProvider is used by
// default; the embedding process can install a real exporter via
// otel.SetTracerProvider before spans are started.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flightimport/ucsbridge"

// Tracer returns the package-wide tracer, resolved lazily against
// whatever TracerProvider is currently registered with otel.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span with the given name and attributes, mirroring
// the shape of sentry_sdk.start_span(op=..., name=...) call sites in the
// original request pipeline.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError sets span status to error and attaches err, or is a no-op
// if err is nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
