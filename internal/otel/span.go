// Package otel holds the span helpers shared by the upstream client and the
// batch writer.
package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	AttrServiceID   = attribute.Key("sync.service_id")
	AttrTable       = attribute.Key("db.table")
	AttrRecordCount = attribute.Key("batch.record_count")
	AttrAttempts    = attribute.Key("commit.attempts")
	AttrOutcome     = attribute.Key("sync.outcome")
	AttrRPCMethod   = attribute.Key("rpc.method")
	AttrCancelled   = attribute.Key("sync.cancelled")
)

// errorDescription is the status text of failed spans. Error text may carry
// SQL or upstream payload fragments and is kept to the exception event.
const errorDescription = "operation failed"

// StartSpan starts a span on tracer. A nil tracer yields the span already in
// ctx, which is a no-op span when there is none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed with err. Cancellation is not a failure:
// the span only gets AttrCancelled.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		span.SetAttributes(AttrCancelled.Bool(true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, errorDescription)
}

// Finish sets attrs, records err and ends span
func Finish(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	RecordError(span, err)
	span.End()
}
