package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "llm-gateway"

// StartDispatchSpan starts a span covering one dispatch, including retries
// and fallback.
func StartDispatchSpan(ctx context.Context, modelID string, stream bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("model.id", modelID),
			attribute.Bool("dispatch.stream", stream),
		),
	)
}

// StartBackendSpan starts a span for the calls made to one backend.
func StartBackendSpan(ctx context.Context, backend, backendModel string, fallback bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "backend",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend.name", backend),
			attribute.String("backend.model", backendModel),
			attribute.Bool("dispatch.fallback", fallback),
		),
	)
}

// StartLedgerSpan starts a span for a credit ledger write.
func StartLedgerSpan(ctx context.Context, op, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ledger."+op,
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
