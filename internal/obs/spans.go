package obs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartCommandSpan starts the span covering one command's lifetime.
func StartCommandSpan(ctx context.Context, tracer trace.Tracer, sessionID, sourceDevice string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bridge.command",
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrSourceDevice.String(sourceDevice),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartApprovalSpan starts the span covering one approval round trip,
// nested under a command span when ctx carries one.
func StartApprovalSpan(ctx context.Context, tracer trace.Tracer, requestID, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bridge.approval",
		trace.WithAttributes(
			AttrRequestID.String(requestID),
			AttrToolName.String(toolName),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSpan is a generic convenience wrapper for ad-hoc internal spans.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
