package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskledger"

// StartAppendSpan starts a span for an event append.
func StartAppendSpan(ctx context.Context, workflowID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "append",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartReplaySpan starts a span for an event stream replay.
func StartReplaySpan(ctx context.Context, workflowID string, fromCheckpoint bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "replay",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.Bool("replay.from_checkpoint", fromCheckpoint),
		),
	)
}

// StartVerificationSpan starts a span for a verification command run.
func StartVerificationSpan(ctx context.Context, taskID, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "verification",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("verification.command", command),
		),
	)
}
