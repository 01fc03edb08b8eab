package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/coord/task"
)

// tracerName is the instrumentation scope name for coord tracing.
const tracerName = "github.com/xraph/coord"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. Without a global TracerProvider the noop tracer is used.
//
// Span attributes: coord.task.id, coord.job.id, coord.plugin, coord.queue,
// coord.task.attempts, and coord.status once the run ends.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "coord.task.execute",
			trace.WithAttributes(
				attribute.String("coord.task.id", t.ID),
				attribute.String("coord.job.id", t.JobID),
				attribute.String("coord.plugin", t.Plugin),
				attribute.String("coord.queue", t.Queue),
				attribute.Int("coord.task.attempts", t.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("coord.status", Outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
