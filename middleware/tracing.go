package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/genqueue/job"
)

// tracerName is the instrumentation scope name for genqueue tracing.
const tracerName = "github.com/xraph/genqueue"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes include: genqueue.job.id, genqueue.job.owner,
// genqueue.job.priority, genqueue.job.timeout_ms, and on failure
// genqueue.job.outcome.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "genqueue.job.execute",
			trace.WithAttributes(
				attribute.String("genqueue.job.id", j.ID.String()),
				attribute.String("genqueue.job.owner", j.Owner),
				attribute.Int("genqueue.job.priority", j.Priority),
				attribute.Int64("genqueue.job.timeout_ms", j.Timeout.Milliseconds()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("genqueue.job.outcome", outcome(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
