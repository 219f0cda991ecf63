package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/genqueue/job"
)

// meterName is the instrumentation scope name for genqueue metrics.
const meterName = "github.com/xraph/genqueue"

// Metrics returns middleware that records per-job execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - genqueue.job.duration (Float64Histogram): execution time in seconds,
//     with attribute status ("ok", "error", "engine", "timeout")
//   - genqueue.job.executions (Int64Counter): total executions, same
//     attributes
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments, so the middleware degrades
	// to a pass-through.
	duration, dErr := meter.Float64Histogram(
		"genqueue.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	executions, eErr := meter.Int64Counter(
		"genqueue.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr

	return func(ctx context.Context, _ *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("status", outcome(err)),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
