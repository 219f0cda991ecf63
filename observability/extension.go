package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/genqueue/observability"

// MetricsExtension records system-wide lifecycle metrics.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobCancelled metric.Int64Counter
	QueueWait    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}")) //nolint:errcheck // noop on error
		return c
	}
	wait, _ := meter.Float64Histogram("genqueue.job.queue_wait", //nolint:errcheck // noop on error
		metric.WithDescription("Time between admission and start in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobEnqueued:  counter("genqueue.job.enqueued", "Jobs admitted to the queue"),
		JobStarted:   counter("genqueue.job.started", "Jobs moved to running"),
		JobCompleted: counter("genqueue.job.completed", "Jobs completed successfully"),
		JobFailed:    counter("genqueue.job.failed", "Jobs failed during execution"),
		JobCancelled: counter("genqueue.job.cancelled", "Jobs cancelled while queued"),
		QueueWait:    wait,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ *job.Job) error {
	m.JobEnqueued.Add(ctx, 1)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1)
	if j.StartedAt != nil {
		m.QueueWait.Record(ctx, j.StartedAt.Sub(j.CreatedAt).Seconds())
	}
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(j.FailureKind))))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.Job) error {
	m.JobCancelled.Add(ctx, 1)
	return nil
}
