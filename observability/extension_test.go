package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return job.New("alice", json.RawMessage(`{"prompt":"x"}`), 5, time.Minute, time.Now())
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64]", name)
			}
			out := make(map[string]int64)
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value("kind")
				out[kind.AsString()] += dp.Value
			}
			return out
		}
	}
	return nil
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Counters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	_ = e.OnJobCancelled(ctx, j)

	if got := sumOf(t, reader, "genqueue.job.enqueued")[""]; got != 2 {
		t.Errorf("enqueued = %d, want 2", got)
	}
	if got := sumOf(t, reader, "genqueue.job.completed")[""]; got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := sumOf(t, reader, "genqueue.job.cancelled")[""]; got != 1 {
		t.Errorf("cancelled = %d, want 1", got)
	}
}

func TestMetricsExtension_FailedByKind(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	for _, kind := range []job.FailureKind{job.FailureTimeout, job.FailureTimeout, job.FailureEngine} {
		j := newTestJob()
		_ = j.Fail(kind, "x", time.Now())
		_ = e.OnJobFailed(ctx, j, errors.New("x"))
	}

	got := sumOf(t, reader, "genqueue.job.failed")
	if got["timeout"] != 2 || got["engine"] != 1 {
		t.Errorf("failed by kind = %v", got)
	}
}

func TestMetricsExtension_QueueWait(t *testing.T) {
	e, reader := newTestExtension()
	j := newTestJob()
	_ = j.Start(j.CreatedAt.Add(3 * time.Second))

	_ = e.OnJobStarted(context.Background(), j)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "genqueue.job.queue_wait" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("unexpected histogram data %#v", m.Data)
			}
			if hist.DataPoints[0].Sum != 3 {
				t.Errorf("queue wait sum = %v, want 3", hist.DataPoints[0].Sum)
			}
			return
		}
	}
	t.Fatal("genqueue.job.queue_wait not recorded")
}

func TestMetricsExtension_RegistryIntegration(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	reg.EmitJobEnqueued(context.Background(), newTestJob())

	if got := sumOf(t, reader, "genqueue.job.enqueued")[""]; got != 1 {
		t.Errorf("enqueued = %d, want 1", got)
	}
}

func TestMetricsExtension_GlobalNoop(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatal(err)
	}
}
