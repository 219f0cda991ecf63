package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/genqueue"
	mw "github.com/xraph/genqueue/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func executionsByStatus(t *testing.T, rm metricdata.ResourceMetrics) map[string]int64 {
	t.Helper()
	metric := findMetric(rm, "genqueue.job.executions")
	if metric == nil {
		t.Fatal("genqueue.job.executions metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		out[status.AsString()] += dp.Value
	}
	return out
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { return nil })

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "genqueue.job.duration")
	if metric == nil {
		t.Fatal("genqueue.job.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one recorded duration, got %+v", hist.DataPoints)
	}
}

func TestMetrics_StatusAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	ctx := context.Background()

	_ = m(ctx, newTestJob(), func(_ context.Context) error { return nil })
	_ = m(ctx, newTestJob(), func(_ context.Context) error { return errors.New("plain") })
	_ = m(ctx, newTestJob(), func(_ context.Context) error {
		return genqueue.NewExecutionError(genqueue.KindTimeout, errors.New("late"))
	})
	_ = m(ctx, newTestJob(), func(_ context.Context) error {
		return genqueue.NewExecutionError(genqueue.KindTimeout, errors.New("late"))
	})

	got := executionsByStatus(t, collectMetrics(t, reader))
	want := map[string]int64{"ok": 1, "error": 1, "timeout": 2}
	for status, n := range want {
		if got[status] != n {
			t.Errorf("status %q = %d, want %d (all: %v)", status, got[status], n, got)
		}
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	m := mw.Metrics()

	called := false
	err := m(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
