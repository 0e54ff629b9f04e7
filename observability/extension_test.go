package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/skeinlabs/skein/instance"
	"github.com/skeinlabs/skein/observability"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
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

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64] data type", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsExtensionCounters(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()

	in := instance.New("order-1", "transfer", 1)
	_ = ext.OnInstanceStarted(ctx, in)
	_ = ext.OnInstanceCompleted(ctx, in, 150*time.Millisecond)
	_ = ext.OnInstanceFailed(ctx, instance.New("order-2", "transfer", 1), errors.New("boom"))
	_ = ext.OnCheckpointCommitted(ctx, "order-1", 1, true)
	_ = ext.OnCheckpointCommitted(ctx, "order-1", 2, false)
	_ = ext.OnReplicationDegraded(ctx, "order-1", 2, errors.New("peer timeout"))
	_ = ext.OnRecordQuarantined(ctx, "order-3", 1, errors.New("bad version"))
	_ = ext.OnInstanceRecovered(ctx, "order-4", 3)

	rm := collect(t, reader)

	for name, want := range map[string]int64{
		"skein.instance.started":     1,
		"skein.instance.completed":   1,
		"skein.instance.failed":      1,
		"skein.checkpoint.committed": 2,
		"skein.replication.degraded": 1,
		"skein.record.quarantined":   1,
		"skein.instance.recovered":   1,
	} {
		if got := counterValue(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtensionCommittedReplicatedAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()

	_ = ext.OnCheckpointCommitted(ctx, "order-1", 1, true)
	_ = ext.OnCheckpointCommitted(ctx, "order-1", 2, false)

	rm := collect(t, reader)
	m := findMetric(rm, "skein.checkpoint.committed")
	if m == nil {
		t.Fatal("skein.checkpoint.committed not found")
	}
	sum := m.Data.(metricdata.Sum[int64])

	byReplicated := make(map[bool]int64)
	for _, dp := range sum.DataPoints {
		replicated, _ := dp.Attributes.Value(attribute.Key("replicated"))
		byReplicated[replicated.AsBool()] += dp.Value
	}
	if byReplicated[true] != 1 || byReplicated[false] != 1 {
		t.Errorf("unexpected replicated split: %+v", byReplicated)
	}
}

func TestOldestPendingGauge(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()

	// Nothing pending: gauge reads zero.
	rm := collect(t, reader)
	gauge := findMetric(rm, "skein.pending.oldest_age")
	if gauge == nil {
		t.Fatal("skein.pending.oldest_age not found")
	}
	g := gauge.Data.(metricdata.Gauge[float64])
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 0 {
		t.Errorf("expected zero age with nothing pending, got %+v", g.DataPoints)
	}

	in := instance.New("order-1", "transfer", 1)
	_ = ext.OnInstanceSuspended(ctx, in, "invoke")
	time.Sleep(20 * time.Millisecond)

	rm = collect(t, reader)
	g = findMetric(rm, "skein.pending.oldest_age").Data.(metricdata.Gauge[float64])
	if g.DataPoints[0].Value <= 0 {
		t.Errorf("expected positive age for pending op, got %v", g.DataPoints[0].Value)
	}

	// The completion clears the pending entry.
	_ = ext.OnInstanceResumed(ctx, in)
	rm = collect(t, reader)
	g = findMetric(rm, "skein.pending.oldest_age").Data.(metricdata.Gauge[float64])
	if g.DataPoints[0].Value != 0 {
		t.Errorf("expected zero age after resume, got %v", g.DataPoints[0].Value)
	}
}

func TestCheckpointSuspensionNotTrackedAsPending(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	in := instance.New("order-1", "transfer", 1)
	_ = ext.OnInstanceSuspended(context.Background(), in, "checkpoint")
	time.Sleep(5 * time.Millisecond)

	rm := collect(t, reader)
	g := findMetric(rm, "skein.pending.oldest_age").Data.(metricdata.Gauge[float64])
	if g.DataPoints[0].Value != 0 {
		t.Errorf("checkpoint suspensions are not pending IO, got age %v", g.DataPoints[0].Value)
	}
}
