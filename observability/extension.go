package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skeinlabs/skein/hook"
	"github.com/skeinlabs/skein/instance"
)

// meterName is the instrumentation scope name for skein metrics.
const meterName = "github.com/skeinlabs/skein/observability"

// Compile-time interface checks.
var (
	_ hook.Extension           = (*MetricsExtension)(nil)
	_ hook.InstanceStarted     = (*MetricsExtension)(nil)
	_ hook.InstanceSuspended   = (*MetricsExtension)(nil)
	_ hook.InstanceResumed     = (*MetricsExtension)(nil)
	_ hook.InstanceCompleted   = (*MetricsExtension)(nil)
	_ hook.InstanceFailed      = (*MetricsExtension)(nil)
	_ hook.InstanceCancelled   = (*MetricsExtension)(nil)
	_ hook.CheckpointCommitted = (*MetricsExtension)(nil)
	_ hook.ReplicationDegraded = (*MetricsExtension)(nil)
	_ hook.RecordQuarantined   = (*MetricsExtension)(nil)
	_ hook.InstanceRecovered   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it
// on the hook registry to track start rates, completion counts,
// failure rates, checkpoint commits, replication degradations, and
// quarantine entries.
//
// The oldest-pending gauge watches every operation the runtime is
// waiting on and reports the age of the oldest one in seconds. A value
// that keeps growing means a completion is not coming back.
type MetricsExtension struct {
	started     metric.Int64Counter
	completed   metric.Int64Counter
	failed      metric.Int64Counter
	cancelled   metric.Int64Counter
	recovered   metric.Int64Counter
	duration    metric.Float64Histogram
	committed   metric.Int64Counter
	degraded    metric.Int64Counter
	quarantined metric.Int64Counter

	mu      sync.Mutex
	pending map[string]time.Time // instance key → suspended-for-io since
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{pending: make(map[string]time.Time)}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.started, _ = meter.Int64Counter("skein.instance.started",
		metric.WithDescription("Instances admitted for execution"),
		metric.WithUnit("{instance}"),
	)
	m.completed, _ = meter.Int64Counter("skein.instance.completed",
		metric.WithDescription("Instances that returned to top level"),
		metric.WithUnit("{instance}"),
	)
	m.failed, _ = meter.Int64Counter("skein.instance.failed",
		metric.WithDescription("Instances that failed terminally"),
		metric.WithUnit("{instance}"),
	)
	m.cancelled, _ = meter.Int64Counter("skein.instance.cancelled",
		metric.WithDescription("Instances cancelled at a suspend boundary"),
		metric.WithUnit("{instance}"),
	)
	m.recovered, _ = meter.Int64Counter("skein.instance.recovered",
		metric.WithDescription("Instances re-admitted from checkpoints"),
		metric.WithUnit("{instance}"),
	)
	m.duration, _ = meter.Float64Histogram("skein.instance.duration",
		metric.WithDescription("Wall time from start to completion in seconds"),
		metric.WithUnit("s"),
	)
	m.committed, _ = meter.Int64Counter("skein.checkpoint.committed",
		metric.WithDescription("Checkpoints that satisfied the acknowledgement rule"),
		metric.WithUnit("{checkpoint}"),
	)
	m.degraded, _ = meter.Int64Counter("skein.replication.degraded",
		metric.WithDescription("Checkpoint commits that degraded to local-only durability"),
		metric.WithUnit("{checkpoint}"),
	)
	m.quarantined, _ = meter.Int64Counter("skein.record.quarantined",
		metric.WithDescription("Stored records moved aside as undecodable"),
		metric.WithUnit("{record}"),
	)

	oldest, err := meter.Float64ObservableGauge("skein.pending.oldest_age",
		metric.WithDescription("Age in seconds of the oldest operation awaiting completion"),
		metric.WithUnit("s"),
	)
	if err == nil {
		_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveFloat64(oldest, m.oldestPendingAge().Seconds())
			return nil
		}, oldest)
	}

	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// oldestPendingAge returns the age of the longest-outstanding pending
// operation, zero when nothing is pending.
func (m *MetricsExtension) oldestPendingAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest time.Time
	for _, since := range m.pending {
		if oldest.IsZero() || since.Before(oldest) {
			oldest = since
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return time.Since(oldest)
}

func (m *MetricsExtension) trackPending(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key] = time.Now()
}

func (m *MetricsExtension) clearPending(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
}

// ── Instance lifecycle hooks ────────────────────────

// OnInstanceStarted implements hook.InstanceStarted.
func (m *MetricsExtension) OnInstanceStarted(ctx context.Context, in *instance.Instance) error {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("function", in.Function)))
	return nil
}

// OnInstanceSuspended implements hook.InstanceSuspended.
func (m *MetricsExtension) OnInstanceSuspended(_ context.Context, in *instance.Instance, kind string) error {
	if kind == "invoke" {
		m.trackPending(in.Key)
	}
	return nil
}

// OnInstanceResumed implements hook.InstanceResumed.
func (m *MetricsExtension) OnInstanceResumed(_ context.Context, in *instance.Instance) error {
	m.clearPending(in.Key)
	return nil
}

// OnInstanceCompleted implements hook.InstanceCompleted.
func (m *MetricsExtension) OnInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) error {
	m.clearPending(in.Key)
	attrs := metric.WithAttributes(attribute.String("function", in.Function))
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnInstanceFailed implements hook.InstanceFailed.
func (m *MetricsExtension) OnInstanceFailed(ctx context.Context, in *instance.Instance, _ error) error {
	m.clearPending(in.Key)
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("function", in.Function)))
	return nil
}

// OnInstanceCancelled implements hook.InstanceCancelled.
func (m *MetricsExtension) OnInstanceCancelled(ctx context.Context, in *instance.Instance) error {
	m.clearPending(in.Key)
	m.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("function", in.Function)))
	return nil
}

// ── Checkpoint lifecycle hooks ──────────────────────

// OnCheckpointCommitted implements hook.CheckpointCommitted.
func (m *MetricsExtension) OnCheckpointCommitted(ctx context.Context, _ string, _ uint64, replicated bool) error {
	m.committed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("replicated", replicated)))
	return nil
}

// OnReplicationDegraded implements hook.ReplicationDegraded.
func (m *MetricsExtension) OnReplicationDegraded(ctx context.Context, _ string, _ uint64, _ error) error {
	m.degraded.Add(ctx, 1)
	return nil
}

// OnRecordQuarantined implements hook.RecordQuarantined.
func (m *MetricsExtension) OnRecordQuarantined(ctx context.Context, _ string, _ uint64, _ error) error {
	m.quarantined.Add(ctx, 1)
	return nil
}

// OnInstanceRecovered implements hook.InstanceRecovered.
func (m *MetricsExtension) OnInstanceRecovered(ctx context.Context, _ string, _ uint64) error {
	m.recovered.Add(ctx, 1)
	return nil
}
