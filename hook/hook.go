// Package hook defines the extension system for Skein. Extensions are
// notified of lifecycle events (instance started, suspended, resumed,
// checkpoint committed, replication degraded, etc.) and can react to
// them — logging, metrics, tracing, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/skeinlabs/skein/instance"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Instance lifecycle hooks
// ──────────────────────────────────────────────────

// InstanceStarted is called when a fresh instance begins executing.
type InstanceStarted interface {
	OnInstanceStarted(ctx context.Context, in *instance.Instance) error
}

// InstanceSuspended is called when an instance captures its stack and
// yields. kind is "invoke" or "checkpoint".
type InstanceSuspended interface {
	OnInstanceSuspended(ctx context.Context, in *instance.Instance, kind string) error
}

// InstanceResumed is called when a suspended instance is driven again.
type InstanceResumed interface {
	OnInstanceResumed(ctx context.Context, in *instance.Instance) error
}

// InstanceCompleted is called after an instance returns to top level.
type InstanceCompleted interface {
	OnInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) error
}

// InstanceFailed is called when an instance fails terminally.
type InstanceFailed interface {
	OnInstanceFailed(ctx context.Context, in *instance.Instance, err error) error
}

// InstanceCancelled is called when a cancellation takes effect at a
// suspend boundary.
type InstanceCancelled interface {
	OnInstanceCancelled(ctx context.Context, in *instance.Instance) error
}

// ──────────────────────────────────────────────────
// Checkpoint lifecycle hooks
// ──────────────────────────────────────────────────

// CheckpointCommitted is called after a checkpoint satisfies the
// acknowledgement rule. replicated is false when the commit degraded
// to local-only durability.
type CheckpointCommitted interface {
	OnCheckpointCommitted(ctx context.Context, key string, seq uint64, replicated bool) error
}

// ReplicationDegraded is called when the peer misses its
// acknowledgement window.
type ReplicationDegraded interface {
	OnReplicationDegraded(ctx context.Context, key string, seq uint64, err error) error
}

// RecordQuarantined is called when a stored record cannot be decoded
// and is moved aside.
type RecordQuarantined interface {
	OnRecordQuarantined(ctx context.Context, key string, seq uint64, reason error) error
}

// InstanceRecovered is called for each instance re-admitted from a
// checkpoint at startup.
type InstanceRecovered interface {
	OnInstanceRecovered(ctx context.Context, key string, seq uint64) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
