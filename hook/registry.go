package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeinlabs/skein/instance"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type instanceStartedEntry struct {
	name string
	hook InstanceStarted
}

type instanceSuspendedEntry struct {
	name string
	hook InstanceSuspended
}

type instanceResumedEntry struct {
	name string
	hook InstanceResumed
}

type instanceCompletedEntry struct {
	name string
	hook InstanceCompleted
}

type instanceFailedEntry struct {
	name string
	hook InstanceFailed
}

type instanceCancelledEntry struct {
	name string
	hook InstanceCancelled
}

type checkpointCommittedEntry struct {
	name string
	hook CheckpointCommitted
}

type replicationDegradedEntry struct {
	name string
	hook ReplicationDegraded
}

type recordQuarantinedEntry struct {
	name string
	hook RecordQuarantined
}

type instanceRecoveredEntry struct {
	name string
	hook InstanceRecovered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	instanceStarted     []instanceStartedEntry
	instanceSuspended   []instanceSuspendedEntry
	instanceResumed     []instanceResumedEntry
	instanceCompleted   []instanceCompletedEntry
	instanceFailed      []instanceFailedEntry
	instanceCancelled   []instanceCancelledEntry
	checkpointCommitted []checkpointCommittedEntry
	replicationDegraded []replicationDegradedEntry
	recordQuarantined   []recordQuarantinedEntry
	instanceRecovered   []instanceRecoveredEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(InstanceStarted); ok {
		r.instanceStarted = append(r.instanceStarted, instanceStartedEntry{name, h})
	}
	if h, ok := e.(InstanceSuspended); ok {
		r.instanceSuspended = append(r.instanceSuspended, instanceSuspendedEntry{name, h})
	}
	if h, ok := e.(InstanceResumed); ok {
		r.instanceResumed = append(r.instanceResumed, instanceResumedEntry{name, h})
	}
	if h, ok := e.(InstanceCompleted); ok {
		r.instanceCompleted = append(r.instanceCompleted, instanceCompletedEntry{name, h})
	}
	if h, ok := e.(InstanceFailed); ok {
		r.instanceFailed = append(r.instanceFailed, instanceFailedEntry{name, h})
	}
	if h, ok := e.(InstanceCancelled); ok {
		r.instanceCancelled = append(r.instanceCancelled, instanceCancelledEntry{name, h})
	}
	if h, ok := e.(CheckpointCommitted); ok {
		r.checkpointCommitted = append(r.checkpointCommitted, checkpointCommittedEntry{name, h})
	}
	if h, ok := e.(ReplicationDegraded); ok {
		r.replicationDegraded = append(r.replicationDegraded, replicationDegradedEntry{name, h})
	}
	if h, ok := e.(RecordQuarantined); ok {
		r.recordQuarantined = append(r.recordQuarantined, recordQuarantinedEntry{name, h})
	}
	if h, ok := e.(InstanceRecovered); ok {
		r.instanceRecovered = append(r.instanceRecovered, instanceRecoveredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Instance event emitters
// ──────────────────────────────────────────────────

// EmitInstanceStarted notifies all extensions that implement InstanceStarted.
func (r *Registry) EmitInstanceStarted(ctx context.Context, in *instance.Instance) {
	for _, e := range r.instanceStarted {
		if err := e.hook.OnInstanceStarted(ctx, in); err != nil {
			r.logHookError("OnInstanceStarted", e.name, err)
		}
	}
}

// EmitInstanceSuspended notifies all extensions that implement InstanceSuspended.
func (r *Registry) EmitInstanceSuspended(ctx context.Context, in *instance.Instance, kind string) {
	for _, e := range r.instanceSuspended {
		if err := e.hook.OnInstanceSuspended(ctx, in, kind); err != nil {
			r.logHookError("OnInstanceSuspended", e.name, err)
		}
	}
}

// EmitInstanceResumed notifies all extensions that implement InstanceResumed.
func (r *Registry) EmitInstanceResumed(ctx context.Context, in *instance.Instance) {
	for _, e := range r.instanceResumed {
		if err := e.hook.OnInstanceResumed(ctx, in); err != nil {
			r.logHookError("OnInstanceResumed", e.name, err)
		}
	}
}

// EmitInstanceCompleted notifies all extensions that implement InstanceCompleted.
func (r *Registry) EmitInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) {
	for _, e := range r.instanceCompleted {
		if err := e.hook.OnInstanceCompleted(ctx, in, elapsed); err != nil {
			r.logHookError("OnInstanceCompleted", e.name, err)
		}
	}
}

// EmitInstanceFailed notifies all extensions that implement InstanceFailed.
func (r *Registry) EmitInstanceFailed(ctx context.Context, in *instance.Instance, instErr error) {
	for _, e := range r.instanceFailed {
		if err := e.hook.OnInstanceFailed(ctx, in, instErr); err != nil {
			r.logHookError("OnInstanceFailed", e.name, err)
		}
	}
}

// EmitInstanceCancelled notifies all extensions that implement InstanceCancelled.
func (r *Registry) EmitInstanceCancelled(ctx context.Context, in *instance.Instance) {
	for _, e := range r.instanceCancelled {
		if err := e.hook.OnInstanceCancelled(ctx, in); err != nil {
			r.logHookError("OnInstanceCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Checkpoint event emitters
// ──────────────────────────────────────────────────

// EmitCheckpointCommitted notifies all extensions that implement CheckpointCommitted.
func (r *Registry) EmitCheckpointCommitted(ctx context.Context, key string, seq uint64, replicated bool) {
	for _, e := range r.checkpointCommitted {
		if err := e.hook.OnCheckpointCommitted(ctx, key, seq, replicated); err != nil {
			r.logHookError("OnCheckpointCommitted", e.name, err)
		}
	}
}

// EmitReplicationDegraded notifies all extensions that implement ReplicationDegraded.
func (r *Registry) EmitReplicationDegraded(ctx context.Context, key string, seq uint64, cause error) {
	for _, e := range r.replicationDegraded {
		if err := e.hook.OnReplicationDegraded(ctx, key, seq, cause); err != nil {
			r.logHookError("OnReplicationDegraded", e.name, err)
		}
	}
}

// EmitRecordQuarantined notifies all extensions that implement RecordQuarantined.
func (r *Registry) EmitRecordQuarantined(ctx context.Context, key string, seq uint64, reason error) {
	for _, e := range r.recordQuarantined {
		if err := e.hook.OnRecordQuarantined(ctx, key, seq, reason); err != nil {
			r.logHookError("OnRecordQuarantined", e.name, err)
		}
	}
}

// EmitInstanceRecovered notifies all extensions that implement InstanceRecovered.
func (r *Registry) EmitInstanceRecovered(ctx context.Context, key string, seq uint64) {
	for _, e := range r.instanceRecovered {
		if err := e.hook.OnInstanceRecovered(ctx, key, seq); err != nil {
			r.logHookError("OnInstanceRecovered", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never propagate into
// the runtime's own control flow.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
