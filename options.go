package skein

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles;
// implementations satisfy store.Store which embeds the subsystem ports.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// schedRunner is an internal interface for scheduler lifecycle.
type schedRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runtime is the central coordinator for script execution, checkpointing,
// and recovery.
//
// Create one with New() and functional options. The Runtime holds
// references to subsystem components via internal interfaces to avoid
// import cycles; use engine.Build to wire everything together.
type Runtime struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	sched  schedRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Store returns the runtime's store.
func (rt *Runtime) Store() Storer { return rt.store }

// Config returns a copy of the runtime's configuration.
func (rt *Runtime) Config() Config { return rt.config }

// SetScheduler sets the scheduler (called by engine.Build).
func (rt *Runtime) SetScheduler(s schedRunner) { rt.sched = s }

// SetHooks sets the hook emitter (called by engine.Build).
func (rt *Runtime) SetHooks(h hookEmitter) { rt.hooks = h }

// Start begins driving script instances. It fails with ErrNotBuilt
// until engine.Build has wired a scheduler.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.sched == nil {
		return ErrNotBuilt
	}
	if err := rt.sched.Start(ctx); err != nil {
		return err
	}
	rt.started = true
	return nil
}

// Stop gracefully shuts down the runtime. Running slices are drained;
// suspended instances stay recoverable through their checkpoints.
func (rt *Runtime) Stop(ctx context.Context) error {
	if rt.sched != nil && rt.started {
		if err := rt.sched.Stop(ctx); err != nil {
			rt.logger.Error("scheduler stop error", "error", err)
		}
	}
	if rt.hooks != nil {
		rt.hooks.EmitShutdown(ctx)
	}
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) error {
		rt.config.Concurrency = n
		return nil
	}
}

// WithPeerAckTimeout bounds the replication acknowledgement wait.
func WithPeerAckTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.PeerAckTimeout = d
		return nil
	}
}

// WithSliceTimeout sets the per-run-slice execution deadline.
func WithSliceTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.SliceTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runtime.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds the checkpoint and quarantine ports.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}
