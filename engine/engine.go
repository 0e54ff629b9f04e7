package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/backoff"
	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/hook"
	"github.com/skeinlabs/skein/instance"
	"github.com/skeinlabs/skein/interp"
	mw "github.com/skeinlabs/skein/middleware"
	"github.com/skeinlabs/skein/observability"
	"github.com/skeinlabs/skein/program"
	"github.com/skeinlabs/skein/quarantine"
	"github.com/skeinlabs/skein/sched"
	"github.com/skeinlabs/skein/transport"
)

// Engine wraps a Runtime with typed subsystem access.
// Use Build() to create one from a Runtime.
type Engine struct {
	rt        *skein.Runtime
	hooks     *hook.Registry
	programs  *program.Registry
	interp    *interp.Interpreter
	manager   *checkpoint.Manager
	scheduler *sched.Scheduler
	invoker   transport.Invoker
	qsvc      *quarantine.Service
	logger    *slog.Logger

	// Configuration collected from options before wiring.
	peer       checkpoint.Peer
	pullBo     backoff.Strategy
	mws        []mw.Middleware
	rateLimit  rate.Limit
	rateBurst  int
	extensions []hook.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithMiddleware adds middleware to the engine's slice chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithPeer sets the replication peer. Without a peer every checkpoint
// commits with local-only durability and no degradation is reported.
func WithPeer(p checkpoint.Peer) Option {
	return func(eng *Engine) {
		eng.peer = p
	}
}

// WithTransport sets the operation transport. If not set, an
// in-process transport.Memory is created; register handlers on it via
// Transport().
func WithTransport(inv transport.Invoker) Option {
	return func(eng *Engine) {
		eng.invoker = inv
	}
}

// WithPullBackoff sets the retry backoff for the startup peer pull.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithPullBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.pullBo = b
	}
}

// WithRateLimit throttles slice admission across all instances.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(eng *Engine) {
		eng.rateLimit = limit
		eng.rateBurst = burst
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability
// extension use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Runtime. The Runtime's
// store must implement the checkpoint and quarantine ports.
func Build(rt *skein.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	store := rt.Store()

	if store == nil {
		return nil, skein.ErrNoStore
	}

	cs, ok := store.(checkpoint.Store)
	if !ok {
		return nil, fmt.Errorf("skein: store does not implement checkpoint.Store")
	}
	qs, ok := store.(quarantine.Store)
	if !ok {
		return nil, fmt.Errorf("skein: store does not implement quarantine.Store")
	}

	eng := &Engine{
		rt:       rt,
		hooks:    hook.NewRegistry(logger),
		programs: program.NewRegistry(),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.pullBo == nil {
		eng.pullBo = backoff.DefaultStrategy()
	}
	if eng.invoker == nil {
		eng.invoker = transport.NewMemory(logger)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/skeinlabs/skein")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/skeinlabs/skein")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/skeinlabs/skein/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	for _, e := range eng.extensions {
		eng.hooks.Register(e)
	}

	// Build default middleware stack: recover → tracing → metrics → logging.
	// The slice deadline lives in the scheduler so it also bounds the
	// synchronous checkpoint resume.
	config := rt.Config()
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	// Quarantine service over the same backend.
	eng.qsvc = quarantine.NewService(qs, cs, logger)

	// Checkpoint manager.
	mgrOpts := []checkpoint.ManagerOption{
		checkpoint.WithAckTimeout(config.PeerAckTimeout),
		checkpoint.WithQuarantine(eng.qsvc),
		checkpoint.WithEmitter(eng.hooks),
		checkpoint.WithManagerLogger(logger),
		checkpoint.WithPullRetries(config.RecoveryPullRetries, eng.pullBo),
	}
	if eng.peer != nil {
		mgrOpts = append(mgrOpts, checkpoint.WithPeer(eng.peer))
	}
	eng.manager = checkpoint.NewManager(cs, mgrOpts...)

	// Interpreter and scheduler.
	eng.interp = interp.New(eng.programs, interp.WithLogger(logger))

	schedOpts := []sched.Option{
		sched.WithConcurrency(config.Concurrency),
		sched.WithSliceTimeout(config.SliceTimeout),
		sched.WithMiddleware(allMws...),
	}
	if eng.rateLimit > 0 {
		schedOpts = append(schedOpts, sched.WithRateLimit(eng.rateLimit, eng.rateBurst))
	}
	eng.scheduler = sched.New(eng.interp, eng.manager, eng.invoker, eng.hooks, logger, schedOpts...)

	// Wire back into the Runtime.
	rt.SetScheduler(eng.scheduler)
	rt.SetHooks(eng.hooks)

	return eng, nil
}

// ── Typed accessors ─────────────────────────────────

// Programs returns the function registry.
func (e *Engine) Programs() *program.Registry { return e.programs }

// Extensions returns the hook registry.
func (e *Engine) Extensions() *hook.Registry { return e.hooks }

// Scheduler returns the scheduler.
func (e *Engine) Scheduler() *sched.Scheduler { return e.scheduler }

// Manager returns the checkpoint manager.
func (e *Engine) Manager() *checkpoint.Manager { return e.manager }

// Transport returns the operation transport.
func (e *Engine) Transport() transport.Invoker { return e.invoker }

// Quarantine returns the quarantine service.
func (e *Engine) Quarantine() *quarantine.Service { return e.qsvc }

// Runtime returns the wrapped runtime.
func (e *Engine) Runtime() *skein.Runtime { return e.rt }

// ── Operations ──────────────────────────────────────

// RegisterFunction adds a function to the registry.
func (e *Engine) RegisterFunction(fn *program.Function) error {
	return e.programs.Register(fn)
}

// MustRegisterFunction is like RegisterFunction but panics on error.
// Use for static program definitions at startup.
func (e *Engine) MustRegisterFunction(fn *program.Function) {
	e.programs.MustRegister(fn)
}

// Start starts the runtime and re-admits every instance recoverable
// from the local store. When a peer is configured, its pending set is
// pulled in the background with retries; pull failure never blocks
// serving new requests.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.rt.Start(ctx); err != nil {
		return err
	}

	if _, err := e.Recover(ctx); err != nil {
		return err
	}

	if e.peer != nil {
		go e.pullPeer(context.Background())
	}
	return nil
}

// Stop gracefully shuts down the runtime.
func (e *Engine) Stop(ctx context.Context) error {
	return e.rt.Stop(ctx)
}

// StartScript admits a new script instance. An empty key gets a
// generated one. Starting is idempotent per key: a replayed business
// request with a key already admitted returns that key and no error,
// and no second instance is created.
func (e *Engine) StartScript(ctx context.Context, key, function string, version int, args ...any) (string, error) {
	key, err := e.scheduler.StartScript(ctx, key, function, version, args)
	if errors.Is(err, skein.ErrInstanceExists) {
		return key, nil
	}
	return key, err
}

// Deliver applies an operation completion to its instance.
func (e *Engine) Deliver(ctx context.Context, c *transport.Completion) error {
	return e.scheduler.Deliver(ctx, c)
}

// Cancel marks the instance for termination at its next suspend
// boundary.
func (e *Engine) Cancel(ctx context.Context, key string) error {
	return e.scheduler.Cancel(ctx, key)
}

// Snapshot returns a copy of the instance's current state.
func (e *Engine) Snapshot(key string) (instance.Instance, bool) {
	return e.scheduler.Snapshot(key)
}

// Recover decodes every pending record in the local store and
// re-admits the instances. It returns the number admitted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recovered, err := e.manager.Recover(ctx)
	if err != nil {
		return 0, err
	}

	admitted := 0
	for _, rec := range recovered {
		if e.scheduler.Admit(rec) {
			admitted++
		}
	}
	return admitted, nil
}

// pullPeer adopts strictly-newer records from the peer and admits the
// instances. Runs in the background at startup.
func (e *Engine) pullPeer(ctx context.Context) {
	recovered, err := e.manager.PullPeer(ctx)
	if err != nil {
		if errors.Is(err, skein.ErrNoPeer) {
			return
		}
		e.logger.Warn("peer pull failed; serving with local state only",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, rec := range recovered {
		e.scheduler.Admit(rec)
	}
}
