// Package sched drives script instances without ever blocking a host
// thread on suspended work. Every instance has a FIFO event queue and
// at most one worker processing it at a time, so concurrent starts,
// completions, and cancellations for the same instance serialize in
// the order they were issued while distinct instances run in parallel
// across the pool.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/hook"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/instance"
	"github.com/skeinlabs/skein/interp"
	"github.com/skeinlabs/skein/middleware"
	"github.com/skeinlabs/skein/transport"
)

type eventKind int

const (
	evStart eventKind = iota
	evResume
	evCancel
)

// event is one unit of work for an instance: begin execution, apply a
// completion or checkpoint acknowledgement, or observe a cancellation.
type event struct {
	kind   eventKind
	args   []any
	op     id.OpID
	result any
	err    error
}

// entry pairs an instance with its FIFO event queue. active is true
// while a worker owns the entry; events enqueued meanwhile are drained
// by that same worker, which is what makes the instance single-writer.
type entry struct {
	mu     sync.Mutex
	inst   *instance.Instance
	queue  []*event
	active bool
}

// Scheduler owns the live instance table and the worker pool.
type Scheduler struct {
	interp  *interp.Interpreter
	manager *checkpoint.Manager
	invoker transport.Invoker
	hooks   *hook.Registry
	logger  *slog.Logger

	concurrency  int
	sliceTimeout time.Duration
	limiter      *rate.Limiter
	wrap         middleware.Middleware

	mu      sync.RWMutex
	entries map[string]*entry

	tasks   chan *entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSliceTimeout bounds each execution slice. Zero disables the
// bound.
func WithSliceTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.sliceTimeout = d }
}

// WithRateLimit throttles slice admission across all instances.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) { s.limiter = rate.NewLimiter(limit, burst) }
}

// WithMiddleware sets the middleware chain wrapped around every slice.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Scheduler) { s.wrap = middleware.Chain(mws...) }
}

// New creates a scheduler. manager and invoker may be nil for hosts
// that run pure scripts with no checkpoints or external operations.
func New(
	it *interp.Interpreter,
	manager *checkpoint.Manager,
	invoker transport.Invoker,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = hook.NewRegistry(logger)
	}

	s := &Scheduler{
		interp:      it,
		manager:     manager,
		invoker:     invoker,
		hooks:       hooks,
		logger:      logger,
		concurrency: 8,
		wrap:        middleware.Chain(),
		entries:     make(map[string]*entry),
		tasks:       make(chan *entry, 256),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker goroutines and registers the completion
// sink on the transport. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	if s.invoker != nil {
		s.invoker.OnCompletion(func(ctx context.Context, c *transport.Completion) {
			if err := s.Deliver(ctx, c); err != nil {
				s.logger.Debug("completion not deliverable",
					slog.String("instance", c.InstanceKey),
					slog.String("op", c.OpID.String()),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	s.logger.Info("scheduler starting", slog.Int("concurrency", s.concurrency))

	for range s.concurrency {
		s.wg.Add(1)
		go s.workerLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish or for
// the context deadline, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	s.runMu.Unlock()

	s.logger.Info("scheduler stopping")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}

// StartScript admits a new instance for the given entry point. An empty
// key gets a generated one. A key already admitted returns
// ErrInstanceExists so a replayed business request cannot spawn a
// duplicate instance.
func (s *Scheduler) StartScript(_ context.Context, key, function string, version int, args []any) (string, error) {
	if key == "" {
		key = id.NewInstanceKey()
	}

	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return key, skein.ErrInstanceExists
	}
	e := &entry{inst: instance.New(key, function, version)}
	s.entries[key] = e
	s.mu.Unlock()

	s.enqueue(e, &event{kind: evStart, args: args})
	return key, nil
}

// Deliver applies an operation completion to its instance. Completions
// whose op token no longer matches the instance's pending operation are
// duplicates and are dropped when the event is processed.
func (s *Scheduler) Deliver(_ context.Context, c *transport.Completion) error {
	e, ok := s.lookup(c.InstanceKey)
	if !ok {
		return skein.ErrInstanceNotFound
	}

	ev := &event{kind: evResume, op: c.OpID, result: c.Result}
	if c.Failed() {
		ev.err = errors.New(c.Err)
	}
	s.enqueue(e, ev)
	return nil
}

// Cancel marks the instance for termination. The cancellation takes
// effect at the next suspend boundary; a slice already running is never
// interrupted mid-frame.
func (s *Scheduler) Cancel(_ context.Context, key string) error {
	e, ok := s.lookup(key)
	if !ok {
		return skein.ErrInstanceNotFound
	}

	e.mu.Lock()
	if e.inst.State.IsTerminal() {
		e.mu.Unlock()
		return skein.ErrInvalidState
	}
	e.inst.Cancelled = true
	e.mu.Unlock()

	s.enqueue(e, &event{kind: evCancel})
	return nil
}

// Admit re-admits an instance recovered from a checkpoint and schedules
// its post-checkpoint resume. A key already admitted is a duplicate and
// is refused, so overlapping recovery paths cannot double-admit.
func (s *Scheduler) Admit(rec checkpoint.Recovered) bool {
	if rec.Chain == nil || rec.Chain.Empty() {
		// A record that decoded to nothing resumable must be refused
		// loudly; a silently lost instance is unrecoverable.
		s.logger.Error("refusing recovered record with empty chain",
			slog.String("instance", rec.InstanceKey),
			slog.Uint64("sequence", rec.Sequence),
		)
		return false
	}
	root := rec.Chain.Frames()[0]

	s.mu.Lock()
	if _, ok := s.entries[rec.InstanceKey]; ok {
		s.mu.Unlock()
		return false
	}

	in := instance.New(rec.InstanceKey, root.Function, root.FunctionVersion)
	in.Sequence = rec.Sequence
	if err := in.Suspend(instance.StateSuspendedCheckpointed, rec.Chain, id.Nil); err != nil {
		s.mu.Unlock()
		return false
	}

	e := &entry{inst: in}
	s.entries[rec.InstanceKey] = e
	s.mu.Unlock()

	s.logger.Info("instance re-admitted from checkpoint",
		slog.String("instance", rec.InstanceKey),
		slog.Uint64("sequence", rec.Sequence),
	)

	s.enqueue(e, &event{kind: evResume})
	return true
}

// Snapshot returns a copy of the instance's current state. The copy
// shares the suspended chain, which callers must treat as read-only.
func (s *Scheduler) Snapshot(key string) (instance.Instance, bool) {
	e, ok := s.lookup(key)
	if !ok {
		return instance.Instance{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.inst, true
}

// Len reports the number of admitted instances, terminal included.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Scheduler) lookup(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// enqueue appends the event and hands the entry to a worker unless one
// already owns it.
func (s *Scheduler) enqueue(e *entry, ev *event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	claimed := !e.active
	if claimed {
		e.active = true
	}
	e.mu.Unlock()

	if claimed {
		s.submit(e)
	}
}

// submit hands the entry to the pool without ever blocking the caller.
func (s *Scheduler) submit(e *entry) {
	select {
	case s.tasks <- e:
	default:
		go func() {
			select {
			case s.tasks <- e:
			case <-s.stopCh:
			}
		}()
	}
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case e := <-s.tasks:
			s.process(e)
		}
	}
}

// process drains the entry's queue. Only the worker that claimed the
// entry runs here, which gives each instance a single writer.
func (s *Scheduler) process(e *entry) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.active = false
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		s.handle(context.Background(), e, ev)
	}
}
