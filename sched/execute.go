package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/instance"
	"github.com/skeinlabs/skein/interp"
	"github.com/skeinlabs/skein/transport"
)

// update applies a mutation under the entry lock. The owning worker is
// the only writer, but Cancel and Snapshot read concurrently.
func (e *entry) update(fn func(in *instance.Instance)) {
	e.mu.Lock()
	fn(e.inst)
	e.mu.Unlock()
}

// handle applies one event to the entry's instance.
func (s *Scheduler) handle(ctx context.Context, e *entry, ev *event) {
	in := e.inst

	e.mu.Lock()
	st := in.State
	cancelled := in.Cancelled
	pendingOp := in.PendingOp
	chain := in.Chain
	e.mu.Unlock()

	if st.IsTerminal() {
		s.logger.Debug("dropping event for terminated instance",
			slog.String("instance", in.Key),
		)
		return
	}

	if cancelled {
		s.terminateCancelled(ctx, e)
		return
	}

	switch ev.kind {
	case evCancel:
		// Cancellation already applied above.
		return

	case evStart:
		e.update(func(in *instance.Instance) { _ = in.Run() })
		s.hooks.EmitInstanceStarted(ctx, in)
		out := s.slice(ctx, in, func(c context.Context) interp.Outcome {
			return s.interp.Start(c, in.Key, in.Function, in.FunctionVersion, ev.args)
		})
		s.settle(ctx, e, out)

	case evResume:
		if st == instance.StateSuspendedPendingIO &&
			ev.op.String() != pendingOp.String() {
			s.logger.Debug("dropping completion with stale op token",
				slog.String("instance", in.Key),
				slog.String("op", ev.op.String()),
				slog.String("pending", pendingOp.String()),
			)
			return
		}

		// Parked on a checkpoint, the instance awaits no operation: a
		// transport completion arriving here is a redundant delivery
		// and must not release it, or an unacknowledged checkpoint
		// could be crossed. Only the internal resume, which carries no
		// op token, may pass.
		if st == instance.StateSuspendedCheckpointed && !ev.op.IsNil() {
			s.logger.Debug("dropping completion for checkpointed instance",
				slog.String("instance", in.Key),
				slog.String("op", ev.op.String()),
			)
			return
		}

		if chain == nil || chain.Empty() {
			s.logger.Debug("dropping resume for instance with no suspended chain",
				slog.String("instance", in.Key),
			)
			return
		}

		e.update(func(in *instance.Instance) { _ = in.Run() })
		s.hooks.EmitInstanceResumed(ctx, in)
		out := s.slice(ctx, in, func(c context.Context) interp.Outcome {
			return s.interp.Resume(c, in.Key, chain, ev.result, ev.err)
		})
		s.settle(ctx, e, out)
	}
}

// settle walks the instance through suspend boundaries until it is
// parked (pending IO, or suspended on a failed checkpoint) or terminal.
// Checkpoint acknowledgements resume synchronously on the same worker,
// so a script that checkpoints in a loop keeps moving without a queue
// round trip.
func (s *Scheduler) settle(ctx context.Context, e *entry, out interp.Outcome) {
	in := e.inst

	for {
		switch out.Kind {
		case interp.OutcomeCompleted:
			e.update(func(in *instance.Instance) {
				in.Result = out.Value
				in.Terminate()
			})
			s.hooks.EmitInstanceCompleted(ctx, in, time.Since(in.CreatedAt))
			s.dropCheckpoints(ctx, in.Key)
			return

		case interp.OutcomeFailed:
			e.update(func(in *instance.Instance) {
				in.LastError = out.Err.Error()
				in.Terminate()
			})
			s.hooks.EmitInstanceFailed(ctx, in, out.Err)
			s.dropCheckpoints(ctx, in.Key)
			return
		}

		pending := out.Pending

		if pending.Kind == interp.PendingCheckpoint {
			e.update(func(in *instance.Instance) {
				_ = in.Suspend(instance.StateSuspendedCheckpointed, out.Chain, id.Nil)
			})
			s.hooks.EmitInstanceSuspended(ctx, in, "checkpoint")

			seq := in.Sequence + 1
			if s.manager != nil {
				if err := s.manager.Commit(ctx, in.Key, seq, out.Chain); err != nil {
					// The acknowledgement rule is not satisfied. The
					// instance stays suspended; it can be recovered
					// from the previous durable checkpoint.
					e.update(func(in *instance.Instance) { in.LastError = err.Error() })
					s.logger.Error("checkpoint commit failed",
						slog.String("instance", in.Key),
						slog.Uint64("sequence", seq),
						slog.String("error", err.Error()),
					)
					return
				}
			}
			e.update(func(in *instance.Instance) { in.Sequence = seq })

			if s.cancelled(e) {
				s.terminateCancelled(ctx, e)
				return
			}

			// Acknowledged. Resume past the checkpoint immediately.
			chain := in.Chain
			e.update(func(in *instance.Instance) { _ = in.Run() })
			s.hooks.EmitInstanceResumed(ctx, in)
			out = s.slice(ctx, in, func(c context.Context) interp.Outcome {
				return s.interp.Resume(c, in.Key, chain, nil, nil)
			})
			continue
		}

		// Pending external operation.
		op := id.NewOpID()
		e.update(func(in *instance.Instance) {
			_ = in.Suspend(instance.StateSuspendedPendingIO, out.Chain, op)
		})
		s.hooks.EmitInstanceSuspended(ctx, in, "invoke")

		if s.cancelled(e) {
			s.terminateCancelled(ctx, e)
			return
		}

		req := &transport.Request{
			OpID:        op,
			InstanceKey: in.Key,
			Service:     pending.Service,
			Payload:     pending.Payload,
			IdempotencyKey: transport.IdempotencyKey(
				in.Key, in.Sequence, pending.Service, pending.IP,
			),
		}

		var dispatchErr error
		if s.invoker == nil {
			dispatchErr = fmt.Errorf("sched: no transport for service %q", pending.Service)
		} else {
			dispatchErr = s.invoker.Invoke(ctx, req)
		}

		if dispatchErr != nil {
			// Dispatch failure is delivered to the suspended frame as
			// the operation's failure, so a declared error slot can
			// still catch it.
			s.logger.Warn("operation dispatch failed",
				slog.String("instance", in.Key),
				slog.String("service", pending.Service),
				slog.String("error", dispatchErr.Error()),
			)
			s.enqueue(e, &event{kind: evResume, op: op, err: dispatchErr})
		}
		return
	}
}

// slice runs one execution slice through the middleware chain, the
// rate limiter, and the slice deadline.
func (s *Scheduler) slice(ctx context.Context, in *instance.Instance, run func(context.Context) interp.Outcome) interp.Outcome {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return interp.Failed(err)
		}
	}

	if s.sliceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sliceTimeout)
		defer cancel()
	}

	var out interp.Outcome
	err := s.wrap(ctx, in, func(c context.Context) error {
		out = run(c)
		if out.Kind == interp.OutcomeFailed {
			return out.Err
		}
		return nil
	})

	// A middleware short-circuit (recovered panic, injected error)
	// leaves out unset or successful while err carries the failure.
	if err != nil && out.Kind != interp.OutcomeFailed {
		return interp.Failed(err)
	}
	return out
}

func (s *Scheduler) cancelled(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.Cancelled
}

func (s *Scheduler) terminateCancelled(ctx context.Context, e *entry) {
	e.update(func(in *instance.Instance) { in.Terminate() })
	s.hooks.EmitInstanceCancelled(ctx, e.inst)
	s.dropCheckpoints(ctx, e.inst.Key)
	s.logger.Info("instance cancelled", slog.String("instance", e.inst.Key))
}

func (s *Scheduler) dropCheckpoints(ctx context.Context, key string) {
	if s.manager == nil {
		return
	}
	s.manager.Drop(ctx, key)
}
