// Package interp implements the execution engine: it drives one script
// instance's compiled function bodies between suspend points.
//
// The interpreter is stateless across calls. All execution state lives
// in the frame stack it builds while running, and that stack is
// captured into a relocatable continuation chain whenever the script
// reaches a suspend point (an external invoke or an explicit
// checkpoint). The caller owns concurrency: the scheduler guarantees at
// most one Start or Resume is in flight per instance.
package interp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skeinlabs/skein/frame"
	"github.com/skeinlabs/skein/program"
)

// Interpreter drives compiled functions from the registry.
type Interpreter struct {
	registry *program.Registry
	logger   *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the interpreter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(it *Interpreter) { it.logger = l }
}

// New creates an interpreter over the given function registry.
func New(registry *program.Registry, opts ...Option) *Interpreter {
	it := &Interpreter{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(it)
	}

	return it
}

// Start begins fresh execution of the named function. A version of 0
// resolves to the latest registered version. args are bound in order to
// the function's parameter slots.
func (it *Interpreter) Start(ctx context.Context, key, function string, version int, args []any) Outcome {
	fn, err := it.registry.Lookup(function, version)
	if err != nil {
		return Failed(err)
	}

	root, err := it.enter(fn, args)
	if err != nil {
		return Failed(err)
	}

	it.logger.Debug("starting instance",
		slog.String("instance", key),
		slog.String("function", fn.Name),
		slog.Int("version", fn.Version),
	)

	return it.run(ctx, key, []*frame.Frame{root})
}

// Resume restores a captured chain, delivers the pending operation's
// result (or error) to the innermost frame, and continues execution.
//
// A non-nil opErr is a transport-level failure. When the suspended call
// site declared an error slot the message is bound there and execution
// continues under script-level error handling; otherwise the run fails.
func (it *Interpreter) Resume(ctx context.Context, key string, chain *frame.Chain, result any, opErr error) Outcome {
	if chain == nil || chain.Empty() {
		panic(&frame.DesyncError{Op: "resume", Detail: "resume with empty chain for " + key})
	}

	// The chain is consumed: after Resume it no longer owns any frame.
	stack := make([]*frame.Frame, chain.Len())
	for i := len(stack) - 1; i >= 0; i-- {
		stack[i] = chain.Pop()
	}

	top := stack[len(stack)-1]
	if opErr != nil {
		if top.ErrSlot == "" {
			return Failed(opErr)
		}

		top.SetLocal(top.ErrSlot, opErr.Error())
		if top.ResultSlot != "" {
			top.SetLocal(top.ResultSlot, nil)
		}
	} else {
		if top.ResultSlot != "" {
			top.SetLocal(top.ResultSlot, result)
		}
		if top.ErrSlot != "" {
			top.SetLocal(top.ErrSlot, nil)
		}
	}

	top.ResultSlot = ""
	top.ErrSlot = ""

	it.logger.Debug("resuming instance",
		slog.String("instance", key),
		slog.String("function", top.Function),
		slog.Int("ip", top.IP),
	)

	return it.run(ctx, key, stack)
}

// enter builds the activation frame for fn with args bound to its
// parameter slots.
func (it *Interpreter) enter(fn *program.Function, args []any) (*frame.Frame, error) {
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("interp: %s v%d expects %d arguments, got %d", fn.Name, fn.Version, len(fn.Params), len(args))
	}

	f := frame.NewFrame(fn.Name, fn.Version)
	for i, p := range fn.Params {
		f.SetLocal(p, args[i])
	}

	return f, nil
}

// run drives the frame stack until completion, suspension, or failure.
func (it *Interpreter) run(ctx context.Context, key string, stack []*frame.Frame) Outcome {
	var retval any

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		fn, err := it.registry.Lookup(f.Function, f.FunctionVersion)
		if err != nil {
			return Failed(err)
		}

		if f.IP < 0 || f.IP >= len(fn.Body) {
			panic(&frame.DesyncError{
				Op:     "run",
				Detail: fmt.Sprintf("ip %d out of range for %s v%d (%d instructions)", f.IP, fn.Name, fn.Version, len(fn.Body)),
			})
		}

		if err := ctx.Err(); err != nil {
			return Failed(err)
		}

		in := fn.Body[f.IP]

		switch in.Kind {
		case program.KindEval:
			v, err := in.Compute(f)
			if err != nil {
				return Failed(fmt.Errorf("interp: %s@%d: %w", f.Function, f.IP, err))
			}
			if in.Dst != "" {
				f.SetLocal(in.Dst, v)
			}
			f.IP++

		case program.KindJump:
			f.IP = in.Target

		case program.KindJumpUnless:
			v, _ := f.Local(in.Cond)
			if program.Truthy(v) {
				f.IP++
			} else {
				f.IP = in.Target
			}

		case program.KindCall:
			callee, err := it.registry.Lookup(in.Callee, in.CalleeVersion)
			if err != nil {
				return Failed(err)
			}

			args, err := callArgs(f, in)
			if err != nil {
				return Failed(err)
			}

			child, err := it.enter(callee, args)
			if err != nil {
				return Failed(err)
			}

			// The caller's result slot receives the callee's return
			// value; execution continues past the call site.
			f.ResultSlot = in.Dst
			f.IP++
			stack = append(stack, child)

		case program.KindInvoke:
			var payload any
			if in.Compute != nil {
				v, err := in.Compute(f)
				if err != nil {
					return Failed(fmt.Errorf("interp: %s@%d: %w", f.Function, f.IP, err))
				}
				payload = v
			}

			op := &PendingOp{
				Kind:       PendingInvoke,
				Service:    in.Service,
				Payload:    payload,
				Function:   f.Function,
				IP:         f.IP,
				HasErrSlot: in.ErrSlot != "",
			}

			f.ResultSlot = in.Dst
			f.ErrSlot = in.ErrSlot
			f.IP++

			chain, err := capture(stack)
			if err != nil {
				return Failed(err)
			}

			it.logger.Debug("suspending for invoke",
				slog.String("instance", key),
				slog.String("service", in.Service),
				slog.String("function", op.Function),
				slog.Int("ip", op.IP),
			)

			return Suspended(chain, op)

		case program.KindCheckpoint:
			op := &PendingOp{
				Kind:     PendingCheckpoint,
				Function: f.Function,
				IP:       f.IP,
			}

			f.ResultSlot = ""
			f.ErrSlot = ""
			f.IP++

			chain, err := capture(stack)
			if err != nil {
				return Failed(err)
			}

			it.logger.Debug("suspending for checkpoint",
				slog.String("instance", key),
				slog.String("function", op.Function),
				slog.Int("ip", op.IP),
			)

			return Suspended(chain, op)

		case program.KindReturn:
			retval = nil
			if in.Compute != nil {
				v, err := in.Compute(f)
				if err != nil {
					return Failed(fmt.Errorf("interp: %s@%d: %w", f.Function, f.IP, err))
				}
				retval = v
			}

			stack[len(stack)-1] = nil
			stack = stack[:len(stack)-1]

			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				if parent.ResultSlot != "" {
					parent.SetLocal(parent.ResultSlot, retval)
				}
				parent.ResultSlot = ""
				parent.ErrSlot = ""
			}

		default:
			panic(&frame.DesyncError{
				Op:     "run",
				Detail: fmt.Sprintf("unknown instruction kind %d at %s@%d", int(in.Kind), f.Function, f.IP),
			})
		}
	}

	it.logger.Debug("instance completed", slog.String("instance", key))

	return Completed(retval)
}

// callArgs evaluates a call's argument tuple.
func callArgs(f *frame.Frame, in program.Instr) ([]any, error) {
	if in.Compute == nil {
		return nil, nil
	}

	v, err := in.Compute(f)
	if err != nil {
		return nil, fmt.Errorf("interp: %s@%d: %w", f.Function, f.IP, err)
	}
	if v == nil {
		return nil, nil
	}

	args, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("interp: %s@%d: call arguments must be []any, got %T", f.Function, f.IP, v)
	}

	return args, nil
}

// capture detaches the live stack into a relocatable chain, outermost
// frame first. Every frame is deep-copied so the chain holds no
// references to interpreter-owned mutables.
func capture(stack []*frame.Frame) (*frame.Chain, error) {
	chain := frame.NewChain()
	for _, f := range stack {
		detached, err := f.Detach()
		if err != nil {
			return nil, err
		}

		chain.Push(detached)
	}

	return chain, nil
}
