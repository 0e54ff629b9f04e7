// Package program defines the compiled execution form the interpreter
// drives: a Function is a dense slice of instructions, and a Registry
// maps (name, version) pairs to function bodies.
//
// The language front end (lexer, parser, type checker) lives outside
// this module; hosts register already-compiled Functions. Instruction
// compute steps are Go closures and are never serialized — a captured
// frame records only the function name, version, instruction index, and
// local bindings, and the body is looked up again on resume. A resumed
// checkpoint therefore requires the same (name, version) to be
// registered in the recovering process.
package program

import (
	"fmt"

	"github.com/skeinlabs/skein/frame"
)

// Kind discriminates instruction variants.
type Kind int

const (
	// KindEval computes a value from the frame's locals and stores it.
	KindEval Kind = iota

	// KindJump transfers control unconditionally.
	KindJump

	// KindJumpUnless transfers control when the condition slot is falsy.
	KindJumpUnless

	// KindCall pushes a frame for a registered function and runs it.
	KindCall

	// KindInvoke suspends for an external operation via the transport.
	KindInvoke

	// KindCheckpoint suspends for a durable checkpoint of the chain.
	KindCheckpoint

	// KindReturn completes the current frame with a value.
	KindReturn
)

func (k Kind) String() string {
	switch k {
	case KindEval:
		return "eval"
	case KindJump:
		return "jump"
	case KindJumpUnless:
		return "jump_unless"
	case KindCall:
		return "call"
	case KindInvoke:
		return "invoke"
	case KindCheckpoint:
		return "checkpoint"
	case KindReturn:
		return "return"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ComputeFunc evaluates an expression against the active frame's
// locals. It must be pure with respect to the frame: reads via Local,
// no writes, no retained references.
type ComputeFunc func(f *frame.Frame) (any, error)

// Instr is one instruction in a compiled function body. Which fields
// are meaningful depends on Kind; the constructor helpers below build
// well-formed instructions.
type Instr struct {
	Kind Kind

	// Dst names the local receiving this instruction's result
	// (Eval, Call, Invoke). Empty discards the result.
	Dst string

	// Compute produces the instruction's input value: the evaluated
	// expression for Eval and Return, the argument tuple for Call, the
	// request payload for Invoke.
	Compute ComputeFunc

	// Target is the jump destination instruction index.
	Target int

	// Cond names the slot read as a boolean by JumpUnless.
	Cond string

	// Callee is the registered function a Call enters. Zero
	// CalleeVersion means latest at call time.
	Callee        string
	CalleeVersion int

	// Service is the external function name an Invoke dispatches to.
	Service string

	// ErrSlot, when non-empty, receives a transport error message
	// instead of failing the frame. Empty means transport errors
	// propagate as frame failures.
	ErrSlot string
}

// Function is a compiled function body: a name, a version, parameter
// slot names in declaration order, and a dense instruction slice.
// Instruction indices are the resume points captured into frames.
type Function struct {
	Name    string
	Version int
	Params  []string
	Body    []Instr
}

// Validate checks structural invariants: jump targets in range and a
// terminating instruction reachable at the end of the body.
func (fn *Function) Validate() error {
	if fn.Name == "" {
		return fmt.Errorf("program: function with empty name")
	}

	for i, in := range fn.Body {
		switch in.Kind {
		case KindJump, KindJumpUnless:
			if in.Target < 0 || in.Target >= len(fn.Body) {
				return fmt.Errorf("program: %s@%d: jump target %d out of range [0,%d)", fn.Name, i, in.Target, len(fn.Body))
			}
		case KindCall:
			if in.Callee == "" {
				return fmt.Errorf("program: %s@%d: call with empty callee", fn.Name, i)
			}
		case KindInvoke:
			if in.Service == "" {
				return fmt.Errorf("program: %s@%d: invoke with empty service", fn.Name, i)
			}
		case KindEval, KindCheckpoint, KindReturn:
		}
	}

	if len(fn.Body) == 0 || fn.Body[len(fn.Body)-1].Kind != KindReturn {
		return fmt.Errorf("program: %s: body must end with a return", fn.Name)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Instruction constructors
// ──────────────────────────────────────────────────

// Eval computes a value and binds it to dst.
func Eval(dst string, compute ComputeFunc) Instr {
	return Instr{Kind: KindEval, Dst: dst, Compute: compute}
}

// Jump transfers control to the instruction at target.
func Jump(target int) Instr {
	return Instr{Kind: KindJump, Target: target}
}

// JumpUnless transfers control to target when the cond slot holds a
// falsy value (false, nil, zero, empty string).
func JumpUnless(cond string, target int) Instr {
	return Instr{Kind: KindJumpUnless, Cond: cond, Target: target}
}

// Call enters the named registered function. compute produces the
// argument values bound, in order, to the callee's parameter slots; it
// must return a []any (or nil for a zero-argument call). The callee's
// return value is bound to dst.
func Call(dst, callee string, compute ComputeFunc) Instr {
	return Instr{Kind: KindCall, Dst: dst, Callee: callee, Compute: compute}
}

// CallVersion is Call pinned to a specific callee version.
func CallVersion(dst, callee string, version int, compute ComputeFunc) Instr {
	return Instr{Kind: KindCall, Dst: dst, Callee: callee, CalleeVersion: version, Compute: compute}
}

// Invoke suspends the instance for an external operation. compute
// produces the request payload; the operation's result is bound to dst
// when it arrives. A transport failure fails the frame.
func Invoke(dst, service string, compute ComputeFunc) Instr {
	return Instr{Kind: KindInvoke, Dst: dst, Service: service, Compute: compute}
}

// InvokeCatch is Invoke with script-level error handling: a transport
// failure binds the error message to errSlot (and nil to dst) instead
// of failing the frame.
func InvokeCatch(dst, errSlot, service string, compute ComputeFunc) Instr {
	return Instr{Kind: KindInvoke, Dst: dst, ErrSlot: errSlot, Service: service, Compute: compute}
}

// Checkpoint suspends the instance until the current chain is durably
// persisted per the lifecycle manager's acknowledgement rule.
func Checkpoint() Instr {
	return Instr{Kind: KindCheckpoint}
}

// Return completes the current frame. compute produces the return
// value; nil compute returns nil.
func Return(compute ComputeFunc) Instr {
	return Instr{Kind: KindReturn, Compute: compute}
}

// Truthy reports how JumpUnless reads a condition value.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int8:
		return x != 0
	case int16:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
