package interp

import (
	"github.com/skeinlabs/skein/frame"
)

// PendingKind says what a suspended instance is waiting for.
type PendingKind int

const (
	// PendingInvoke waits for an external operation's result via the
	// transport.
	PendingInvoke PendingKind = iota
	// PendingCheckpoint waits for the checkpoint acknowledgement rule.
	PendingCheckpoint
)

func (k PendingKind) String() string {
	if k == PendingCheckpoint {
		return "checkpoint"
	}

	return "invoke"
}

// PendingOp describes the operation that caused a suspension. The
// scheduler routes it: invokes go to the transport, checkpoints go to
// the lifecycle manager.
//
// Function and IP identify the suspending call site; together with the
// instance key and checkpoint sequence they form the deterministic
// idempotency key for replayed dispatch.
type PendingOp struct {
	Kind    PendingKind
	Service string
	Payload any

	Function string
	IP       int

	// HasErrSlot reports whether the suspended frame catches transport
	// errors at script level.
	HasErrSlot bool
}

// OutcomeKind discriminates run outcomes.
type OutcomeKind int

const (
	// OutcomeCompleted means the instance returned to top level.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSuspended means the instance captured its stack and waits
	// on a pending operation.
	OutcomeSuspended
	// OutcomeFailed means the run failed with an error.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSuspended:
		return "suspended"
	default:
		return "failed"
	}
}

// Outcome is the result of driving an instance from one resume point to
// the next suspend point, completion, or failure.
type Outcome struct {
	Kind OutcomeKind

	// Value is the script's return value (Completed only).
	Value any

	// Chain is the captured call stack (Suspended only).
	Chain *frame.Chain

	// Pending describes what the instance waits for (Suspended only).
	Pending *PendingOp

	// Err is the failure (Failed only).
	Err error
}

// Completed builds a terminal success outcome.
func Completed(value any) Outcome {
	return Outcome{Kind: OutcomeCompleted, Value: value}
}

// Suspended builds a suspension outcome.
func Suspended(chain *frame.Chain, op *PendingOp) Outcome {
	return Outcome{Kind: OutcomeSuspended, Chain: chain, Pending: op}
}

// Failed builds a failure outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}
