// Package instance defines the ScriptInstance, the unit of execution
// and recovery.
package instance

import (
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/frame"
	"github.com/skeinlabs/skein/id"
)

// State represents the lifecycle state of a script instance.
type State string

const (
	// StateRunning means an admitted execution is driving the instance.
	StateRunning State = "running"
	// StateSuspendedPendingIO means the instance waits on an external
	// operation's result.
	StateSuspendedPendingIO State = "suspended_pending_io"
	// StateSuspendedCheckpointed means the instance waits on the
	// checkpoint acknowledgement rule.
	StateSuspendedCheckpointed State = "suspended_checkpointed"
	// StateTerminated means the instance completed, failed, or was
	// cancelled; its checkpoints are eligible for deletion.
	StateTerminated State = "terminated"
)

// IsSuspended reports whether the state is one of the suspended states.
func (s State) IsSuspended() bool {
	return s == StateSuspendedPendingIO || s == StateSuspendedCheckpointed
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool { return s == StateTerminated }

// Instance is one logical unit of script work: the business-supplied
// key, the current lifecycle state, the suspended continuation chain
// when there is one, and the checkpoint sequence counter.
type Instance struct {
	skein.Entity

	// Key is the stable identifier supplied by the invoking business
	// request. It is the persistence and replication key and the
	// idempotency key for replay.
	Key string `json:"key"`

	// Function is the entry point this instance started at, pinned to
	// the registry version resolved at start time.
	Function        string `json:"function"`
	FunctionVersion int    `json:"function_version"`

	State State `json:"state"`

	// Chain is the suspended call stack. Present iff State is one of
	// the suspended states.
	Chain *frame.Chain `json:"-"`

	// Sequence increments on every checkpoint emitted for this
	// instance. Recovered checkpoints with a lower sequence than the
	// one already known are stale and discarded.
	Sequence uint64 `json:"sequence"`

	// PendingOp is the token of the outstanding external operation,
	// nil when none. A completion must carry this token to be applied.
	PendingOp id.OpID `json:"pending_op,omitempty"`

	// Cancelled marks the instance for termination at the next suspend
	// boundary. There is no mid-frame cancellation.
	Cancelled bool `json:"cancelled,omitempty"`

	// Result holds the return value after normal completion.
	Result any `json:"result,omitempty"`

	// LastError holds the failure message after a Failed outcome.
	LastError string `json:"last_error,omitempty"`

	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// New creates a running instance for the given key and entry point.
func New(key, function string, version int) *Instance {
	return &Instance{
		Entity:          skein.NewEntity(),
		Key:             key,
		Function:        function,
		FunctionVersion: version,
		State:           StateRunning,
	}
}

// Suspend transitions the instance into the given suspended state,
// attaching the captured chain and the pending operation token.
func (in *Instance) Suspend(s State, chain *frame.Chain, op id.OpID) error {
	if !s.IsSuspended() {
		return skein.ErrInvalidState
	}
	if in.State.IsTerminal() {
		return skein.ErrInvalidState
	}

	in.State = s
	in.Chain = chain
	in.PendingOp = op
	in.Touch()

	return nil
}

// Run transitions a suspended instance back to running, detaching the
// chain (the admitted execution now owns it).
func (in *Instance) Run() error {
	if in.State.IsTerminal() {
		return skein.ErrInvalidState
	}

	in.State = StateRunning
	in.Chain = nil
	in.PendingOp = id.Nil
	in.Touch()

	return nil
}

// Terminate moves the instance to its terminal state and discards the
// chain.
func (in *Instance) Terminate() {
	now := time.Now().UTC()
	in.State = StateTerminated
	in.Chain = nil
	in.PendingOp = id.Nil
	in.TerminatedAt = &now
	in.Touch()
}
