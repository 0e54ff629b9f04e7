package replica

import (
	"context"
	"errors"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// Ensure Loopback implements the replication port.
var _ checkpoint.Peer = (*Loopback)(nil)

// Loopback is an in-process peer backed directly by a checkpoint
// store. It gives a single process the same replication semantics as a
// real pair, which is what tests and single-node deployments use.
type Loopback struct {
	store checkpoint.Store
}

// NewLoopback creates a loopback peer over the given store.
func NewLoopback(store checkpoint.Store) *Loopback {
	return &Loopback{store: store}
}

// Replicate writes the record into the peer store. A record the peer
// already holds at the same or higher sequence counts as acknowledged:
// replication is idempotent per (key, sequence).
func (l *Loopback) Replicate(ctx context.Context, key string, seq uint64, data []byte) error {
	err := l.store.PutCheckpoint(ctx, key, seq, data)
	if errors.Is(err, skein.ErrStaleSequence) {
		return nil
	}
	return err
}

// PullPending returns the peer store's full retained record set.
func (l *Loopback) PullPending(ctx context.Context) ([]*checkpoint.Record, error) {
	return l.store.GetAllPending(ctx)
}

// Drop deletes the peer store's record for key.
func (l *Loopback) Drop(ctx context.Context, key string) error {
	return l.store.DeleteCheckpoint(ctx, key)
}
