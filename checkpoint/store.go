package checkpoint

import "context"

// Store is the persistence port for checkpoint records. The store is
// append/overwrite-by-key: concurrent writes for unrelated instances
// are fine, but writes for the same instance key must be linearized by
// sequence.
type Store interface {
	// PutCheckpoint persists a record, superseding any earlier record
	// for the same key. A write whose sequence is not strictly greater
	// than the stored one fails with ErrStaleSequence and leaves the
	// stored record untouched.
	PutCheckpoint(ctx context.Context, key string, seq uint64, data []byte) error

	// GetAllPending returns every retained record. Recovery reads this
	// at startup.
	GetAllPending(ctx context.Context) ([]*Record, error)

	// DeleteCheckpoint removes the record for key. Deleting an absent
	// key is not an error.
	DeleteCheckpoint(ctx context.Context, key string) error
}

// Peer is the replication port: a paired process that durably stores a
// copy of this node's checkpoints. Replication is symmetric; either
// side can pull the other's pending set after an outage.
type Peer interface {
	// Replicate sends a record to the peer and waits for its
	// acknowledgement. The caller bounds the wait through ctx.
	Replicate(ctx context.Context, key string, seq uint64, data []byte) error

	// PullPending fetches the peer's full retained record set.
	PullPending(ctx context.Context) ([]*Record, error)

	// Drop asks the peer to delete its record for key.
	Drop(ctx context.Context, key string) error
}

// Quarantiner moves aside records that cannot be decoded. Quarantined
// records are operator-visible and never silently dropped.
type Quarantiner interface {
	Quarantine(ctx context.Context, rec *Record, reason error) error
}

// Emitter receives lifecycle notifications from the manager.
type Emitter interface {
	EmitCheckpointCommitted(ctx context.Context, key string, seq uint64, replicated bool)
	EmitReplicationDegraded(ctx context.Context, key string, seq uint64, err error)
	EmitRecordQuarantined(ctx context.Context, key string, seq uint64, reason error)
	EmitInstanceRecovered(ctx context.Context, key string, seq uint64)
}
