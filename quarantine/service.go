package quarantine

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/id"
)

// Service provides high-level quarantine operations over a Store.
// It implements checkpoint.Quarantiner.
type Service struct {
	store     Store
	ckptStore checkpoint.Store
	logger    *slog.Logger
}

// NewService creates a quarantine service. ckptStore is the checkpoint
// store that Requeue re-admits records into.
func NewService(store Store, ckptStore checkpoint.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, ckptStore: ckptStore, logger: logger}
}

// Quarantine builds an Entry from an undecodable checkpoint record and
// persists it.
func (s *Service) Quarantine(ctx context.Context, rec *checkpoint.Record, reason error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:            id.NewQuarantineID(),
		InstanceKey:   rec.InstanceKey,
		Sequence:      rec.Sequence,
		Data:          rec.Data,
		Reason:        reason.Error(),
		QuarantinedAt: now,
		CreatedAt:     now,
	}

	s.logger.Warn("quarantining checkpoint record",
		slog.String("id", entry.ID.String()),
		slog.String("instance", entry.InstanceKey),
		slog.Uint64("sequence", entry.Sequence),
		slog.String("reason", entry.Reason),
	)

	return s.store.PushQuarantine(ctx, entry)
}

// Requeue puts a quarantined record back into the checkpoint store and
// marks the entry as requeued. Used after the operator has resolved
// the decode failure, typically by upgrading to a build that
// understands the record's format version.
func (s *Service) Requeue(ctx context.Context, entryID id.QuarantineID) (*checkpoint.Record, error) {
	entry, err := s.store.GetQuarantine(ctx, entryID)
	if err != nil {
		return nil, err
	}

	rec := &checkpoint.Record{
		InstanceKey: entry.InstanceKey,
		Sequence:    entry.Sequence,
		Data:        entry.Data,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.ckptStore.PutCheckpoint(ctx, rec.InstanceKey, rec.Sequence, rec.Data); err != nil {
		return nil, err
	}

	if err := s.store.RequeueQuarantine(ctx, entryID); err != nil {
		// The record is already back in the checkpoint store. Log but
		// don't fail.
		s.logger.Warn("requeue bookkeeping failed",
			slog.String("id", entryID.String()),
			slog.String("error", err.Error()),
		)

		return rec, err
	}

	return rec, nil
}

// QuarantineStore returns the underlying store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) QuarantineStore() Store {
	return s.store
}
