package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/quarantine"
	"github.com/skeinlabs/skein/store/sqlite"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestPutCheckpointSupersedes(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.PutCheckpoint(ctx, "order-1", 1, []byte("v1")); err != nil {
		t.Fatalf("put seq 1: %v", err)
	}
	if err := s.PutCheckpoint(ctx, "order-1", 2, []byte("v2")); err != nil {
		t.Fatalf("put seq 2: %v", err)
	}

	records, err := s.GetAllPending(ctx)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 retained record, got %d", len(records))
	}
	if records[0].Sequence != 2 || string(records[0].Data) != "v2" {
		t.Errorf("expected seq 2 data v2, got seq %d data %q", records[0].Sequence, records[0].Data)
	}
}

func TestPutCheckpointRejectsStale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.PutCheckpoint(ctx, "order-1", 3, []byte("v3")); err != nil {
		t.Fatalf("put seq 3: %v", err)
	}

	for _, seq := range []uint64{3, 2} {
		err := s.PutCheckpoint(ctx, "order-1", seq, []byte("stale"))
		if !errors.Is(err, skein.ErrStaleSequence) {
			t.Errorf("seq %d: expected ErrStaleSequence, got %v", seq, err)
		}
	}

	records, _ := s.GetAllPending(ctx)
	if len(records) != 1 || string(records[0].Data) != "v3" {
		t.Error("stale write must leave the stored record untouched")
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.PutCheckpoint(ctx, "order-1", 1, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeleteCheckpoint(ctx, "order-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteCheckpoint(ctx, "order-1"); err != nil {
		t.Errorf("deleting an absent key must not fail: %v", err)
	}

	records, _ := s.GetAllPending(ctx)
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestQuarantineLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := &quarantine.Entry{
		ID:            id.NewQuarantineID(),
		InstanceKey:   "order-1",
		Sequence:      4,
		Data:          []byte{0xde, 0xad},
		Reason:        "unsupported checkpoint format version",
		QuarantinedAt: now,
		CreatedAt:     now,
	}
	if err := s.PushQuarantine(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := s.GetQuarantine(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.InstanceKey != "order-1" || got.Sequence != 4 || got.Reason != entry.Reason {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.RequeuedAt != nil {
		t.Error("fresh entry must not be requeued")
	}

	if err := s.RequeueQuarantine(ctx, entry.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ = s.GetQuarantine(ctx, entry.ID)
	if got.RequeuedAt == nil {
		t.Error("expected requeued_at set")
	}

	count, err := s.CountQuarantine(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestQuarantineListNewestFirst(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := range 3 {
		entry := &quarantine.Entry{
			ID:            id.NewQuarantineID(),
			InstanceKey:   "order-1",
			Sequence:      uint64(i + 1),
			Data:          []byte{byte(i)},
			Reason:        "corrupt",
			QuarantinedAt: base.Add(time.Duration(i) * time.Minute),
			CreatedAt:     base,
		}
		if err := s.PushQuarantine(ctx, entry); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	entries, err := s.ListQuarantine(ctx, quarantine.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Sequence != 3 || entries[1].Sequence != 2 {
		t.Errorf("expected newest first, got %d then %d", entries[0].Sequence, entries[1].Sequence)
	}
}

func TestQuarantinePurge(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	for _, at := range []time.Time{old, fresh} {
		entry := &quarantine.Entry{
			ID:            id.NewQuarantineID(),
			InstanceKey:   "order-1",
			Sequence:      1,
			Data:          []byte{1},
			Reason:        "corrupt",
			QuarantinedAt: at,
			CreatedAt:     at,
		}
		if err := s.PushQuarantine(ctx, entry); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	purged, err := s.PurgeQuarantine(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	count, _ := s.CountQuarantine(ctx)
	if count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}

func TestQuarantineNotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.GetQuarantine(ctx, id.NewQuarantineID()); !errors.Is(err, skein.ErrQuarantineNotFound) {
		t.Errorf("get: expected ErrQuarantineNotFound, got %v", err)
	}
	if err := s.RequeueQuarantine(ctx, id.NewQuarantineID()); !errors.Is(err, skein.ErrQuarantineNotFound) {
		t.Errorf("requeue: expected ErrQuarantineNotFound, got %v", err)
	}
}
