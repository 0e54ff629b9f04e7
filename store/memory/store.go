// Package memory provides a fully in-memory store implementation,
// intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/quarantine"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ checkpoint.Store = (*Store)(nil)
	_ quarantine.Store = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store. Safe for
// concurrent access.
type Store struct {
	mu sync.RWMutex

	checkpoints map[string]*checkpoint.Record // key: instance key
	quarantined map[string]*quarantine.Entry  // key: entry ID

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		checkpoints: make(map[string]*checkpoint.Record),
		quarantined: make(map[string]*quarantine.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds unless the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return skein.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

// PutCheckpoint persists a record, superseding any earlier record for
// the same key. Writes for the same key are linearized by sequence: a
// write that is not strictly newer fails with ErrStaleSequence.
func (m *Store) PutCheckpoint(_ context.Context, key string, seq uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return skein.ErrStoreClosed
	}

	if existing, ok := m.checkpoints[key]; ok && seq <= existing.Sequence {
		return fmt.Errorf("%w: %s seq=%d stored=%d", skein.ErrStaleSequence, key, seq, existing.Sequence)
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	m.checkpoints[key] = &checkpoint.Record{
		InstanceKey: key,
		Sequence:    seq,
		Data:        cp,
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// GetAllPending returns copies of every retained record, ordered by
// instance key.
func (m *Store) GetAllPending(_ context.Context) ([]*checkpoint.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, skein.ErrStoreClosed
	}

	out := make([]*checkpoint.Record, 0, len(m.checkpoints))
	for _, rec := range m.checkpoints {
		cp := *rec
		cp.Data = append([]byte(nil), rec.Data...)
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceKey < out[j].InstanceKey })
	return out, nil
}

// DeleteCheckpoint removes the record for key. Absent keys are not an
// error.
func (m *Store) DeleteCheckpoint(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return skein.ErrStoreClosed
	}

	delete(m.checkpoints, key)
	return nil
}

// ──────────────────────────────────────────────────
// Quarantine Store
// ──────────────────────────────────────────────────

// PushQuarantine adds an entry to the quarantine.
func (m *Store) PushQuarantine(_ context.Context, entry *quarantine.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return skein.ErrStoreClosed
	}

	cp := *entry
	m.quarantined[entry.ID.String()] = &cp
	return nil
}

// ListQuarantine returns entries newest first.
func (m *Store) ListQuarantine(_ context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, skein.ErrStoreClosed
	}

	out := make([]*quarantine.Entry, 0, len(m.quarantined))
	for _, e := range m.quarantined {
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].QuarantinedAt.After(out[j].QuarantinedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetQuarantine retrieves an entry by ID.
func (m *Store) GetQuarantine(_ context.Context, entryID id.QuarantineID) (*quarantine.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, skein.ErrStoreClosed
	}

	e, ok := m.quarantined[entryID.String()]
	if !ok {
		return nil, skein.ErrQuarantineNotFound
	}

	cp := *e
	return &cp, nil
}

// RequeueQuarantine marks an entry as requeued.
func (m *Store) RequeueQuarantine(_ context.Context, entryID id.QuarantineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return skein.ErrStoreClosed
	}

	e, ok := m.quarantined[entryID.String()]
	if !ok {
		return skein.ErrQuarantineNotFound
	}

	now := time.Now().UTC()
	e.RequeuedAt = &now
	return nil
}

// PurgeQuarantine removes entries quarantined before the given time.
func (m *Store) PurgeQuarantine(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, skein.ErrStoreClosed
	}

	var removed int64
	for k, e := range m.quarantined {
		if e.QuarantinedAt.Before(before) {
			delete(m.quarantined, k)
			removed++
		}
	}
	return removed, nil
}

// CountQuarantine returns the total number of quarantined entries.
func (m *Store) CountQuarantine(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, skein.ErrStoreClosed
	}

	return int64(len(m.quarantined)), nil
}
