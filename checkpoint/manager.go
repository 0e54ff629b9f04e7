package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/backoff"
	"github.com/skeinlabs/skein/frame"
)

// Manager mediates between the scheduler and the persistence and
// replication ports. It owns the acknowledgement rule for checkpoints:
// the local write must succeed, the peer write is concurrent with a
// bounded wait and degrades to best-effort when the peer is down.
type Manager struct {
	store      Store
	peer       Peer
	codec      Codec
	quarantine Quarantiner
	emitter    Emitter
	logger     *slog.Logger

	ackTimeout  time.Duration
	pullRetries int
	pullBackoff backoff.Strategy
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPeer sets the replication peer. Without one, checkpoints are
// local-only.
func WithPeer(p Peer) ManagerOption {
	return func(m *Manager) { m.peer = p }
}

// WithAckTimeout bounds the peer acknowledgement wait.
func WithAckTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ackTimeout = d }
}

// WithQuarantine sets the sink for undecodable records.
func WithQuarantine(q Quarantiner) ManagerOption {
	return func(m *Manager) { m.quarantine = q }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithPullRetries configures the startup peer pull retry budget and
// delay strategy.
func WithPullRetries(n int, strategy backoff.Strategy) ManagerOption {
	return func(m *Manager) {
		m.pullRetries = n
		m.pullBackoff = strategy
	}
}

// NewManager creates a checkpoint lifecycle manager over the given
// local store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		logger:      slog.Default(),
		ackTimeout:  2 * time.Second,
		pullRetries: 5,
		pullBackoff: backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Commit encodes and durably stores a checkpoint, then applies the
// acknowledgement rule: the local write is mandatory and a failure
// there fails the checkpoint (the caller is not released); the peer
// write runs concurrently and a timeout or peer error degrades to
// local-only durability without blocking the business flow.
func (m *Manager) Commit(ctx context.Context, key string, seq uint64, chain *frame.Chain) error {
	data, err := m.codec.Encode(key, seq, chain)
	if err != nil {
		return err
	}

	var peerErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.store.PutCheckpoint(gctx, key, seq, data)
	})

	if m.peer != nil {
		g.Go(func() error {
			// Bounded independently of the local write; a slow peer
			// must not fail the group.
			pctx, cancel := context.WithTimeout(ctx, m.ackTimeout)
			defer cancel()

			peerErr = m.peer.Replicate(pctx, key, seq, data)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	replicated := m.peer != nil && peerErr == nil
	if m.peer != nil && peerErr != nil {
		m.logger.Warn("replication degraded to local-only",
			slog.String("instance", key),
			slog.Uint64("sequence", seq),
			slog.String("error", peerErr.Error()),
		)
		if m.emitter != nil {
			m.emitter.EmitReplicationDegraded(ctx, key, seq, peerErr)
		}
	}

	m.logger.Debug("checkpoint committed",
		slog.String("instance", key),
		slog.Uint64("sequence", seq),
		slog.Bool("replicated", replicated),
	)
	if m.emitter != nil {
		m.emitter.EmitCheckpointCommitted(ctx, key, seq, replicated)
	}

	return nil
}

// Drop deletes the instance's checkpoints locally and asks the peer to
// do the same. Both sides are best-effort: the caller has already been
// answered by the time checkpoints become deletable.
func (m *Manager) Drop(ctx context.Context, key string) {
	if err := m.store.DeleteCheckpoint(ctx, key); err != nil && !errors.Is(err, skein.ErrCheckpointNotFound) {
		m.logger.Warn("local checkpoint delete failed",
			slog.String("instance", key),
			slog.String("error", err.Error()),
		)
	}

	if m.peer == nil {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, m.ackTimeout)
	defer cancel()

	if err := m.peer.Drop(pctx, key); err != nil {
		m.logger.Warn("peer checkpoint delete failed",
			slog.String("instance", key),
			slog.String("error", err.Error()),
		)
	}
}

// Recover decodes every locally retained record. Undecodable records
// are quarantined (moved aside, then removed from the pending set) and
// reported; silent loss of an in-flight instance would be a
// correctness violation. Every decodable record yields exactly one
// Recovered entry.
func (m *Manager) Recover(ctx context.Context) ([]Recovered, error) {
	records, err := m.store.GetAllPending(ctx)
	if err != nil {
		return nil, err
	}

	recovered := make([]Recovered, 0, len(records))
	for _, rec := range records {
		dec, err := m.codec.Decode(rec.Data)
		if err != nil {
			m.sideline(ctx, rec, err)

			continue
		}

		if m.emitter != nil {
			m.emitter.EmitInstanceRecovered(ctx, dec.InstanceKey, dec.Sequence)
		}

		recovered = append(recovered, dec)
	}

	m.logger.Info("local recovery complete",
		slog.Int("recovered", len(recovered)),
		slog.Int("quarantined", len(records)-len(recovered)),
	)

	return recovered, nil
}

// PullPeer fetches the peer's pending set and adopts every record that
// is newer than what is held locally, so that after recovery both
// sides of the pair hold the superset of live instances known to
// either. The pull is retried with backoff; failure is returned to the
// caller but must not block serving new requests.
func (m *Manager) PullPeer(ctx context.Context) ([]Recovered, error) {
	if m.peer == nil {
		return nil, skein.ErrNoPeer
	}

	var (
		records []*Record
		err     error
	)

	for attempt := 0; ; attempt++ {
		records, err = m.peer.PullPending(ctx)
		if err == nil {
			break
		}
		if attempt >= m.pullRetries {
			return nil, err
		}

		delay := m.pullBackoff.Delay(attempt + 1)
		m.logger.Warn("peer pull failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	adopted := make([]Recovered, 0, len(records))
	for _, rec := range records {
		putErr := m.store.PutCheckpoint(ctx, rec.InstanceKey, rec.Sequence, rec.Data)
		if errors.Is(putErr, skein.ErrStaleSequence) {
			continue
		}
		if putErr != nil {
			return adopted, putErr
		}

		dec, decErr := m.codec.Decode(rec.Data)
		if decErr != nil {
			m.sideline(ctx, rec, decErr)

			continue
		}

		if m.emitter != nil {
			m.emitter.EmitInstanceRecovered(ctx, dec.InstanceKey, dec.Sequence)
		}

		adopted = append(adopted, dec)
	}

	m.logger.Info("peer pull complete",
		slog.Int("pulled", len(records)),
		slog.Int("adopted", len(adopted)),
	)

	return adopted, nil
}

// sideline quarantines an undecodable record and removes it from the
// pending set. When no quarantine sink is configured the record stays
// in the store so it is never lost.
func (m *Manager) sideline(ctx context.Context, rec *Record, reason error) {
	m.logger.Error("checkpoint record quarantined",
		slog.String("instance", rec.InstanceKey),
		slog.Uint64("sequence", rec.Sequence),
		slog.String("reason", reason.Error()),
	)
	if m.emitter != nil {
		m.emitter.EmitRecordQuarantined(ctx, rec.InstanceKey, rec.Sequence, reason)
	}

	if m.quarantine == nil {
		return
	}

	if err := m.quarantine.Quarantine(ctx, rec, reason); err != nil {
		m.logger.Error("quarantine failed, record left in store",
			slog.String("instance", rec.InstanceKey),
			slog.String("error", err.Error()),
		)

		return
	}

	if err := m.store.DeleteCheckpoint(ctx, rec.InstanceKey); err != nil {
		m.logger.Warn("delete after quarantine failed",
			slog.String("instance", rec.InstanceKey),
			slog.String("error", err.Error()),
		)
	}
}
