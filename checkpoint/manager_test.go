package checkpoint_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/backoff"
	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/quarantine"
	"github.com/skeinlabs/skein/replica"
	"github.com/skeinlabs/skein/store/memory"
)

// recordingEmitter captures lifecycle notifications.
type recordingEmitter struct {
	mu        sync.Mutex
	committed []uint64
	degraded  []uint64
	sidelined []uint64
	recovered []string
}

func (e *recordingEmitter) EmitCheckpointCommitted(_ context.Context, _ string, seq uint64, _ bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed = append(e.committed, seq)
}

func (e *recordingEmitter) EmitReplicationDegraded(_ context.Context, _ string, seq uint64, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degraded = append(e.degraded, seq)
}

func (e *recordingEmitter) EmitRecordQuarantined(_ context.Context, _ string, seq uint64, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sidelined = append(e.sidelined, seq)
}

func (e *recordingEmitter) EmitInstanceRecovered(_ context.Context, key string, _ uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recovered = append(e.recovered, key)
}

// stalledPeer never acknowledges; it blocks until the caller's context
// expires.
type stalledPeer struct{}

func (stalledPeer) Replicate(ctx context.Context, _ string, _ uint64, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledPeer) PullPending(ctx context.Context) ([]*checkpoint.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledPeer) Drop(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// flakyPeer fails the first n pulls, then delegates to the wrapped
// peer.
type flakyPeer struct {
	checkpoint.Peer
	mu       sync.Mutex
	failures int
}

func (p *flakyPeer) PullPending(ctx context.Context) ([]*checkpoint.Record, error) {
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		p.mu.Unlock()
		return nil, skein.ErrPeerUnavailable
	}
	p.mu.Unlock()
	return p.Peer.PullPending(ctx)
}

func TestCommitDualWrite(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	peerStore := memory.New()
	emitter := &recordingEmitter{}

	m := checkpoint.NewManager(local,
		checkpoint.WithPeer(replica.NewLoopback(peerStore)),
		checkpoint.WithEmitter(emitter),
	)

	if err := m.Commit(ctx, "order-1", 1, buildChain(t)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	for name, s := range map[string]*memory.Store{"local": local, "peer": peerStore} {
		recs, err := s.GetAllPending(ctx)
		if err != nil {
			t.Fatalf("%s read failed: %v", name, err)
		}
		if len(recs) != 1 || recs[0].InstanceKey != "order-1" || recs[0].Sequence != 1 {
			t.Errorf("%s store holds wrong record: %+v", name, recs)
		}
	}

	if len(emitter.committed) != 1 || len(emitter.degraded) != 0 {
		t.Errorf("expected 1 committed, 0 degraded; got %d/%d", len(emitter.committed), len(emitter.degraded))
	}
}

func TestCommitDegradesOnPeerTimeout(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	emitter := &recordingEmitter{}

	m := checkpoint.NewManager(local,
		checkpoint.WithPeer(stalledPeer{}),
		checkpoint.WithAckTimeout(50*time.Millisecond),
		checkpoint.WithEmitter(emitter),
	)

	start := time.Now()
	if err := m.Commit(ctx, "order-1", 1, buildChain(t)); err != nil {
		t.Fatalf("commit should degrade, not fail: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("commit blocked %v; peer wait must be bounded", elapsed)
	}

	recs, _ := local.GetAllPending(ctx)
	if len(recs) != 1 {
		t.Fatalf("local durability lost on degrade: %d records", len(recs))
	}
	if len(emitter.degraded) != 1 {
		t.Errorf("expected a degradation notification, got %d", len(emitter.degraded))
	}
	if len(emitter.committed) != 1 {
		t.Errorf("degraded commit still completes, got %d committed", len(emitter.committed))
	}
}

func TestCommitFailsOnLocalStoreFailure(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	if err := local.Close(); err != nil {
		t.Fatal(err)
	}

	m := checkpoint.NewManager(local, checkpoint.WithPeer(replica.NewLoopback(memory.New())))

	err := m.Commit(ctx, "order-1", 1, buildChain(t))
	if !errors.Is(err, skein.ErrStoreClosed) {
		t.Errorf("local persist failure must fail the checkpoint, got %v", err)
	}
}

func TestDropDeletesBothSides(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	peerStore := memory.New()

	m := checkpoint.NewManager(local, checkpoint.WithPeer(replica.NewLoopback(peerStore)))
	if err := m.Commit(ctx, "order-1", 1, buildChain(t)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	m.Drop(ctx, "order-1")

	for name, s := range map[string]*memory.Store{"local": local, "peer": peerStore} {
		recs, _ := s.GetAllPending(ctx)
		if len(recs) != 0 {
			t.Errorf("%s store still holds %d records after drop", name, len(recs))
		}
	}
}

func TestRecoverReturnsAllDecodable(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	emitter := &recordingEmitter{}

	m := checkpoint.NewManager(local, checkpoint.WithEmitter(emitter))

	keys := []string{"order-1", "order-2", "order-3"}
	for i, key := range keys {
		if err := m.Commit(ctx, key, uint64(i+1), buildChain(t)); err != nil {
			t.Fatalf("commit %s failed: %v", key, err)
		}
	}

	recovered, err := m.Recover(ctx)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(recovered) != len(keys) {
		t.Fatalf("expected %d recovered, got %d", len(keys), len(recovered))
	}

	seen := make(map[string]bool)
	for _, r := range recovered {
		if seen[r.InstanceKey] {
			t.Errorf("instance %s recovered twice", r.InstanceKey)
		}
		seen[r.InstanceKey] = true
		if r.Chain == nil || r.Chain.Empty() {
			t.Errorf("instance %s recovered without a chain", r.InstanceKey)
		}
	}
	if len(emitter.recovered) != len(keys) {
		t.Errorf("expected %d recovery notifications, got %d", len(keys), len(emitter.recovered))
	}
}

func TestRecoverQuarantinesUndecodable(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	emitter := &recordingEmitter{}
	qsvc := quarantine.NewService(local, local, nil)

	m := checkpoint.NewManager(local,
		checkpoint.WithEmitter(emitter),
		checkpoint.WithQuarantine(qsvc),
	)

	if err := m.Commit(ctx, "order-good", 1, buildChain(t)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	// A record written by an incompatible future encoder.
	if err := local.PutCheckpoint(ctx, "order-bad", 9, []byte{42, 0x01}); err != nil {
		t.Fatalf("seed bad record failed: %v", err)
	}

	recovered, err := m.Recover(ctx)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(recovered) != 1 || recovered[0].InstanceKey != "order-good" {
		t.Fatalf("expected only the good record recovered, got %+v", recovered)
	}

	n, _ := local.CountQuarantine(ctx)
	if n != 1 {
		t.Errorf("expected 1 quarantined entry, got %d", n)
	}
	if len(emitter.sidelined) != 1 {
		t.Errorf("expected a quarantine notification, got %d", len(emitter.sidelined))
	}

	// The quarantined record is moved aside, not re-recovered.
	recs, _ := local.GetAllPending(ctx)
	if len(recs) != 1 {
		t.Errorf("quarantined record still pending: %d records", len(recs))
	}
}

func TestPullPeerAdoptsNewerRecords(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	peerStore := memory.New()

	peerMgr := checkpoint.NewManager(peerStore)
	localMgr := checkpoint.NewManager(local,
		checkpoint.WithPeer(replica.NewLoopback(peerStore)),
	)

	// Peer holds order-1 at seq 5 and order-2 at seq 1; local already
	// has order-1 at seq 5 (replicated earlier) and nothing for
	// order-2.
	if err := peerMgr.Commit(ctx, "order-1", 5, buildChain(t)); err != nil {
		t.Fatal(err)
	}
	if err := peerMgr.Commit(ctx, "order-2", 1, buildChain(t)); err != nil {
		t.Fatal(err)
	}

	peerRecs, _ := peerStore.GetAllPending(ctx)
	for _, rec := range peerRecs {
		if rec.InstanceKey == "order-1" {
			if err := local.PutCheckpoint(ctx, rec.InstanceKey, rec.Sequence, rec.Data); err != nil {
				t.Fatal(err)
			}
		}
	}

	adopted, err := localMgr.PullPeer(ctx)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(adopted) != 1 || adopted[0].InstanceKey != "order-2" {
		t.Errorf("expected only order-2 adopted, got %+v", adopted)
	}

	// After the pull, local holds the superset.
	recs, _ := local.GetAllPending(ctx)
	if len(recs) != 2 {
		t.Errorf("expected 2 local records after pull, got %d", len(recs))
	}
}

func TestPullPeerRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	peerStore := memory.New()

	peerMgr := checkpoint.NewManager(peerStore)
	if err := peerMgr.Commit(ctx, "order-1", 1, buildChain(t)); err != nil {
		t.Fatal(err)
	}

	flaky := &flakyPeer{Peer: replica.NewLoopback(peerStore), failures: 2}
	m := checkpoint.NewManager(local,
		checkpoint.WithPeer(flaky),
		checkpoint.WithPullRetries(3, backoff.NewConstant(10*time.Millisecond)),
	)

	adopted, err := m.PullPeer(ctx)
	if err != nil {
		t.Fatalf("pull should succeed after retries: %v", err)
	}
	if len(adopted) != 1 {
		t.Errorf("expected 1 adopted record, got %d", len(adopted))
	}
}

func TestPullPeerExhaustsRetries(t *testing.T) {
	ctx := context.Background()

	flaky := &flakyPeer{Peer: replica.NewLoopback(memory.New()), failures: 10}
	m := checkpoint.NewManager(memory.New(),
		checkpoint.WithPeer(flaky),
		checkpoint.WithPullRetries(2, backoff.NewConstant(5*time.Millisecond)),
	)

	if _, err := m.PullPeer(ctx); !errors.Is(err, skein.ErrPeerUnavailable) {
		t.Errorf("expected ErrPeerUnavailable after exhausted retries, got %v", err)
	}
}

func TestPullPeerWithoutPeer(t *testing.T) {
	m := checkpoint.NewManager(memory.New())
	if _, err := m.PullPeer(context.Background()); !errors.Is(err, skein.ErrNoPeer) {
		t.Errorf("expected ErrNoPeer, got %v", err)
	}
}
