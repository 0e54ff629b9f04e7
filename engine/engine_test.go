package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/engine"
	"github.com/skeinlabs/skein/frame"
	"github.com/skeinlabs/skein/instance"
	"github.com/skeinlabs/skein/program"
	"github.com/skeinlabs/skein/replica"
	"github.com/skeinlabs/skein/store/memory"
	"github.com/skeinlabs/skein/transport"
)

func local(f *frame.Frame, slot string) any {
	v, _ := f.Local(slot)
	return v
}

// manualInvoker accepts dispatches without ever completing them, so a
// test can park an instance in the pending-IO state.
type manualInvoker struct {
	mu   sync.Mutex
	reqs []*transport.Request
}

func (m *manualInvoker) Invoke(_ context.Context, req *transport.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return nil
}

func (m *manualInvoker) OnCompletion(func(context.Context, *transport.Completion)) {}

// lifecycleOnlyStore satisfies the runtime's minimal store interface
// but none of the subsystem ports.
type lifecycleOnlyStore struct{}

func (lifecycleOnlyStore) Migrate(context.Context) error { return nil }
func (lifecycleOnlyStore) Ping(context.Context) error    { return nil }
func (lifecycleOnlyStore) Close() error                  { return nil }

func buildEngine(t *testing.T, store skein.Storer, opts ...engine.Option) *engine.Engine {
	t.Helper()

	rt, err := skein.New(skein.WithStore(store), skein.WithConcurrency(4))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	eng, err := engine.Build(rt, opts...)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return eng
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitState(t *testing.T, eng *engine.Engine, key string, want instance.State) instance.Instance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in, ok := eng.Snapshot(key); ok && in.State == want {
			return in
		}
		time.Sleep(2 * time.Millisecond)
	}
	in, ok := eng.Snapshot(key)
	t.Fatalf("timed out waiting for state %s (known=%v, state=%s)", want, ok, in.State)
	return instance.Instance{}
}

// orderFn checkpoints after a local step, then invokes a service and
// returns its reply.
func orderFn() *program.Function {
	return &program.Function{
		Name:    "order",
		Version: 1,
		Params:  []string{"amount"},
		Body: []program.Instr{
			program.Eval("total", func(f *frame.Frame) (any, error) {
				return local(f, "amount").(int64) + 3, nil
			}),
			program.Checkpoint(),
			program.Invoke("receipt", "payments.charge", func(f *frame.Frame) (any, error) {
				return local(f, "total"), nil
			}),
			program.Return(func(f *frame.Frame) (any, error) {
				return local(f, "receipt"), nil
			}),
		},
	}
}

func TestBuildRequiresStore(t *testing.T) {
	rt, err := skein.New()
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if _, err := engine.Build(rt); !errors.Is(err, skein.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestBuildRejectsPartialStore(t *testing.T) {
	rt, err := skein.New(skein.WithStore(lifecycleOnlyStore{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if _, err := engine.Build(rt); err == nil ||
		!strings.Contains(err.Error(), "checkpoint.Store") {
		t.Fatalf("expected checkpoint port error, got %v", err)
	}
}

func TestEngineEndToEnd(t *testing.T) {
	eng := buildEngine(t, memory.New())
	eng.MustRegisterFunction(orderFn())

	mem, ok := eng.Transport().(*transport.Memory)
	if !ok {
		t.Fatalf("expected default in-process transport, got %T", eng.Transport())
	}
	mem.Register("payments.charge", func(_ context.Context, payload any) (any, error) {
		return payload.(int64) * 10, nil
	})

	startEngine(t, eng)

	key, err := eng.StartScript(context.Background(), "order-1", "order", 0, 4)
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	if key != "order-1" {
		t.Fatalf("expected the caller's key back, got %q", key)
	}

	in := waitState(t, eng, key, instance.StateTerminated)
	if in.Result != int64(70) {
		t.Errorf("expected 70, got %v (err=%s)", in.Result, in.LastError)
	}
	if in.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", in.Sequence)
	}
}

func TestStartScriptGeneratesKey(t *testing.T) {
	eng := buildEngine(t, memory.New())
	eng.MustRegisterFunction(&program.Function{
		Name:    "noop",
		Version: 1,
		Body: []program.Instr{
			program.Return(nil),
		},
	})
	startEngine(t, eng)

	key, err := eng.StartScript(context.Background(), "", "noop", 0)
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	if !strings.HasPrefix(key, "inst_") {
		t.Errorf("expected generated instance key, got %q", key)
	}
}

func TestStartScriptIdempotentPerKey(t *testing.T) {
	eng := buildEngine(t, memory.New(), engine.WithTransport(&manualInvoker{}))
	eng.MustRegisterFunction(orderFn())
	startEngine(t, eng)

	key, err := eng.StartScript(context.Background(), "order-1", "order", 0, 1)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	// A replayed business request with the same key is answered with
	// the original admission, not an error and not a second instance.
	again, err := eng.StartScript(context.Background(), "order-1", "order", 0, 1)
	if err != nil {
		t.Fatalf("replayed start: %v", err)
	}
	if again != key {
		t.Errorf("replayed start returned %q, want %q", again, key)
	}
	if eng.Scheduler().Len() != 1 {
		t.Errorf("expected 1 instance, have %d", eng.Scheduler().Len())
	}
}

func TestEngineCancel(t *testing.T) {
	eng := buildEngine(t, memory.New(), engine.WithTransport(&manualInvoker{}))
	eng.MustRegisterFunction(orderFn())
	startEngine(t, eng)

	key, err := eng.StartScript(context.Background(), "order-1", "order", 0, 1)
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	waitState(t, eng, key, instance.StateSuspendedPendingIO)

	if err := eng.Cancel(context.Background(), key); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	in := waitState(t, eng, key, instance.StateTerminated)
	if !in.Cancelled {
		t.Error("expected the instance marked cancelled")
	}
}

func TestEngineRecoversOnStart(t *testing.T) {
	store := memory.New()

	// First life: the invoke never completes, so the instance parks in
	// the pending-IO state past its committed checkpoint.
	engA := buildEngine(t, store, engine.WithTransport(&manualInvoker{}))
	engA.MustRegisterFunction(orderFn())
	startEngine(t, engA)

	key, err := engA.StartScript(context.Background(), "order-1", "order", 0, 4)
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	waitState(t, engA, key, instance.StateSuspendedPendingIO)

	// Second life over the same store, with a working transport.
	mem := transport.NewMemory(nil)
	mem.Register("payments.charge", func(_ context.Context, payload any) (any, error) {
		return payload.(int64) * 10, nil
	})

	engB := buildEngine(t, store, engine.WithTransport(mem))
	engB.MustRegisterFunction(orderFn())
	startEngine(t, engB)

	in := waitState(t, engB, key, instance.StateTerminated)
	if in.Result != int64(70) {
		t.Errorf("expected 70, got %v (err=%s)", in.Result, in.LastError)
	}
	if in.Sequence < 1 {
		t.Errorf("recovered sequence must carry over, got %d", in.Sequence)
	}
}

func TestEngineAdoptsPeerRecords(t *testing.T) {
	peerStore := memory.New()
	peer := replica.NewLoopback(peerStore)

	// Node A replicates its checkpoint to the peer, then parks.
	engA := buildEngine(t, memory.New(),
		engine.WithTransport(&manualInvoker{}),
		engine.WithPeer(peer),
	)
	engA.MustRegisterFunction(orderFn())
	startEngine(t, engA)

	key, err := engA.StartScript(context.Background(), "order-1", "order", 0, 4)
	if err != nil {
		t.Fatalf("start script: %v", err)
	}
	waitState(t, engA, key, instance.StateSuspendedPendingIO)

	records, err := peerStore.GetAllPending(context.Background())
	if err != nil {
		t.Fatalf("peer pending: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the checkpoint replicated to the peer, got %d records", len(records))
	}

	// Node B has an empty local store; the startup pull adopts the
	// peer's record and the instance finishes here.
	mem := transport.NewMemory(nil)
	mem.Register("payments.charge", func(_ context.Context, payload any) (any, error) {
		return payload.(int64) * 10, nil
	})

	engB := buildEngine(t, memory.New(),
		engine.WithTransport(mem),
		engine.WithPeer(replica.NewLoopback(peerStore)),
	)
	engB.MustRegisterFunction(orderFn())
	startEngine(t, engB)

	in := waitState(t, engB, key, instance.StateTerminated)
	if in.Result != int64(70) {
		t.Errorf("expected 70, got %v (err=%s)", in.Result, in.LastError)
	}
}
