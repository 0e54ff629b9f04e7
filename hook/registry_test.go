package hook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skeinlabs/skein/hook"
	"github.com/skeinlabs/skein/instance"
)

// countingExt implements a subset of the hook interfaces.
type countingExt struct {
	started   int
	completed int
	committed int
	shutdown  int
	failErr   error
}

func (c *countingExt) Name() string { return "counting" }

func (c *countingExt) OnInstanceStarted(context.Context, *instance.Instance) error {
	c.started++
	return c.failErr
}

func (c *countingExt) OnInstanceCompleted(context.Context, *instance.Instance, time.Duration) error {
	c.completed++
	return nil
}

func (c *countingExt) OnCheckpointCommitted(context.Context, string, uint64, bool) error {
	c.committed++
	return nil
}

func (c *countingExt) OnShutdown(context.Context) error {
	c.shutdown++
	return nil
}

func TestRegistryDispatchesToImplementedHooks(t *testing.T) {
	ctx := context.Background()
	r := hook.NewRegistry(nil)
	ext := &countingExt{}
	r.Register(ext)

	in := instance.New("order-1", "transfer", 1)

	r.EmitInstanceStarted(ctx, in)
	r.EmitInstanceCompleted(ctx, in, time.Second)
	r.EmitCheckpointCommitted(ctx, "order-1", 1, true)
	r.EmitShutdown(ctx)

	// Events the extension does not implement must be no-ops.
	r.EmitInstanceFailed(ctx, in, errors.New("x"))
	r.EmitReplicationDegraded(ctx, "order-1", 1, errors.New("x"))

	if ext.started != 1 || ext.completed != 1 || ext.committed != 1 || ext.shutdown != 1 {
		t.Errorf("unexpected counts: %+v", ext)
	}
}

func TestRegistryHookErrorsDoNotPropagate(t *testing.T) {
	r := hook.NewRegistry(nil)
	ext := &countingExt{failErr: errors.New("hook broke")}
	r.Register(ext)

	// Must not panic or stop dispatch.
	r.EmitInstanceStarted(context.Background(), instance.New("order-1", "transfer", 1))

	if ext.started != 1 {
		t.Errorf("expected hook to run despite error, got %d", ext.started)
	}
}

func TestRegistryMultipleExtensionsInOrder(t *testing.T) {
	r := hook.NewRegistry(nil)
	a := &countingExt{}
	b := &countingExt{}
	r.Register(a)
	r.Register(b)

	r.EmitInstanceStarted(context.Background(), instance.New("order-1", "transfer", 1))

	if a.started != 1 || b.started != 1 {
		t.Errorf("expected both extensions notified, got %d/%d", a.started, b.started)
	}
	if len(r.Extensions()) != 2 {
		t.Errorf("expected 2 extensions, got %d", len(r.Extensions()))
	}
}
