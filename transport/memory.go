package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// HandlerFunc executes one external service call.
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// Memory is an in-process Invoker backed by registered Go handlers.
// It deduplicates by idempotency key: a replayed request whose key has
// already executed delivers the recorded result without re-running the
// handler. Intended for tests and for embedding hosts whose "external"
// services are local functions.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	executed map[string]*Completion // idempotency key → recorded result
	calls    map[string]int         // service → side-effect executions
	deliver  func(context.Context, *Completion)
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewMemory creates an empty in-process transport.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Memory{
		handlers: make(map[string]HandlerFunc),
		executed: make(map[string]*Completion),
		calls:    make(map[string]int),
		logger:   logger,
	}
}

// Register binds a handler to a service name.
func (m *Memory) Register(service string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[service] = h
}

// OnCompletion sets the completion sink. The scheduler registers its
// delivery entry point here before any Invoke.
func (m *Memory) OnCompletion(fn func(context.Context, *Completion)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliver = fn
}

// Invoke dispatches a request asynchronously. The handler runs on its
// own goroutine and its result is handed to the completion sink.
func (m *Memory) Invoke(ctx context.Context, req *Request) error {
	m.mu.RLock()
	h, ok := m.handlers[req.Service]
	deliver := m.deliver
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("transport: no handler for service %q", req.Service)
	}
	if deliver == nil {
		return fmt.Errorf("transport: no completion sink registered")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		deliver(ctx, m.execute(ctx, h, req))
	}()

	return nil
}

// execute runs the handler once per idempotency key, returning the
// recorded completion on replay.
func (m *Memory) execute(ctx context.Context, h HandlerFunc, req *Request) *Completion {
	m.mu.RLock()
	prior, seen := m.executed[req.IdempotencyKey]
	m.mu.RUnlock()

	if seen {
		m.logger.Debug("deduplicated replayed request",
			slog.String("instance", req.InstanceKey),
			slog.String("service", req.Service),
			slog.String("idempotency_key", req.IdempotencyKey),
		)

		cp := *prior
		cp.OpID = req.OpID
		return &cp
	}

	result, err := h(ctx, req.Payload)

	c := &Completion{
		OpID:        req.OpID,
		InstanceKey: req.InstanceKey,
		Result:      result,
	}
	if err != nil {
		c.Err = err.Error()
	}

	m.mu.Lock()
	m.executed[req.IdempotencyKey] = c
	m.calls[req.Service]++
	m.mu.Unlock()

	return c
}

// SideEffectCount reports how many times the service's handler
// actually ran (dedup hits excluded).
func (m *Memory) SideEffectCount(service string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[service]
}

// Wait blocks until all in-flight handler goroutines finish.
func (m *Memory) Wait() { m.wg.Wait() }
