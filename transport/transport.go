// Package transport defines the port used to invoke external services
// and receive their results. The transport is an external collaborator:
// the runtime only needs an async dispatch call and a completion event
// stream back.
//
// Completions, not requests, are the unit the scheduler cares about: a
// completion arriving for a suspended instance is the event that
// triggers its resume. Requests carry a deterministic idempotency key
// so that a recovered instance can re-issue its last unacknowledged
// request without duplicating the side effect.
package transport

import (
	"context"
	"fmt"

	"github.com/skeinlabs/skein/id"
)

// Request describes one external operation dispatch.
type Request struct {
	// OpID correlates the eventual completion with the suspended
	// instance's pending operation.
	OpID id.OpID `json:"op_id"`

	InstanceKey string `json:"instance_key"`
	Service     string `json:"service"`
	Payload     any    `json:"payload"`

	// IdempotencyKey is stable across replays of the same suspension:
	// instance key, checkpoint sequence, suspending function, and
	// instruction index. A transport that has already executed a key
	// returns the recorded result instead of re-running the side
	// effect.
	IdempotencyKey string `json:"idempotency_key"`
}

// Completion is the result event for a dispatched request.
type Completion struct {
	OpID        id.OpID `json:"op_id"`
	InstanceKey string  `json:"instance_key"`
	Result      any     `json:"result,omitempty"`

	// Err carries a transport-level failure (including the transport's
	// own request timeout). It is delivered to the suspended frame as
	// a typed error, never as silent loss of the instance.
	Err string `json:"err,omitempty"`
}

// Failed reports whether the completion is a transport failure.
func (c *Completion) Failed() bool { return c.Err != "" }

// Invoker is the transport port. Invoke is asynchronous: it returns
// once the request is accepted, and the result arrives later as a
// Completion on the handler registered with OnCompletion.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) error
	OnCompletion(fn func(context.Context, *Completion))
}

// IdempotencyKey builds the replay-stable key for a suspension point.
func IdempotencyKey(instanceKey string, seq uint64, service string, ip int) string {
	return fmt.Sprintf("%s:%d:%s:%d", instanceKey, seq, service, ip)
}
