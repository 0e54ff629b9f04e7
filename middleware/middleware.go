// Package middleware provides composable middleware for script slice
// execution. Middleware wraps each slice the scheduler runs (start or
// resume) and can modify execution: recover from panics, log, add
// tracing and metrics, enforce deadlines.
package middleware

import (
	"context"

	"github.com/skeinlabs/skein/instance"
)

// Handler is the terminal function that runs one execution slice.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the instance being driven, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, in *instance.Instance, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, in *instance.Instance, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, in, prev)
			}
		}
		return h(ctx)
	}
}
