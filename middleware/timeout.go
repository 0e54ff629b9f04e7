package middleware

import (
	"context"
	"time"

	"github.com/skeinlabs/skein/instance"
)

// Timeout returns middleware that bounds each execution slice.
// When d is zero the middleware is a pass-through. When the deadline is
// exceeded the context is cancelled and the interpreter surfaces
// context.DeadlineExceeded at the next instruction boundary.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *instance.Instance, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
