package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/skeinlabs/skein/frame"
	"github.com/skeinlabs/skein/instance"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
//
// Chain desyncs are the one exception: they signal corruption of the
// suspended state itself and are re-raised so the host crashes loudly
// instead of terminating the instance with a plausible-looking error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, in *instance.Instance, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				if desync, ok := r.(*frame.DesyncError); ok {
					panic(desync)
				}
				stack := string(debug.Stack())
				logger.Error("script slice panicked",
					slog.String("instance", in.Key),
					slog.String("function", in.Function),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in instance %s: %v", in.Key, r)
			}
		}()
		return next(ctx)
	}
}
