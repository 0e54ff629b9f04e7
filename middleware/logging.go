package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeinlabs/skein/instance"
)

// Logging returns middleware that logs slice start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, in *instance.Instance, next Handler) error {
		logger.Debug("slice started",
			slog.String("instance", in.Key),
			slog.String("function", in.Function),
			slog.Uint64("sequence", in.Sequence),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("slice failed",
				slog.String("instance", in.Key),
				slog.String("function", in.Function),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("slice finished",
				slog.String("instance", in.Key),
				slog.String("function", in.Function),
				slog.Duration("elapsed", elapsed),
				slog.String("state", string(in.State)),
			)
		}

		return err
	}
}
