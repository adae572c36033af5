// Package sweeper periodically deletes refresh records past their retention.
//
// RunTicker sweeps in-process on an interval and suits a single replica.
// Asynq schedules one sweep task per period through Redis, so that only one
// replica sweeps at a time.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Target is satisfied by *tradeauth.Engine.
type Target interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RunTicker sweeps every interval until ctx is done. Failures are logged and
// the loop continues.
func RunTicker(ctx context.Context, target Target, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, target, logger)
		}
	}
}

func sweepOnce(ctx context.Context, target Target, logger *slog.Logger) (int, error) {
	start := time.Now()
	n, err := target.SweepExpired(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "refresh token sweep failed", slog.String("error", err.Error()))
		return n, err
	}
	logger.DebugContext(ctx, "refresh token sweep done",
		slog.Int("removed", n),
		slog.Duration("took", time.Since(start)),
	)
	return n, nil
}
