package journal

import (
	"context"
	"log/slog"
	"time"
)

const pruneWorkerInterval = time.Hour

// Pruner deletes entries older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// StartPruneWorker prunes once immediately and then on every interval tick
// until ctx is done. A zero interval uses the hourly default.
func StartPruneWorker(ctx context.Context, p Pruner, retention, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = pruneWorkerInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Journal prune worker started", "interval", interval, "retention", retention)

		prune(ctx, p, retention, logger)
		for {
			select {
			case <-ticker.C:
				prune(ctx, p, retention, logger)
			case <-ctx.Done():
				logger.Info("Journal prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func prune(ctx context.Context, p Pruner, retention time.Duration, logger *slog.Logger) {
	deleted, err := p.Prune(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Journal prune failed", "error", err)
		}
		return
	}
	if deleted > 0 {
		logger.Info("Journal pruned", "deleted", deleted, "retention", retention)
	}
}
