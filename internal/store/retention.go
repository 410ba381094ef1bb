package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// archived sessions older than retention. A non-positive retention disables it.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retention")

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				pruneArchive(ctx, repo, retention, logger)
			case <-ctx.Done():
				logger.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneArchive(ctx context.Context, repo Repository, retention time.Duration, logger *slog.Logger) {
	deleted, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("Retention worker failed to prune archive", "error", err)
		return
	}
	if deleted > 0 {
		logger.Info("Retention worker pruned archived sessions", "count", deleted)
	}
}
