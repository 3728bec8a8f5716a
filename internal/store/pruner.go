package store

import (
	"context"
	"log/slog"
	"time"
)

// StartPruner periodically deletes finished attempts older than retention.
// It stops when ctx is done and closes the returned channel on exit.
func StartPruner(ctx context.Context, repo Repository, interval, retention time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("Attempt pruner started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				n, err := repo.PruneAttempts(pruneCtx, retention)
				cancel()
				if err != nil {
					slog.Error("Attempt pruning failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("Pruned old attempts", "count", n)
				}
			case <-ctx.Done():
				slog.Info("Attempt pruner shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
