package container

import (
	"context"
	"log/slog"
	"time"
)

// Reap removes browser containers created before now-maxAge and returns how
// many it removed.
func Reap(ctx context.Context, mgr Manager, maxAge time.Duration, now time.Time) int {
	browsers, err := mgr.ListBrowsers(ctx)
	if err != nil {
		slog.Error("Browser reaper failed to list containers", "error", err)
		return 0
	}

	removed := 0
	for _, b := range browsers {
		if now.Sub(b.Created) < maxAge {
			continue
		}
		slog.Info("Browser reaper removing stale container",
			"container_id", b.ID,
			"attempt_id", b.AttemptID,
			"age", now.Sub(b.Created).Round(time.Second))
		if err := mgr.StopContainer(ctx, b.ID); err != nil {
			slog.Error("Browser reaper failed to remove container", "error", err, "container_id", b.ID)
			continue
		}
		removed++
	}
	return removed
}

// StartReaper runs Reap every interval until ctx is done. The returned
// channel closes when the worker exits.
func StartReaper(ctx context.Context, mgr Manager, interval, maxAge time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("Browser reaper started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				if n := Reap(ctx, mgr, maxAge, time.Now()); n > 0 {
					slog.Info("Browser reaper cleanup completed", "removed", n)
				}
			case <-ctx.Done():
				slog.Info("Browser reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
