package session

import (
	"context"
	"log/slog"
	"time"
)

// ReapCallback is called for every session removed by the reaper.
type ReapCallback func(userID string)

// StartReaper runs a background goroutine that periodically sweeps sessions
// idle for longer than idle. It stops when ctx is done and closes the
// returned channel on exit.
func (s *Store) StartReaper(ctx context.Context, interval, idle time.Duration, onReap ReapCallback) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "idle_ttl", idle)

		for {
			select {
			case <-ticker.C:
				reaped := s.Sweep(idle)
				if len(reaped) == 0 {
					continue
				}
				for _, userID := range reaped {
					slog.Info("Session reaper removed idle session", "user_id", userID)
					if onReap != nil {
						onReap(userID)
					}
				}
				slog.Info("Session reaper sweep completed", "reaped", len(reaped), "remaining", s.Len())
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
