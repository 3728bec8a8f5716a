package automation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const layoutDebounce = 500 * time.Millisecond

// WatchLayout recompiles the layout at path whenever the file changes and
// passes the new pipeline to onChange. A layout that fails to load or
// compile is logged and ignored. The parent directory is watched because
// editors usually replace files instead of writing them in place.
//
// The returned channel closes once the watcher has stopped after ctx is done.
func WatchLayout(ctx context.Context, path string, onChange func(*Pipeline)) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve layout path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create layout watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("Watching layout file", "path", abs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				slog.Warn("Failed to close layout watcher", "error", err)
			}
		}()

		// Rapid saves collapse into one reload.
		debounce := time.NewTimer(time.Hour)
		debounce.Stop()
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				debounce.Reset(layoutDebounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Layout watcher error", "error", err)

			case <-debounce.C:
				reloadLayout(abs, onChange)
			}
		}
	}()
	return done, nil
}

func reloadLayout(path string, onChange func(*Pipeline)) {
	layout, err := LoadLayout(path)
	if err != nil {
		slog.Error("Layout reload failed, keeping previous layout", "path", path, "error", err)
		return
	}
	pipeline, err := layout.Compile()
	if err != nil {
		slog.Error("Layout reload failed, keeping previous layout", "path", path, "error", err)
		return
	}
	slog.Info("Layout reloaded", "path", path, "stages", len(pipeline.Stages))
	onChange(pipeline)
}
