package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/formrelay/internal/automation"
	"github.com/go-rod/rod/lib/launcher"
)

const devtoolsPollInterval = 250 * time.Millisecond

// BrowserLauncher implements automation.Launcher with one Docker container
// per attempt. Closing the page removes the container.
type BrowserLauncher struct {
	mgr Manager
	cfg automation.RodConfig

	resolve func(host string) (string, error)
	connect func(ctx context.Context, controlURL string, cfg automation.RodConfig, release func() error) (automation.Page, error)
}

// NewBrowserLauncher creates a launcher backed by mgr.
func NewBrowserLauncher(mgr Manager, cfg automation.RodConfig) *BrowserLauncher {
	return &BrowserLauncher{
		mgr:     mgr,
		cfg:     cfg,
		resolve: launcher.ResolveURL,
		connect: automation.ConnectRod,
	}
}

// Open starts a browser container and connects to it once DevTools answers.
func (l *BrowserLauncher) Open(ctx context.Context, attemptID string) (automation.Page, error) {
	b, err := l.mgr.StartBrowser(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	release := func() error {
		// The attempt context may already be gone when the page is closed.
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return l.mgr.StopContainer(stopCtx, b.ID)
	}

	controlURL, err := l.waitDevTools(ctx, b.Addr)
	if err != nil {
		if stopErr := release(); stopErr != nil {
			slog.Warn("Failed to remove browser container", "container_id", b.ID, "error", stopErr)
		}
		return nil, err
	}

	page, err := l.connect(ctx, controlURL, l.cfg, release)
	if err != nil {
		return nil, errors.Join(err, release())
	}
	return page, nil
}

func (l *BrowserLauncher) waitDevTools(ctx context.Context, addr string) (string, error) {
	ticker := time.NewTicker(devtoolsPollInterval)
	defer ticker.Stop()

	for {
		u, err := l.resolve(addr)
		if err == nil {
			return u, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for devtools at %s: %w (last error: %v)", addr, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}
