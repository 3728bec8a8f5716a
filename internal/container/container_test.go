package container

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/formrelay/internal/automation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu       sync.Mutex
	browsers []Browser
	stopped  []string
	startErr error
	listErr  error
	stopErr  error
}

func (f *fakeManager) EnsureNetwork(ctx context.Context) (string, error) { return "net", nil }

func (f *fakeManager) StartBrowser(ctx context.Context, attemptID string) (Browser, error) {
	if f.startErr != nil {
		return Browser{}, f.startErr
	}
	b := Browser{ID: "c-" + attemptID, AttemptID: attemptID, Addr: "10.0.0.2:9222", Created: time.Now()}
	f.mu.Lock()
	f.browsers = append(f.browsers, b)
	f.mu.Unlock()
	return b, nil
}

func (f *fakeManager) StopContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeManager) ListBrowsers(ctx context.Context) ([]Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Browser(nil), f.browsers...), f.listErr
}

func (f *fakeManager) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

// stubPage only implements Close; the launcher never drives the page.
type stubPage struct {
	automation.Page
	release func() error
}

func (p *stubPage) Close() error { return p.release() }

func TestBrowserLauncherReleaseRemovesContainer(t *testing.T) {
	mgr := &fakeManager{}
	l := NewBrowserLauncher(mgr, automation.RodConfig{})
	l.resolve = func(host string) (string, error) { return "ws://" + host + "/devtools/browser/x", nil }
	var gotURL string
	l.connect = func(ctx context.Context, u string, cfg automation.RodConfig, release func() error) (automation.Page, error) {
		gotURL = u
		return &stubPage{release: release}, nil
	}

	page, err := l.Open(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.2:9222/devtools/browser/x", gotURL)
	assert.Empty(t, mgr.stoppedIDs())

	require.NoError(t, page.Close())
	assert.Equal(t, []string{"c-att-1"}, mgr.stoppedIDs())
}

func TestBrowserLauncherWaitsForDevTools(t *testing.T) {
	mgr := &fakeManager{}
	l := NewBrowserLauncher(mgr, automation.RodConfig{})
	calls := 0
	l.resolve = func(host string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ws://ready", nil
	}
	l.connect = func(ctx context.Context, u string, cfg automation.RodConfig, release func() error) (automation.Page, error) {
		return &stubPage{release: release}, nil
	}

	_, err := l.Open(context.Background(), "att-2")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBrowserLauncherDevToolsNeverReady(t *testing.T) {
	mgr := &fakeManager{}
	l := NewBrowserLauncher(mgr, automation.RodConfig{})
	l.resolve = func(host string) (string, error) { return "", errors.New("connection refused") }

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	_, err := l.Open(ctx, "att-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"c-att-3"}, mgr.stoppedIDs())
}

func TestBrowserLauncherConnectFailureRemovesContainer(t *testing.T) {
	mgr := &fakeManager{}
	l := NewBrowserLauncher(mgr, automation.RodConfig{})
	l.resolve = func(host string) (string, error) { return "ws://ready", nil }
	l.connect = func(ctx context.Context, u string, cfg automation.RodConfig, release func() error) (automation.Page, error) {
		return nil, errors.New("handshake failed")
	}

	_, err := l.Open(context.Background(), "att-4")
	require.Error(t, err)
	assert.Equal(t, []string{"c-att-4"}, mgr.stoppedIDs())
}

func TestBrowserLauncherStartFailure(t *testing.T) {
	mgr := &fakeManager{startErr: errors.New("image not found")}
	l := NewBrowserLauncher(mgr, automation.RodConfig{})

	_, err := l.Open(context.Background(), "att-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image not found")
	assert.Empty(t, mgr.stoppedIDs())
}

func TestReapRemovesOnlyStaleContainers(t *testing.T) {
	now := time.Now()
	mgr := &fakeManager{browsers: []Browser{
		{ID: "old", AttemptID: "a", Created: now.Add(-20 * time.Minute)},
		{ID: "fresh", AttemptID: "b", Created: now.Add(-time.Minute)},
	}}

	n := Reap(context.Background(), mgr, 10*time.Minute, now)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"old"}, mgr.stoppedIDs())
}

func TestReapListFailure(t *testing.T) {
	mgr := &fakeManager{listErr: errors.New("daemon unavailable")}
	assert.Equal(t, 0, Reap(context.Background(), mgr, time.Minute, time.Now()))
}

func TestReapStopFailureNotCounted(t *testing.T) {
	now := time.Now()
	mgr := &fakeManager{
		browsers: []Browser{{ID: "old", Created: now.Add(-time.Hour)}},
		stopErr:  errors.New("busy"),
	}
	assert.Equal(t, 0, Reap(context.Background(), mgr, time.Minute, now))
}

func TestStartReaper(t *testing.T) {
	mgr := &fakeManager{browsers: []Browser{{ID: "old", Created: time.Now().Add(-time.Hour)}}}
	ctx, cancel := context.WithCancel(context.Background())

	done := StartReaper(ctx, mgr, 10*time.Millisecond, time.Minute)
	require.Eventually(t, func() bool {
		return len(mgr.stoppedIDs()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "formrelay-browser-att-1", containerName("att-1"))
}
