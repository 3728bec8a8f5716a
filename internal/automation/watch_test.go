package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layoutYAML(startURL string) string {
	return fmt.Sprintf(`
start_url: %s
navigation_timeout: 5s
stages:
  - name: only
    bindings:
      - field: name
        selector: "#name"
    advance:
      selector: "#go"
`, startURL)
}

func TestWatchLayoutReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(layoutYAML("http://one.test/")), 0o600))

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done, err := WatchLayout(ctx, path, func(p *Pipeline) {
		mu.Lock()
		got = append(got, p.StartURL)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer func() {
		cancel()
		<-done
	}()

	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}

	require.NoError(t, os.WriteFile(path, []byte(layoutYAML("http://two.test/")), 0o600))
	require.Eventually(t, func() bool {
		s := seen()
		return len(s) > 0 && s[len(s)-1] == "http://two.test/"
	}, 5*time.Second, 20*time.Millisecond)

	// An invalid layout keeps the previous one.
	before := len(seen())
	require.NoError(t, os.WriteFile(path, []byte("stages: []\n"), 0o600))
	time.Sleep(3 * layoutDebounce)
	assert.Len(t, seen(), before)
}

func TestWatchLayoutIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(layoutYAML("http://one.test/")), 0o600))

	calls := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done, err := WatchLayout(ctx, path, func(*Pipeline) { calls <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(layoutYAML("http://x/")), 0o600))
	select {
	case <-calls:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(3 * layoutDebounce):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchLayoutMissingDir(t *testing.T) {
	_, err := WatchLayout(context.Background(), filepath.Join(t.TempDir(), "missing", "layout.yaml"), func(*Pipeline) {})
	assert.Error(t, err)
}

func TestDriverSetPipeline(t *testing.T) {
	p1, err := DefaultLayout().Compile()
	require.NoError(t, err)
	l := DefaultLayout()
	l.StartURL = "http://other.test/"
	p2, err := l.Compile()
	require.NoError(t, err)

	d := NewDriver(&fakeLauncher{}, p1, Options{})
	assert.Same(t, p1, d.pipeline.Load())
	d.SetPipeline(p2)
	assert.Same(t, p2, d.pipeline.Load())
}
