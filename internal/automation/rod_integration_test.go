//go:build integration

package automation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const integrationForm = `<!doctype html>
<html><body>
<h1>Cadastro</h1>
<input id="name">
<button id="go" disabled>Enviar</button>
<script>
  const name = document.getElementById("name");
  const go = document.getElementById("go");
  name.addEventListener("blur", () => { go.disabled = name.value === ""; });
  go.addEventListener("click", () => {
    document.querySelector("h1").innerText = "Obrigado " + name.value;
  });
</script>
</body></html>`

// Requires a local Chrome; run with -tags integration.
func TestRodDriverAgainstLocalForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(integrationForm))
	}))
	defer srv.Close()

	layout := &Layout{
		StartURL:          srv.URL,
		NavigationTimeout: 20 * time.Second,
		Stages: []StageSpec{{
			Name:     "only",
			Bindings: []BindingSpec{{Field: "name", Selector: "#name", Blur: true}},
			Ready:    []WaitSpec{{Enabled: "#go", Timeout: 5 * time.Second}},
			Advance:  &ControlSpec{Selector: "button", Label: "Enviar"},
			Arrived:  &WaitSpec{Selector: "h1", Contains: "Obrigado", Timeout: 5 * time.Second},
		}},
	}
	pipeline, err := layout.Compile()
	require.NoError(t, err)

	d := NewDriver(NewRodLauncher(RodConfig{Headless: true, NoSandbox: true}), pipeline, Options{
		ArtifactDir:    t.TempDir(),
		CaptureSuccess: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res := d.Run(ctx, testAttempt())

	require.True(t, res.OK, "driver failed at %s: %v", res.Stage, res.Err)
	assert.FileExists(t, res.Artifact)
}

func TestRemoteLauncherSharesOneConnection(t *testing.T) {
	lnch := launcher.New().Headless(true).Set(flags.NoSandbox)
	controlURL, err := lnch.Launch()
	require.NoError(t, err)
	defer lnch.Cleanup()
	defer lnch.Kill()

	l := NewRodLauncher(RodConfig{ControlURL: controlURL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	first, err := l.Open(ctx, "a1")
	require.NoError(t, err)
	shared := l.remote
	require.NotNil(t, shared)
	require.NoError(t, first.Close())

	// Closing an attempt's page must leave the shared browser usable.
	second, err := l.Open(ctx, "a2")
	require.NoError(t, err)
	assert.Same(t, shared, l.remote)
	assert.Nil(t, second.(*rodPage).owner)
	require.NoError(t, second.Close())

	_, err = shared.Version()
	assert.NoError(t, err)
}
