package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/formrelay/internal/domain"
)

const (
	stageLaunch   = "launch"
	stageNavigate = "navigate"

	snapshotTimeout = 10 * time.Second
)

// Result is the terminal outcome of one attempt.
type Result struct {
	OK       bool
	Stage    string // failed stage, empty on success
	Err      error
	Artifact string // screenshot path, if one was written
}

// Options tunes the driver.
type Options struct {
	ArtifactDir    string
	CaptureSuccess bool
	Logger         *slog.Logger
}

// Driver replays the pipeline for one attempt at a time per call. Each Run
// opens its own page and never shares it.
type Driver struct {
	launcher Launcher
	pipeline atomic.Pointer[Pipeline]
	opts     Options
	log      *slog.Logger
}

// NewDriver creates a driver for pipeline backed by launcher.
func NewDriver(launcher Launcher, pipeline *Pipeline, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		launcher: launcher,
		opts:     opts,
		log:      logger,
	}
	d.pipeline.Store(pipeline)
	return d
}

// SetPipeline replaces the pipeline used by attempts started afterwards.
// Running attempts keep the pipeline they started with.
func (d *Driver) SetPipeline(p *Pipeline) {
	d.pipeline.Store(p)
}

// pageCloser closes a page exactly once, whichever exit path gets there first.
type pageCloser struct {
	once sync.Once
	page Page
	err  error
}

func (c *pageCloser) Close() error {
	c.once.Do(func() {
		c.err = c.page.Close()
	})
	return c.err
}

// Run drives the external workflow with attempt's fields.
func (d *Driver) Run(ctx context.Context, attempt domain.Attempt) Result {
	log := d.log.With("attempt_id", attempt.ID, "user_id", attempt.UserID)
	started := time.Now()
	pipeline := d.pipeline.Load()

	page, err := d.launcher.Open(ctx, attempt.ID)
	if err != nil {
		log.Error("Failed to open browser", "error", err)
		return Result{Stage: stageLaunch, Err: &StageError{Stage: stageLaunch, Err: err}}
	}
	closer := &pageCloser{page: page}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Warn("Failed to close browser", "error", err)
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, pipeline.NavigationTimeout)
	err = page.Navigate(navCtx, pipeline.StartURL)
	cancel()
	if err != nil {
		return d.fail(ctx, log, page, closer, attempt, stageNavigate, err)
	}

	for _, st := range pipeline.Stages {
		log.Info("Running form stage", "stage", st.Name)
		if err := pipeline.runStage(ctx, page, st, attempt.Fields); err != nil {
			return d.fail(ctx, log, page, closer, attempt, st.Name, err)
		}
	}

	res := Result{OK: true}
	if d.opts.CaptureSuccess {
		res.Artifact = d.snapshot(ctx, log, page, fmt.Sprintf("confirmation-%s.png", attempt.ID))
	}
	if err := closer.Close(); err != nil {
		log.Warn("Failed to close browser after success", "error", err)
	}
	log.Info("Form workflow completed", "duration", time.Since(started))
	return res
}

func (d *Driver) fail(ctx context.Context, log *slog.Logger, page Page, closer *pageCloser, attempt domain.Attempt, stage string, err error) Result {
	log.Error("Form stage failed", "stage", stage, "error", err)
	artifact := d.snapshot(ctx, log, page, fmt.Sprintf("failure-%s-%s.png", attempt.ID, stage))
	if closeErr := closer.Close(); closeErr != nil {
		log.Warn("Failed to close browser after failure", "error", closeErr)
	}
	return Result{
		Stage:    stage,
		Err:      &StageError{Stage: stage, Err: err},
		Artifact: artifact,
	}
}

// snapshot writes a screenshot into the artifact dir and returns its path,
// or "" if it could not be captured. It runs on a fresh deadline because the
// attempt's own context may already be spent.
func (d *Driver) snapshot(ctx context.Context, log *slog.Logger, page Page, name string) string {
	if d.opts.ArtifactDir == "" {
		return ""
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()

	data, err := page.Screenshot(shotCtx)
	if err != nil {
		log.Warn("Failed to capture screenshot", "error", err)
		return ""
	}
	if err := os.MkdirAll(d.opts.ArtifactDir, 0o755); err != nil {
		log.Warn("Failed to create artifact directory", "error", err, "dir", d.opts.ArtifactDir)
		return ""
	}
	path := filepath.Join(d.opts.ArtifactDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("Failed to write screenshot", "error", err, "path", path)
		return ""
	}
	log.Info("Screenshot saved", "path", path)
	return path
}
