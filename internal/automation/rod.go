package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodConfig configures how pages are obtained from Chrome.
type RodConfig struct {
	// ControlURL connects to an existing DevTools endpoint. When empty a
	// local Chrome is launched per attempt.
	ControlURL     string
	Bin            string
	Headless       bool
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
}

func (c RodConfig) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w == 0 {
		w = 1366
	}
	if h == 0 {
		h = 900
	}
	return w, h
}

// RodLauncher opens one Chrome page per attempt using go-rod. In remote
// mode a single DevTools connection is shared and every attempt gets its
// own incognito context on it.
type RodLauncher struct {
	cfg RodConfig

	mu     sync.Mutex
	remote *rod.Browser
}

// NewRodLauncher creates a launcher.
func NewRodLauncher(cfg RodConfig) *RodLauncher {
	return &RodLauncher{cfg: cfg}
}

// Open launches (or connects to) Chrome and returns an isolated page.
func (l *RodLauncher) Open(ctx context.Context, attemptID string) (Page, error) {
	if l.cfg.ControlURL != "" {
		return l.openRemote(ctx)
	}

	lnch := launcher.New().Headless(l.cfg.Headless).Leakless(true)
	if l.cfg.Bin != "" {
		lnch = lnch.Bin(l.cfg.Bin)
	}
	if l.cfg.NoSandbox {
		lnch = lnch.Set(flags.NoSandbox)
	}
	controlURL, err := lnch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	slog.Debug("Chrome launched", "attempt_id", attemptID, "pid", lnch.PID())

	release := func() error {
		lnch.Kill()
		lnch.Cleanup()
		return nil
	}
	page, err := ConnectRod(ctx, controlURL, l.cfg, release)
	if err != nil {
		_ = release()
		return nil, err
	}
	return page, nil
}

func (l *RodLauncher) openRemote(ctx context.Context) (Page, error) {
	browser, err := l.remoteBrowser()
	if err != nil {
		return nil, err
	}
	page, err := newIncognitoPage(ctx, browser, l.cfg)
	if err != nil {
		// The connection is likely dead; reconnect on the next attempt.
		l.forgetRemote(browser)
		return nil, err
	}
	return page, nil
}

func (l *RodLauncher) remoteBrowser() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote != nil {
		return l.remote, nil
	}
	controlURL, err := launcher.ResolveURL(l.cfg.ControlURL)
	if err != nil {
		return nil, fmt.Errorf("resolve devtools url: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	l.remote = browser
	return browser, nil
}

func (l *RodLauncher) forgetRemote(browser *rod.Browser) {
	l.mu.Lock()
	if l.remote == browser {
		l.remote = nil
	}
	l.mu.Unlock()
}

// ConnectRod connects to the browser at controlURL and opens an incognito
// page on it. The returned page owns the browser: closing it shuts Chrome
// down and then runs release, if set.
func ConnectRod(ctx context.Context, controlURL string, cfg RodConfig, release func() error) (Page, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := newIncognitoPage(ctx, browser, cfg)
	if err != nil {
		if cerr := browser.Close(); cerr != nil {
			slog.Debug("Browser close returned error", "error", cerr)
		}
		return nil, err
	}
	page.owner = browser
	page.release = release
	return page, nil
}

func newIncognitoPage(ctx context.Context, browser *rod.Browser, cfg RodConfig) (*rodPage, error) {
	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	w, h := cfg.viewport()
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page.Context(ctx)); err != nil {
		slog.Warn("Failed to set viewport", "error", err)
	}

	return &rodPage{page: page, incognito: incognito}, nil
}

type rodPage struct {
	page      *rod.Page
	incognito *rod.Browser
	// owner is nil when the connection is shared with other attempts.
	owner   *rod.Browser
	release func() error
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return el.Context(ctx), nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Focus(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Focus()
}

func (p *rodPage) Blur(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => this.blur()`)
	return err
}

func (p *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

func (p *rodPage) Enabled(ctx context.Context, selector string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(`(s) => {
		const el = document.querySelector(s);
		return !!el && !el.disabled;
	}`, selector)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	res, err := p.page.Context(ctx).Eval(`(s) => {
		const el = document.querySelector(s);
		return el ? el.innerText : null;
	}`, selector)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return res.Value.Str(), nil
}

func (p *rodPage) ClickByText(ctx context.Context, selector, label string) error {
	res, err := p.page.Context(ctx).Eval(`(s, label) => {
		const el = Array.from(document.querySelectorAll(s))
			.find((e) => (e.innerText || "").includes(label));
		if (!el) return false;
		el.click();
		return true;
	}`, selector, label)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: no %s labelled %q", ErrControlNotFound, selector, strings.TrimSpace(label))
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, nil)
}

// Close tears down the page and its incognito context. An owned browser
// is shut down too; a shared connection stays open for the next attempt.
func (p *rodPage) Close() error {
	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	if err := p.incognito.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser context: %w", err))
	}
	if p.owner != nil {
		if err := p.owner.Close(); err != nil {
			slog.Debug("Browser close returned error", "error", err)
		}
	}
	if p.release != nil {
		if err := p.release(); err != nil {
			errs = append(errs, fmt.Errorf("release browser: %w", err))
		}
	}
	return errors.Join(errs...)
}
