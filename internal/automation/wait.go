package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultPollInterval = 100 * time.Millisecond

// Condition is a readiness predicate over the page's rendered state.
type Condition interface {
	Ready(ctx context.Context, p Page) (bool, error)
	String() string
}

type visible struct{ selector string }

// Visible is ready once selector matches an element.
func Visible(selector string) Condition { return visible{selector} }

func (c visible) Ready(ctx context.Context, p Page) (bool, error) {
	return p.Has(ctx, c.selector)
}

func (c visible) String() string { return "visible " + c.selector }

type enabled struct{ selector string }

// Enabled is ready once selector matches an element that is not disabled.
func Enabled(selector string) Condition { return enabled{selector} }

func (c enabled) Ready(ctx context.Context, p Page) (bool, error) {
	return p.Enabled(ctx, c.selector)
}

func (c enabled) String() string { return "enabled " + c.selector }

type textContains struct{ selector, marker string }

// TextContains is ready once selector's text contains marker.
func TextContains(selector, marker string) Condition { return textContains{selector, marker} }

func (c textContains) Ready(ctx context.Context, p Page) (bool, error) {
	ok, err := p.Has(ctx, c.selector)
	if err != nil || !ok {
		return false, err
	}
	text, err := p.Text(ctx, c.selector)
	if err != nil {
		return false, err
	}
	return strings.Contains(text, c.marker), nil
}

func (c textContains) String() string {
	return fmt.Sprintf("text of %s contains %q", c.selector, c.marker)
}

// WaitFor polls cond until it holds or timeout elapses. A non-positive
// timeout is rejected: every wait on the external form must be bounded.
// Errors from the predicate are treated as "not ready yet".
func WaitFor(ctx context.Context, p Page, cond Condition, timeout, interval time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("wait for %s: timeout must be positive", cond)
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond.Ready(ctx, p)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return fmt.Errorf("wait for %s: %w", cond, parent.Err())
			}
			if lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %s (last error: %v)", ErrTimeout, timeout, cond, lastErr)
			}
			return fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, cond)
		case <-ticker.C:
		}
	}
}
