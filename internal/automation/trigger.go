package automation

import (
	"context"
	"fmt"
)

// Trigger performs a stage's transition action (advancing the form, or a
// gating click such as a consent toggle).
type Trigger interface {
	Fire(ctx context.Context, p Page) error
	String() string
}

type bySelector struct{ selector string }

// BySelector clicks the control identified by a stable selector.
func BySelector(selector string) Trigger { return bySelector{selector} }

func (t bySelector) Fire(ctx context.Context, p Page) error {
	ok, err := p.Has(ctx, t.selector)
	if err != nil {
		return fmt.Errorf("locate %s: %w", t.selector, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrControlNotFound, t.selector)
	}
	if err := p.Click(ctx, t.selector); err != nil {
		return fmt.Errorf("click %s: %w", t.selector, err)
	}
	return nil
}

func (t bySelector) String() string { return "click " + t.selector }

type byLabel struct{ candidates, label string }

// ByLabel clicks the first of the candidate controls whose visible text
// contains label. It is meant for controls without a stable identifier and
// breaks if the external form's wording changes.
func ByLabel(candidates, label string) Trigger { return byLabel{candidates, label} }

func (t byLabel) Fire(ctx context.Context, p Page) error {
	if err := p.ClickByText(ctx, t.candidates, t.label); err != nil {
		return fmt.Errorf("click %s labelled %q: %w", t.candidates, t.label, err)
	}
	return nil
}

func (t byLabel) String() string {
	return fmt.Sprintf("click %s labelled %q", t.candidates, t.label)
}
