// Package automation replays the external sign-up form for one registration
// attempt.
//
// The driver only knows the interactions it issues against a Page; the
// browser behind it is supplied by a Launcher. Stage definitions live in a
// Layout so the external form's selectors can change without touching the
// pipeline.
package automation

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a readiness predicate stays false past its bound.
	ErrTimeout = errors.New("readiness wait timed out")
	// ErrElementMissing is returned when an expected element is not on the page.
	ErrElementMissing = errors.New("element missing")
	// ErrControlNotFound is returned when a transition control cannot be located.
	ErrControlNotFound = errors.New("control not found")
)

// Page is the set of interactions the driver issues against the external
// form. Implementations must not wait indefinitely; every call is expected
// to honour ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	Blur(ctx context.Context, selector string) error

	// Has reports whether selector currently matches an element.
	Has(ctx context.Context, selector string) (bool, error)
	// Enabled reports whether the first match exists and is not disabled.
	Enabled(ctx context.Context, selector string) (bool, error)
	// Text returns the rendered text of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// ClickByText clicks the first element matching selector whose visible
	// text contains label. It returns ErrControlNotFound if none does.
	ClickByText(ctx context.Context, selector, label string) error

	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher opens a fresh, exclusively owned browser page for one attempt.
type Launcher interface {
	Open(ctx context.Context, attemptID string) (Page, error)
}
