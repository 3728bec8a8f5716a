package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMissingValue is returned when a required binding has no value in the
// attempt and no layout default.
var ErrMissingValue = errors.New("no value for required binding")

// Binding maps a collected field onto a form input.
type Binding struct {
	Field    string
	Selector string
	// Blur focuses then blurs the input after typing, for forms that only
	// validate on blur.
	Blur bool
	// Optional bindings are skipped when no value is available.
	Optional bool
}

// Wait is a readiness predicate with its bound.
type Wait struct {
	Cond    Condition
	Timeout time.Duration
}

// Stage is one page of the external workflow.
type Stage struct {
	Name     string
	Bindings []Binding
	Gates    []Trigger
	Ready    []Wait
	Advance  Trigger
	Arrived  Wait
}

// Pipeline is the full, ordered workflow.
type Pipeline struct {
	StartURL          string
	NavigationTimeout time.Duration
	PollInterval      time.Duration
	Defaults          map[string]string
	Stages            []Stage
}

// StageError records which stage of the workflow failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// valueFor resolves a binding against the attempt, then the layout defaults.
func (p *Pipeline) valueFor(b Binding, fields map[string]string) (string, bool) {
	if v, ok := fields[b.Field]; ok {
		return v, true
	}
	if v, ok := p.Defaults[b.Field]; ok {
		return v, true
	}
	return "", false
}

// Unbound lists required binding fields that neither the given collected
// fields nor the layout defaults provide, in stage order.
func (p *Pipeline) Unbound(collected []string) []string {
	have := make(map[string]bool, len(collected))
	for _, name := range collected {
		have[name] = true
	}
	var missing []string
	for _, st := range p.Stages {
		for _, b := range st.Bindings {
			if b.Optional || have[b.Field] {
				continue
			}
			if _, ok := p.Defaults[b.Field]; ok {
				continue
			}
			have[b.Field] = true
			missing = append(missing, b.Field)
		}
	}
	return missing
}

func (p *Pipeline) runStage(ctx context.Context, page Page, st Stage, fields map[string]string) error {
	for _, b := range st.Bindings {
		value, ok := p.valueFor(b, fields)
		if !ok {
			if b.Optional {
				continue
			}
			return fmt.Errorf("%w: %s", ErrMissingValue, b.Field)
		}
		if err := page.Type(ctx, b.Selector, value); err != nil {
			return fmt.Errorf("fill %s: %w", b.Field, err)
		}
	}

	// Forced validation pass runs after every input is filled so that
	// cross-field checks see final values.
	for _, b := range st.Bindings {
		if !b.Blur {
			continue
		}
		if _, ok := p.valueFor(b, fields); !ok {
			continue
		}
		if err := page.Focus(ctx, b.Selector); err != nil {
			return fmt.Errorf("focus %s: %w", b.Field, err)
		}
		if err := page.Blur(ctx, b.Selector); err != nil {
			return fmt.Errorf("blur %s: %w", b.Field, err)
		}
	}

	for _, g := range st.Gates {
		if err := g.Fire(ctx, page); err != nil {
			return fmt.Errorf("gate: %w", err)
		}
	}

	for _, w := range st.Ready {
		if err := WaitFor(ctx, page, w.Cond, w.Timeout, p.PollInterval); err != nil {
			return err
		}
	}

	if st.Advance != nil {
		if err := st.Advance.Fire(ctx, page); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}

	if st.Arrived.Cond != nil {
		if err := WaitFor(ctx, page, st.Arrived.Cond, st.Arrived.Timeout, p.PollInterval); err != nil {
			return err
		}
	}
	return nil
}
