package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fakePage is an in-memory Page. Elements exist when listed in present;
// clicks can mutate the page through onClick to simulate navigation.
type fakePage struct {
	mu       sync.Mutex
	present  map[string]bool
	disabled map[string]bool
	text     map[string]string
	labels   map[string][]string // selector -> visible labels of its matches
	onClick  map[string]func(p *fakePage)

	typed   []string // "selector=value"
	actions []string
	closes  int

	navigateErr error
	shotErr     error
}

func newFakePage(selectors ...string) *fakePage {
	p := &fakePage{
		present:  map[string]bool{},
		disabled: map[string]bool{},
		text:     map[string]string{},
		labels:   map[string][]string{},
		onClick:  map[string]func(*fakePage){},
	}
	for _, s := range selectors {
		p.present[s] = true
	}
	return p
}

func (p *fakePage) record(action string) {
	p.actions = append(p.actions, action)
}

func (p *fakePage) require(selector string) error {
	if !p.present[selector] {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate " + url)
	return p.navigateErr
}

func (p *fakePage) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.require(selector); err != nil {
		return err
	}
	p.typed = append(p.typed, selector+"="+text)
	p.record("type " + selector)
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if err := p.require(selector); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click " + selector)
	hook := p.onClick[selector]
	p.mu.Unlock()
	if hook != nil {
		p.mu.Lock()
		hook(p)
		p.mu.Unlock()
	}
	return nil
}

func (p *fakePage) Focus(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("focus " + selector)
	return p.require(selector)
}

func (p *fakePage) Blur(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("blur " + selector)
	return p.require(selector)
}

func (p *fakePage) Has(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[selector], nil
}

func (p *fakePage) Enabled(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[selector] && !p.disabled[selector], nil
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.require(selector); err != nil {
		return "", err
	}
	return p.text[selector], nil
}

func (p *fakePage) ClickByText(ctx context.Context, selector, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.labels[selector] {
		if strings.Contains(l, label) {
			p.record("click " + selector + " " + label)
			return nil
		}
	}
	return fmt.Errorf("%w: no %s labelled %q", ErrControlNotFound, selector, label)
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePage) typedValues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

type fakeLauncher struct {
	page  *fakePage
	err   error
	opens int
}

func (l *fakeLauncher) Open(ctx context.Context, attemptID string) (Page, error) {
	l.opens++
	if l.err != nil {
		return nil, l.err
	}
	if l.page == nil {
		return nil, errors.New("no page configured")
	}
	return l.page, nil
}

// completeForm returns a page on which every stage of DefaultLayout can
// complete.
func completeForm() *fakePage {
	p := newFakePage(
		"#name", "#email", "#phone", "#cpf",
		"#termsAndAge", "#termsSmsEmail",
		submitButton, anyButton,
		"#zipCode", "#street", "#neighborhood", "#number", "#complement",
		"h1", "input[name='number']",
		"#validate", "#cvv",
		".finalConfirmation",
	)
	p.text["h1"] = "Serviços Adicionais"
	p.labels[anyButton] = []string{"Voltar", "Próximo passo"}
	return p
}
