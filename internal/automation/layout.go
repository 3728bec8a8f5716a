package automation

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout is the declarative description of the external workflow. It is the
// only contract with the external form and is loaded from YAML so selectors
// can be revised without a rebuild.
type Layout struct {
	StartURL          string            `yaml:"start_url"`
	NavigationTimeout time.Duration     `yaml:"navigation_timeout"`
	PollInterval      time.Duration     `yaml:"poll_interval,omitempty"`
	Defaults          map[string]string `yaml:"defaults,omitempty"`
	Stages            []StageSpec       `yaml:"stages"`
}

// StageSpec describes one page of the workflow.
type StageSpec struct {
	Name     string        `yaml:"name"`
	Bindings []BindingSpec `yaml:"bindings,omitempty"`
	Gates    []ControlSpec `yaml:"gates,omitempty"`
	Ready    []WaitSpec    `yaml:"ready,omitempty"`
	Advance  *ControlSpec  `yaml:"advance,omitempty"`
	Arrived  *WaitSpec     `yaml:"arrived,omitempty"`
}

// BindingSpec maps a field onto an input selector.
type BindingSpec struct {
	Field    string `yaml:"field"`
	Selector string `yaml:"selector"`
	Blur     bool   `yaml:"blur,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// ControlSpec locates a control by selector, or by visible label among the
// selector's matches when Label is set.
type ControlSpec struct {
	Selector string `yaml:"selector"`
	Label    string `yaml:"label,omitempty"`
}

// WaitSpec is a readiness predicate. Exactly one of Visible, Enabled or
// Selector+Contains is set.
type WaitSpec struct {
	Visible  string        `yaml:"visible,omitempty"`
	Enabled  string        `yaml:"enabled,omitempty"`
	Selector string        `yaml:"selector,omitempty"`
	Contains string        `yaml:"contains,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

var errNoStages = errors.New("layout has no stages")

// LoadLayout reads a layout from a YAML file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout file: %w", err)
	}
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	return &l, nil
}

// Compile validates the layout and builds the stage pipeline.
func (l *Layout) Compile() (*Pipeline, error) {
	if l.StartURL == "" {
		return nil, errors.New("layout: start_url is required")
	}
	if len(l.Stages) == 0 {
		return nil, errNoStages
	}
	navTimeout := l.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}

	p := &Pipeline{
		StartURL:          l.StartURL,
		NavigationTimeout: navTimeout,
		PollInterval:      l.PollInterval,
		Defaults:          l.Defaults,
		Stages:            make([]Stage, 0, len(l.Stages)),
	}

	for i, spec := range l.Stages {
		if spec.Name == "" {
			return nil, fmt.Errorf("layout: stage %d has no name", i)
		}
		st := Stage{Name: spec.Name}
		for _, b := range spec.Bindings {
			if b.Field == "" || b.Selector == "" {
				return nil, fmt.Errorf("layout: stage %s: binding needs field and selector", spec.Name)
			}
			st.Bindings = append(st.Bindings, Binding(b))
		}
		for _, g := range spec.Gates {
			trig, err := g.trigger()
			if err != nil {
				return nil, fmt.Errorf("layout: stage %s gate: %w", spec.Name, err)
			}
			st.Gates = append(st.Gates, trig)
		}
		for _, w := range spec.Ready {
			wait, err := w.wait()
			if err != nil {
				return nil, fmt.Errorf("layout: stage %s ready: %w", spec.Name, err)
			}
			st.Ready = append(st.Ready, wait)
		}
		if spec.Advance != nil {
			trig, err := spec.Advance.trigger()
			if err != nil {
				return nil, fmt.Errorf("layout: stage %s advance: %w", spec.Name, err)
			}
			st.Advance = trig
		}
		if spec.Arrived != nil {
			wait, err := spec.Arrived.wait()
			if err != nil {
				return nil, fmt.Errorf("layout: stage %s arrived: %w", spec.Name, err)
			}
			st.Arrived = wait
		}
		p.Stages = append(p.Stages, st)
	}
	return p, nil
}

func (c ControlSpec) trigger() (Trigger, error) {
	if c.Selector == "" {
		return nil, errors.New("control needs a selector")
	}
	if c.Label != "" {
		return ByLabel(c.Selector, c.Label), nil
	}
	return BySelector(c.Selector), nil
}

func (w WaitSpec) wait() (Wait, error) {
	if w.Timeout <= 0 {
		return Wait{}, errors.New("wait needs a positive timeout")
	}
	var cond Condition
	set := 0
	if w.Visible != "" {
		cond = Visible(w.Visible)
		set++
	}
	if w.Enabled != "" {
		cond = Enabled(w.Enabled)
		set++
	}
	if w.Selector != "" || w.Contains != "" {
		if w.Selector == "" || w.Contains == "" {
			return Wait{}, errors.New("text wait needs selector and contains")
		}
		cond = TextContains(w.Selector, w.Contains)
		set++
	}
	if set != 1 {
		return Wait{}, errors.New("wait needs exactly one of visible, enabled or selector+contains")
	}
	return Wait{Cond: cond, Timeout: w.Timeout}, nil
}

const (
	submitButton = "button.btn-default[type='submit']"
	anyButton    = "button.btn-default"
)

// DefaultLayout describes the four-page adhesion workflow: identity,
// address, optional extras, and payment.
func DefaultLayout() *Layout {
	return &Layout{
		StartURL:          "https://adesao.cartaodetodos.com.br/dados-pessoais/",
		NavigationTimeout: 60 * time.Second,
		PollInterval:      100 * time.Millisecond,
		Defaults: map[string]string{
			"street_number": "S/N",
			"card_number":   "4111111111111111",
			"card_expiry":   "12/29",
			"card_cvv":      "123",
		},
		Stages: []StageSpec{
			{
				Name: "identity",
				Bindings: []BindingSpec{
					{Field: "name", Selector: "#name"},
					{Field: "email", Selector: "#email"},
					{Field: "phone", Selector: "#phone"},
					{Field: "document_id", Selector: "#cpf"},
				},
				Gates: []ControlSpec{
					{Selector: "#termsAndAge"},
					{Selector: "#termsSmsEmail"},
				},
				Ready:   []WaitSpec{{Enabled: submitButton, Timeout: 15 * time.Second}},
				Advance: &ControlSpec{Selector: submitButton},
				Arrived: &WaitSpec{Visible: "#zipCode", Timeout: 15 * time.Second},
			},
			{
				Name: "address",
				Bindings: []BindingSpec{
					{Field: "postal_code", Selector: "#zipCode", Blur: true},
					{Field: "street", Selector: "#street", Blur: true},
					{Field: "city", Selector: "#neighborhood", Blur: true},
					{Field: "street_number", Selector: "#number", Blur: true},
					{Field: "state", Selector: "#complement", Blur: true, Optional: true},
				},
				Ready:   []WaitSpec{{Enabled: submitButton, Timeout: 10 * time.Second}},
				Advance: &ControlSpec{Selector: submitButton},
				Arrived: &WaitSpec{Selector: "h1", Contains: "Adicionais", Timeout: 15 * time.Second},
			},
			{
				Name:    "extras",
				Advance: &ControlSpec{Selector: anyButton, Label: "Próximo passo"},
				Arrived: &WaitSpec{Visible: "input[name='number']", Timeout: 15 * time.Second},
			},
			{
				Name: "payment",
				Bindings: []BindingSpec{
					{Field: "card_number", Selector: "#number", Blur: true},
					{Field: "name", Selector: "#name"},
					{Field: "card_expiry", Selector: "#validate"},
					{Field: "card_cvv", Selector: "#cvv"},
					{Field: "document_id", Selector: "#cpf", Blur: true},
				},
				Ready:   []WaitSpec{{Enabled: anyButton, Timeout: 15 * time.Second}},
				Advance: &ControlSpec{Selector: anyButton},
				Arrived: &WaitSpec{Visible: ".finalConfirmation", Timeout: 60 * time.Second},
			},
		},
	}
}
