// Package flow defines the ordered sequence of stages a registration
// conversation walks through. The sequence is data: deployments that collect
// payment details and those that don't differ only in their field list.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/formrelay/internal/validate"
)

// Stage names the field a conversation is waiting for.
type Stage string

// StageTerminal is entered once every field has been collected.
const StageTerminal Stage = "terminal"

// StageFor returns the stage that waits for the named field.
func StageFor(field string) Stage {
	return Stage("awaiting_" + field)
}

// Field is a single datum collected from the user.
type Field struct {
	Name      string `yaml:"name" json:"name"`
	Validator string `yaml:"validator" json:"validator"`
	// Prompt is sent when the conversation enters this field's stage.
	Prompt string `yaml:"prompt" json:"prompt"`
	// Reject is sent when the value fails validation.
	Reject string `yaml:"reject" json:"reject"`
	// Delay defers validation and the reply; Processing is sent meanwhile.
	Delay      time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	Processing string        `yaml:"processing,omitempty" json:"processing,omitempty"`

	check validate.Func
}

// Stage returns the stage waiting for this field.
func (f Field) Stage() Stage {
	return StageFor(f.Name)
}

// Check runs the field's validator.
func (f Field) Check(raw string) bool {
	if f.check == nil {
		fn, ok := validate.Lookup(f.Validator)
		if !ok {
			return false
		}
		return fn(raw)
	}
	return f.check(raw)
}

// Normalize returns the stored form of an accepted value.
func (f Field) Normalize(raw string) string {
	return validate.Normalize(f.Validator, raw)
}

// Flow is the transition table of a conversation.
type Flow struct {
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
	// Starting is sent right before the form driver runs. Optional.
	Starting string `yaml:"starting,omitempty" json:"starting,omitempty"`
	Success  string `yaml:"success" json:"success"`
	Failure  string `yaml:"failure" json:"failure"`
	// Busy answers messages that arrive while an attempt or a delayed
	// validation is in flight.
	Busy string `yaml:"busy" json:"busy"`

	index map[Stage]int
}

var (
	errNoFields   = errors.New("flow has no fields")
	errNoOutcomes = errors.New("flow needs success, failure and busy messages")
)

// Validate checks the flow definition and binds validators.
func (f *Flow) Validate() error {
	if len(f.Fields) == 0 {
		return errNoFields
	}
	if f.Success == "" || f.Failure == "" || f.Busy == "" {
		return errNoOutcomes
	}

	index := make(map[Stage]int, len(f.Fields))
	for i := range f.Fields {
		field := &f.Fields[i]
		if field.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		if _, dup := index[field.Stage()]; dup {
			return fmt.Errorf("field %q declared twice", field.Name)
		}
		fn, ok := validate.Lookup(field.Validator)
		if !ok {
			return fmt.Errorf("field %q: unknown validator %q", field.Name, field.Validator)
		}
		if field.Prompt == "" || field.Reject == "" {
			return fmt.Errorf("field %q: prompt and reject are required", field.Name)
		}
		if field.Delay < 0 {
			return fmt.Errorf("field %q: delay must not be negative", field.Name)
		}
		field.check = fn
		index[field.Stage()] = i
	}
	f.index = index
	return nil
}

// First returns the stage a new conversation starts in.
func (f *Flow) First() Stage {
	return f.Fields[0].Stage()
}

// FieldFor returns the field collected at stage.
func (f *Flow) FieldFor(stage Stage) (Field, bool) {
	i, ok := f.lookup(stage)
	if !ok {
		return Field{}, false
	}
	return f.Fields[i], true
}

// Next returns the stage after stage, or StageTerminal after the last field.
func (f *Flow) Next(stage Stage) Stage {
	i, ok := f.lookup(stage)
	if !ok || i+1 >= len(f.Fields) {
		return StageTerminal
	}
	return f.Fields[i+1].Stage()
}

// Stages lists every non-terminal stage in order.
func (f *Flow) Stages() []Stage {
	stages := make([]Stage, len(f.Fields))
	for i, field := range f.Fields {
		stages[i] = field.Stage()
	}
	return stages
}

// FieldNames lists the collected field names in order.
func (f *Flow) FieldNames() []string {
	names := make([]string, len(f.Fields))
	for i, field := range f.Fields {
		names[i] = field.Name
	}
	return names
}

func (f *Flow) lookup(stage Stage) (int, bool) {
	if f.index != nil {
		i, ok := f.index[stage]
		return i, ok
	}
	for i, field := range f.Fields {
		if field.Stage() == stage {
			return i, true
		}
	}
	return 0, false
}
