package flow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationSequence(t *testing.T) {
	f := Registration()

	want := []Stage{
		"awaiting_name", "awaiting_email", "awaiting_phone", "awaiting_document_id",
		"awaiting_street", "awaiting_city", "awaiting_state", "awaiting_postal_code",
	}
	assert.Equal(t, want, f.Stages())
	assert.Equal(t, Stage("awaiting_name"), f.First())

	stage := f.First()
	for i := 1; i < len(want); i++ {
		stage = f.Next(stage)
		assert.Equal(t, want[i], stage)
	}
	assert.Equal(t, StageTerminal, f.Next(stage))
}

func TestPaymentSequenceExtendsRegistration(t *testing.T) {
	reg := Registration().Stages()
	pay := Payment().Stages()

	require.Len(t, pay, len(reg)+4)
	assert.Equal(t, reg, pay[:len(reg)])
	assert.Equal(t, []Stage{
		"awaiting_street_number", "awaiting_card_number", "awaiting_card_expiry", "awaiting_card_cvv",
	}, pay[len(reg):])
}

func TestDocumentFieldIsDelayed(t *testing.T) {
	field, ok := Registration().FieldFor(StageFor(FieldDocumentID))
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, field.Delay)
	assert.NotEmpty(t, field.Processing)

	other, ok := Registration().FieldFor(StageFor(FieldEmail))
	require.True(t, ok)
	assert.Zero(t, other.Delay)
}

func TestRejectMessagesAreDistinct(t *testing.T) {
	f := Payment()
	seen := make(map[string]string)
	for _, field := range f.Fields {
		if prev, dup := seen[field.Reject]; dup {
			t.Errorf("fields %s and %s share rejection %q", prev, field.Name, field.Reject)
		}
		seen[field.Reject] = field.Name
		assert.NotEqual(t, field.Prompt, field.Reject, field.Name)
	}
}

func TestUnknownStage(t *testing.T) {
	f := Registration()
	_, ok := f.FieldFor("awaiting_nothing")
	assert.False(t, ok)
	assert.Equal(t, StageTerminal, f.Next("awaiting_nothing"))
}

func TestPreset(t *testing.T) {
	f, err := Preset("payment")
	require.NoError(t, err)
	assert.Equal(t, PresetPayment, f.Name)

	f, err = Preset("")
	require.NoError(t, err)
	assert.Equal(t, PresetRegistration, f.Name)

	_, err = Preset("nope")
	assert.Error(t, err)
}

const shortFlow = `
name: short
success: ok
failure: fail
busy: wait
fields:
  - name: name
    validator: name
    prompt: "your name?"
    reject: "two words please"
  - name: document_id
    validator: document_id
    prompt: "cpf?"
    reject: "bad cpf"
    delay: 1500ms
    processing: "checking"
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shortFlow), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "short", f.Name)
	assert.Equal(t, []string{"name", "document_id"}, f.FieldNames())

	field, ok := f.FieldFor("awaiting_document_id")
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, field.Delay)
	assert.True(t, field.Check("529.982.247-25"))
	assert.False(t, field.Check("11111111111"))
}

func TestParseRejectsInvalidFlows(t *testing.T) {
	cases := map[string]string{
		"no fields": "name: x\nsuccess: a\nfailure: b\nbusy: c\n",
		"unknown validator": `
name: x
success: a
failure: b
busy: c
fields:
  - {name: zip, validator: zip, prompt: p, reject: r}
`,
		"duplicate": `
name: x
success: a
failure: b
busy: c
fields:
  - {name: email, validator: email, prompt: p, reject: r}
  - {name: email, validator: email, prompt: p, reject: r}
`,
		"missing reject": `
name: x
success: a
failure: b
busy: c
fields:
  - {name: email, validator: email, prompt: p}
`,
		"missing outcomes": `
name: x
fields:
  - {name: email, validator: email, prompt: p, reject: r}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
