package validate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	assert.True(t, Name("Maria Silva"))
	assert.True(t, Name("  Maria   da Silva "))
	assert.False(t, Name("Maria"))
	assert.False(t, Name("   "))
	assert.False(t, Name(""))
}

func TestEmail(t *testing.T) {
	assert.True(t, Email("maria@example.com"))
	assert.False(t, Email("maria@"))
	assert.False(t, Email("maria@example"))
	assert.False(t, Email("ma ria@example.com"))
	assert.False(t, Email(""))
}

func TestPhone(t *testing.T) {
	assert.True(t, Phone("11987654321"))
	assert.False(t, Phone("11887654321"), "missing mobile prefix")
	assert.False(t, Phone("1198765432"), "10 digits")
	assert.False(t, Phone("119876543210"), "12 digits")
	assert.False(t, Phone("(11)987654321"))
}

func TestCardExpiry(t *testing.T) {
	assert.True(t, CardExpiry("12/29"))
	assert.True(t, CardExpiry("01/30"))
	assert.False(t, CardExpiry("13/29"))
	assert.False(t, CardExpiry("1/29"))
	assert.False(t, CardExpiry("00/29"))
	assert.False(t, CardExpiry("12-29"))
}

func TestFreeTextFields(t *testing.T) {
	assert.True(t, NonEmpty("Rua A"))
	assert.False(t, NonEmpty("  "))

	assert.True(t, Digits("123"))
	assert.False(t, Digits("12a"))
	assert.False(t, Digits(""))

	assert.True(t, CardNumber("4111 1111 1111 1111"))
	assert.True(t, CardNumber("4111111111111111"))
	assert.False(t, CardNumber("411111111111111"))
	assert.False(t, CardNumber("4111-1111-1111-1111"))

	assert.True(t, CVV("123"))
	assert.False(t, CVV("12"))
	assert.False(t, CVV("1234"))
}

func TestDocumentIDKnownValues(t *testing.T) {
	assert.True(t, DocumentID("52998224725"))
	assert.True(t, DocumentID("529.982.247-25"), "punctuation is stripped")
	assert.False(t, DocumentID("52998224724"))
	assert.False(t, DocumentID("11111111111"))
	assert.False(t, DocumentID("5299822472"))
	assert.False(t, DocumentID("not a number"))
}

func TestDocumentIDRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		first9 := make([]byte, 9)
		for j := range first9 {
			first9[j] = byte('0' + rng.Intn(10))
		}
		d10, d11 := CPFCheckDigits(string(first9))
		cpf := string(first9) + string(d10) + string(d11)
		if allSame(cpf) {
			continue
		}

		require.True(t, DocumentID(cpf), "cpf %s should pass", cpf)

		flipped10 := string(first9) + string(flip(d10)) + string(d11)
		assert.False(t, DocumentID(flipped10), "first check digit flipped: %s", flipped10)

		flipped11 := string(first9) + string(d10) + string(flip(d11))
		assert.False(t, DocumentID(flipped11), "second check digit flipped: %s", flipped11)
	}
}

func TestDocumentIDRepeatedDigitsAlwaysFail(t *testing.T) {
	for d := byte('0'); d <= '9'; d++ {
		cpf := make([]byte, 11)
		for i := range cpf {
			cpf[i] = d
		}
		assert.False(t, DocumentID(string(cpf)), "repeated %c", d)
	}
}

func TestLookupAndNormalize(t *testing.T) {
	for _, kind := range Kinds() {
		fn, ok := Lookup(kind)
		require.True(t, ok, kind)
		require.NotNil(t, fn, kind)
	}
	_, ok := Lookup("zip")
	assert.False(t, ok)

	assert.Equal(t, "4111111111111111", Normalize(KindCardNumber, " 4111 1111 1111 1111 "))
	assert.Equal(t, "Maria Silva", Normalize(KindName, "  Maria Silva\n"))
}

func flip(d byte) byte {
	return '0' + (d-'0'+1)%10
}
