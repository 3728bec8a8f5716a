// Package validate provides the field validators used by the registration flow.
//
// Every validator is a pure predicate over the raw message text. Malformed
// input never panics; it simply fails validation.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// Func reports whether raw text is acceptable for a field.
type Func func(raw string) bool

// Validator kinds understood by Lookup.
const (
	KindName       = "name"
	KindEmail      = "email"
	KindPhone      = "phone"
	KindDocumentID = "document_id"
	KindCardExpiry = "card_expiry"
	KindNonEmpty   = "non_empty"
	KindDigits     = "digits"
	KindCardNumber = "card_number"
	KindCVV        = "cvv"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern  = regexp.MustCompile(`^\d{2}9\d{8}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
	cardPattern   = regexp.MustCompile(`^\d{16}$`)
	cvvPattern    = regexp.MustCompile(`^\d{3}$`)
)

var registry = map[string]Func{
	KindName:       Name,
	KindEmail:      Email,
	KindPhone:      Phone,
	KindDocumentID: DocumentID,
	KindCardExpiry: CardExpiry,
	KindNonEmpty:   NonEmpty,
	KindDigits:     Digits,
	KindCardNumber: CardNumber,
	KindCVV:        CVV,
}

// Lookup returns the validator registered under kind.
func Lookup(kind string) (Func, bool) {
	fn, ok := registry[kind]
	return fn, ok
}

// Kinds returns every registered validator kind.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	return kinds
}

// Normalize returns the form in which an accepted value is stored.
func Normalize(kind, raw string) string {
	if kind == KindCardNumber {
		return stripSpace(raw)
	}
	return strings.TrimSpace(raw)
}

// Name accepts a full name: at least two whitespace-separated words.
func Name(raw string) bool {
	return len(strings.Fields(raw)) >= 2
}

// Email is a syntactic screen for local@domain.tld.
func Email(raw string) bool {
	return emailPattern.MatchString(raw)
}

// Phone accepts 11 digits: area code, the mobile prefix 9, then 8 digits.
func Phone(raw string) bool {
	return phonePattern.MatchString(raw)
}

// CardExpiry accepts MM/YY with a month between 01 and 12.
func CardExpiry(raw string) bool {
	return expiryPattern.MatchString(raw)
}

// NonEmpty accepts any text with at least one non-space character.
func NonEmpty(raw string) bool {
	return strings.TrimSpace(raw) != ""
}

// Digits accepts a non-empty run of ASCII digits.
func Digits(raw string) bool {
	return digitsPattern.MatchString(raw)
}

// CardNumber accepts exactly 16 digits once whitespace is removed.
func CardNumber(raw string) bool {
	return cardPattern.MatchString(stripSpace(raw))
}

// CVV accepts exactly 3 digits.
func CVV(raw string) bool {
	return cvvPattern.MatchString(raw)
}

// DocumentID validates a CPF: 11 digits after stripping punctuation, not a
// repeated digit, and both check digits correct.
func DocumentID(raw string) bool {
	digits := onlyDigits(raw)
	if len(digits) != 11 || allSame(digits) {
		return false
	}
	d10, d11 := CPFCheckDigits(digits[:9])
	return digits[9] == d10 && digits[10] == d11
}

// CPFCheckDigits computes both check digits for the first nine digits of a
// CPF. It returns zero values if first9 is not nine ASCII digits.
func CPFCheckDigits(first9 string) (byte, byte) {
	if len(first9) != 9 || !digitsPattern.MatchString(first9) {
		return 0, 0
	}
	d10 := checkDigit(first9, 10)
	d11 := checkDigit(first9+string(d10), 11)
	return d10, d11
}

// checkDigit weights digits from startWeight down to 2, then maps
// sum*10 mod 11 into a single digit (10 and 11 become 0).
func checkDigit(digits string, startWeight int) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (startWeight - i)
	}
	rem := (sum * 10) % 11
	if rem == 10 || rem == 11 {
		rem = 0
	}
	return byte('0' + rem)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
