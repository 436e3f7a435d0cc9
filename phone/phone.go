// Package phone turns the phone numbers people type (or import from an
// address book) into E.164 strings, so numbers can be stored and compared.
package phone

import (
	"errors"
	"strings"
)

const (
	minNationalDigits      = 10
	minInternationalDigits = 8
	maxDigits              = 15
)

var (
	ErrEmpty              = errors.New("phone number is empty")
	ErrInvalidCharacters  = errors.New("phone number contains invalid characters")
	ErrTooShort           = errors.New("phone number has too few digits")
	ErrTooLong            = errors.New("phone number has too many digits")
	ErrInvalidCountryCode = errors.New("country code must be 1-3 digits")
	ErrUnknownFormat      = errors.New("phone number is neither national nor international")
)

// Canonicalize returns raw in E.164 form ("+" followed by digits).
//
// Numbers without an international prefix ("+" or "00") are treated as national
// numbers of defaultCountryCode:
//   - 10 digits get the country code prepended
//   - 11 digits with a leading trunk "0" drop the "0" and get the country code
//   - 11-15 digits already starting with the country code are kept as is
func Canonicalize(raw, defaultCountryCode string) (string, error) {
	number := strings.TrimSpace(raw)
	if number == "" {
		return "", ErrEmpty
	}

	international := false
	if strings.HasPrefix(number, "+") {
		international = true
		number = number[1:]
	}

	digits, err := stripSeparators(number)
	if err != nil {
		return "", err
	}

	if !international && strings.HasPrefix(digits, "00") {
		international = true
		digits = digits[2:]
	}

	if international {
		switch {
		case len(digits) < minInternationalDigits:
			return "", ErrTooShort
		case len(digits) > maxDigits:
			return "", ErrTooLong
		}
		return "+" + digits, nil
	}

	countryCode, err := normalizeCountryCode(defaultCountryCode)
	if err != nil {
		return "", err
	}

	switch {
	case len(digits) < minNationalDigits:
		return "", ErrTooShort
	case len(digits) > maxDigits:
		return "", ErrTooLong
	case len(digits) == minNationalDigits:
		return withCountryCode(countryCode, digits)
	case len(digits) == minNationalDigits+1 && digits[0] == '0':
		return withCountryCode(countryCode, digits[1:])
	case strings.HasPrefix(digits, countryCode):
		return "+" + digits, nil
	}

	return "", ErrUnknownFormat
}

// Equal reports whether a and b are the same number once canonicalized.
// Numbers that fail to canonicalize are never equal.
func Equal(a, b, defaultCountryCode string) bool {
	ca, err := Canonicalize(a, defaultCountryCode)
	if err != nil {
		return false
	}

	cb, err := Canonicalize(b, defaultCountryCode)
	if err != nil {
		return false
	}

	return ca == cb
}

// Digits returns only the digits in raw
func Digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Mask hides all but the last 4 digits, for logs. A number with a leading +
// also keeps its first digit, so longer country codes are partly hidden.
func Mask(number string) string {
	digits := Digits(number)
	if len(digits) <= 4 {
		return number
	}

	visiblePrefix := 0
	if strings.HasPrefix(number, "+") {
		visiblePrefix = 1
	}

	masked := digits[:visiblePrefix] + strings.Repeat("*", len(digits)-visiblePrefix-4) + digits[len(digits)-4:]
	if strings.HasPrefix(number, "+") {
		return "+" + masked
	}
	return masked
}

func stripSeparators(number string) (string, error) {
	var b strings.Builder
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
			continue
		default:
			return "", ErrInvalidCharacters
		}
	}

	if b.Len() == 0 {
		return "", ErrEmpty
	}

	return b.String(), nil
}

func normalizeCountryCode(countryCode string) (string, error) {
	code := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if len(code) == 0 || len(code) > 3 || Digits(code) != code {
		return "", ErrInvalidCountryCode
	}
	return code, nil
}

func withCountryCode(countryCode, national string) (string, error) {
	if len(countryCode)+len(national) > maxDigits {
		return "", ErrTooLong
	}
	return "+" + countryCode + national, nil
}
