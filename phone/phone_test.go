package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		description string
		raw         string
		countryCode string
		expected    string
		expectedErr error
	}{
		{"Should prefix a 10 digit national number with the country code", "(555) 123-4567", "1", "+15551234567", nil},
		{"Should accept a country code written with a plus", "555.123.4567", "+1", "+15551234567", nil},
		{"Should keep an international number as is", "+44 7911 123456", "1", "+447911123456", nil},
		{"Should treat a 00 prefix as international", "0044 7911 123456", "1", "+447911123456", nil},
		{"Should drop the trunk 0 of an 11 digit national number", "07911 123456", "44", "+447911123456", nil},
		{"Should keep an 11 digit number that already has the country code", "1-555-123-4567", "1", "+15551234567", nil},
		{"Should reject an empty number", "   ", "1", "", ErrEmpty},
		{"Should reject a number with only separators", "()--", "1", "", ErrEmpty},
		{"Should reject a number with fewer than 10 digits", "555-1234", "1", "", ErrTooShort},
		{"Should reject a short international number", "+4412", "1", "", ErrTooShort},
		{"Should reject more than 15 digits", "+1234567890123456", "1", "", ErrTooLong},
		{"Should reject letters", "555-CALL-NOW", "1", "", ErrInvalidCharacters},
		{"Should reject a plus in the middle", "555+1234567", "1", "", ErrInvalidCharacters},
		{"Should reject a bad default country code", "5551234567", "abc", "", ErrInvalidCountryCode},
		{"Should reject an 11 digit number in an unknown format", "25551234567", "1", "", ErrUnknownFormat},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			actual, err := Canonicalize(c.raw, c.countryCode)
			assert.ErrorIs(t, err, c.expectedErr)
			assert.Equal(t, c.expected, actual)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("(555) 123-4567", "+1 555 123 4567", "1"))
	assert.False(t, Equal("(555) 123-4567", "+1 555 123 4568", "1"))
	assert.False(t, Equal("bad", "bad", "1"), "Invalid numbers should never be equal")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+1******4567", Mask("+15551234567"))
	assert.Equal(t, "******4567", Mask("5551234567"))
	assert.Equal(t, "+4*******3456", Mask("+447911123456"))
	assert.Equal(t, "123", Mask("123"))
}
