package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone_ValidNumbers(t *testing.T) {
	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"0771234567", "0771234567", "Standard format"},
		{"077 123 4567", "0771234567", "With spaces"},
		{"077-123-4567", "0771234567", "With dashes"},
		{"077.123.4567", "0771234567", "With dots"},
		{"(077) 123 4567", "0771234567", "With parentheses"},
		{"0701234567", "0701234567", "Mobitel 070"},
		{"0721234567", "0721234567", "Hutch 072"},
		{"0741234567", "0741234567", "Dialog 074"},
		{"0751234567", "0751234567", "Airtel 075"},
		{"94771234567", "0771234567", "With country code"},
		{"+94 77 123 4567", "0771234567", "With plus and country code"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := NormalizePhone(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestNormalizePhone_InvalidNumbers(t *testing.T) {
	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Blank string"},
		{"123", ErrInvalidLength, "Too short"},
		{"07712345678", ErrInvalidLength, "Too long"},
		{"0731234567", ErrInvalidPrefix, "Invalid prefix 073"},
		{"0791234567", ErrInvalidPrefix, "Invalid prefix 079"},
		{"077123456a", ErrInvalidFormat, "Contains letters"},
		{"077 123 456!", ErrInvalidFormat, "Contains special characters"},
		{"1234567890", ErrInvalidPrefix, "Valid length but invalid prefix"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizePhone(tc.input)
			assert.Equal(t, tc.expectedErr, err)
		})
	}
}

func TestFormatPhone(t *testing.T) {
	formatted, err := FormatPhone("94771234567")
	require.NoError(t, err)
	assert.Equal(t, "077 123 4567", formatted)

	_, err = FormatPhone("123")
	assert.Error(t, err)
}

func TestOperator(t *testing.T) {
	tests := map[string]string{
		"0701234567": "Mobitel",
		"0721234567": "Hutch",
		"0751234567": "Airtel",
		"0771234567": "Dialog",
	}
	for phone, want := range tests {
		got, err := Operator(phone)
		require.NoError(t, err)
		assert.Equal(t, want, got, phone)
	}
}

func TestIsPhone(t *testing.T) {
	assert.True(t, IsPhone("0771234567"))
	assert.False(t, IsPhone("not a phone"))
}
