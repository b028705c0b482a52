package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with valid Sri Lankan prefix
	ErrInvalidPrefix = errors.New("phone number must start with 070, 071, 072, 074, 075, 076, 077 or 078")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// mobilePrefixes maps Sri Lankan mobile prefixes to their operator
var mobilePrefixes = map[string]string{
	"070": "Mobitel",
	"071": "Mobitel",
	"072": "Hutch",
	"074": "Dialog",
	"075": "Airtel",
	"076": "Dialog",
	"077": "Dialog",
	"078": "Hutch",
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

var separators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")

// NormalizePhone validates a Sri Lankan mobile number and returns it as ten
// digits. Accepts 0771234567, 077 123 4567, 077-123-4567 and +94771234567.
func NormalizePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := separators.Replace(phone)
	if strings.HasPrefix(sanitized, "94") && len(sanitized) == 11 {
		sanitized = "0" + sanitized[2:]
	}

	if !digitsOnly.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}
	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}
	if _, ok := mobilePrefixes[sanitized[:3]]; !ok {
		return "", ErrInvalidPrefix
	}
	return sanitized, nil
}

// IsPhone reports whether phone is a valid Sri Lankan mobile number
func IsPhone(phone string) bool {
	_, err := NormalizePhone(phone)
	return err == nil
}

// FormatPhone renders a phone number for tickets: 07X XXX XXXX
func FormatPhone(phone string) (string, error) {
	n, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", n[0:3], n[3:6], n[6:10]), nil
}

// Operator returns the mobile operator for a phone number
func Operator(phone string) (string, error) {
	n, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	return mobilePrefixes[n[:3]], nil
}
