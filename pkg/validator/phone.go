package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrInvalidPrefix indicates phone number doesn't start with an Indonesian prefix
	ErrInvalidPrefix = errors.New("phone number must start with +62, 62 or 0")

	// ErrInvalidLength indicates the subscriber part is not 9 to 12 digits
	ErrInvalidLength = errors.New("phone number must have 9 to 12 digits after the prefix")
)

// indonesianPhoneRegex is the accepted phone shape after sanitizing
var indonesianPhoneRegex = regexp.MustCompile(`^(\+62|62|0)[0-9]{9,12}$`)

// phoneCharsRegex matches digits with an optional leading plus
var phoneCharsRegex = regexp.MustCompile(`^\+?\d+$`)

// phonePrefixes in match order; +62 before 62 so the plus is consumed
var phonePrefixes = []string{"+62", "62", "0"}

// PhoneValidator handles Indonesian phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates an Indonesian phone number
// Accepts format: 081234567890, +6281234567890, 6281234567890, 0812-3456-7890
// Returns sanitized phone number and error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneCharsRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	prefix, ok := v.prefixOf(sanitized)
	if !ok {
		return "", ErrInvalidPrefix
	}

	subscriber := len(sanitized) - len(prefix)
	if subscriber < 9 || subscriber > 12 {
		return "", ErrInvalidLength
	}

	// Both checks above together are exactly the accepted regex
	if !indonesianPhoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	return sanitized, nil
}

// Sanitize removes common separators, keeping digits and a leading plus
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

func (v *PhoneValidator) prefixOf(phone string) (string, bool) {
	for _, prefix := range phonePrefixes {
		if strings.HasPrefix(phone, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Normalize returns the number in +62 form
func (v *PhoneValidator) Normalize(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}

	prefix, _ := v.prefixOf(sanitized)
	return "+62" + sanitized[len(prefix):], nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
