package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates the contact number is empty
	ErrEmptyPhone = errors.New("contact number cannot be empty")

	// ErrInvalidFormat indicates the contact number contains invalid characters
	ErrInvalidFormat = errors.New("contact number can only contain digits and an optional leading +")

	// ErrInvalidLength indicates the contact number is not 7 to 15 digits (E.164)
	ErrInvalidLength = errors.New("contact number must have between 7 and 15 digits")

	// ErrEmptyEmail indicates the email is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates the email is not a bare address
	ErrInvalidEmail = errors.New("enter a valid email address")
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var digitsRegex = regexp.MustCompile(`^\d+$`)

// ContactValidator validates and normalises booking contact details
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidatePhone validates an international contact number.
// Accepts +234 803 123 4567, (0803) 123-4567, 0803.123.4567 and similar.
// Returns the number with separators removed, keeping a leading + when given.
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	digits := strings.TrimPrefix(sanitized, "+")
	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidLength
	}
	return sanitized, nil
}

// Sanitize removes common separators; a leading + is preserved
func (v *ContactValidator) Sanitize(phone string) string {
	phone = strings.TrimSpace(phone)
	plus := strings.HasPrefix(phone, "+")
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(strings.TrimPrefix(phone, "+"))
	if plus {
		return "+" + phone
	}
	return phone
}

// ValidateEmail checks that email is a single bare address and lowercases its domain
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:]), nil
}

// IsValidPhone is a convenience method that returns true if phone is valid
func (v *ContactValidator) IsValidPhone(phone string) bool {
	_, err := v.ValidatePhone(phone)
	return err == nil
}
