package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors. Handlers classify with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrUpstreamGateway    = errors.New("upstream gateway error")
	ErrChargeNotFound     = errors.New("gateway has no charge for reference")
	ErrInconsistent       = errors.New("inconsistent state")
)

// NonFieldKey holds validation messages that are not tied to one input field
const NonFieldKey = "non_field_errors"

// ValidationError is bad or inconsistent input, reported per field
type ValidationError struct {
	Fields  map[string]string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// NewFieldError builds a ValidationError for a single field
func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// NewValidationError builds a ValidationError without field detail
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// CapacityExceededError reports a reservation larger than the seats left on a slot
type CapacityExceededError struct {
	Remaining int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("Not enough capacity for this time slot. %d seats remaining.", e.Remaining)
}
