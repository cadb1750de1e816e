package validation

import (
	"fmt"

	qerrors "github.com/vnykmshr/crawlqos/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return qerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that a numeric value is non-negative (>= 0).
// Returns a ValidationError if the value is negative.
func ValidateNonNegative(module, field string, value float64) error {
	if value < 0 {
		return qerrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidatePositiveFloat validates that a float64 value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositiveFloat(module, field string, value float64) error {
	if value <= 0 {
		return qerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateAtLeast validates that value >= min.
func ValidateAtLeast(module, field string, value, min float64) error {
	if value < min {
		return qerrors.NewValidationError(module, field, value, fmt.Sprintf("must be at least %g", min)).
			WithHint(fmt.Sprintf("use a value of %g or more", min))
	}
	return nil
}

// ValidateFraction validates that value lies in the half-open range (0, 1].
// Smoothing factors and similar weights use this.
func ValidateFraction(module, field string, value float64) error {
	if value <= 0 || value > 1 {
		return qerrors.NewValidationError(module, field, value, "must be in (0, 1]").
			WithHint("use a weight such as 0.8")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
// Returns a ValidationError if the value is nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return qerrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return qerrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
