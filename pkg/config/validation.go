package config

import (
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate combines the results of field checks into one error.
// Nil checks are skipped; returns nil when every check passed.
func Validate(checks ...*ValidationError) error {
	var result *multierror.Error
	for _, check := range checks {
		if check != nil {
			result = multierror.Append(result, check)
		}
	}
	return result.ErrorOrNil()
}

// RequireNonEmpty validates that a string field is not empty
func RequireNonEmpty(field, value string) *ValidationError {
	if value == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// RequirePositive validates that an integer field is positive
func RequirePositive(field string, value int) *ValidationError {
	if value <= 0 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be positive, got %d", value),
		}
	}
	return nil
}

// RequireValidURL validates that a string is an absolute URL
func RequireValidURL(field, value string) *ValidationError {
	if value == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}

	parsedURL, err := url.Parse(value)
	if err != nil {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid URL: %v", err),
		}
	}

	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return &ValidationError{
			Field:   field,
			Message: "URL must be absolute (scheme://host)",
		}
	}

	return nil
}

// OptionalValidURL validates value only when it is set
func OptionalValidURL(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	return RequireValidURL(field, value)
}

// RequireOneOf validates that a value is one of the allowed values
func RequireOneOf(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of %v, got %q", allowed, value),
	}
}
