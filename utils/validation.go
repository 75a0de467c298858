package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with one message per field.
// Fields are keyed by namespace, e.g. "Config.OIDC.IssuerURL".
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error lists every failing field so a startup log line is self-explanatory
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, msg := range e.Fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(msgs, "; "))
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Namespace()

		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "url":
			fields[field] = fmt.Sprintf("%s must be a valid URL", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must have at least %s item(s)", field, err.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "lte":
			fields[field] = fmt.Sprintf("%s must be less than or equal to %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}
