// Package models defines the request and response shapes of the HTTP API and
// the validation rules applied to them before any other component runs.
package models

import "fmt"

// ValidationError reports malformed or out-of-bounds input. It never reaches the classifier.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid returns a *ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
