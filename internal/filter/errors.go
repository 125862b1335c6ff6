package filter

import (
	"errors"
	"fmt"
)

// ValidationError reports a filter value that does not fit the column's
// declared type. It is raised when the condition is added, never deferred
// to execution.
type ValidationError struct {
	Column string
	Type   string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("invalid value %#v for %s: %s", e.Value, e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid value %#v for column %s (%s): %s", e.Value, e.Column, e.Type, e.Reason)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
