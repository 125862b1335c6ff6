package rawquery

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a SubstitutionError.
type ErrorCode string

const (
	ErrCodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	ErrCodeUnusedParameter  ErrorCode = "UNUSED_PARAMETER"
)

// SubstitutionError reports placeholders without values or values without
// placeholders. It is raised before any SQL is produced.
type SubstitutionError struct {
	Code ErrorCode
	// Names are the offending parameters: placeholders as ":name" for
	// missing values, map keys for unused values.
	Names []string
}

func (e *SubstitutionError) Error() string {
	switch e.Code {
	case ErrCodeMissingParameter:
		return fmt.Sprintf("[%s] missing parameter(s): %s", e.Code, strings.Join(e.Names, ", "))
	case ErrCodeUnusedParameter:
		return fmt.Sprintf("[%s] unused parameter(s): %s", e.Code, strings.Join(e.Names, ", "))
	default:
		return fmt.Sprintf("[%s] %s", e.Code, strings.Join(e.Names, ", "))
	}
}

// IsSubstitutionError reports whether err is or wraps a *SubstitutionError.
func IsSubstitutionError(err error) bool {
	var se *SubstitutionError
	return errors.As(err, &se)
}

// HasCode reports whether err is a SubstitutionError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *SubstitutionError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
