package queryir

import (
	"errors"
	"fmt"
)

// ConstructionError reports a query that cannot be built as requested.
//
// Construction errors are raised synchronously by the call that caused
// them and are never silently corrected:
//   - Unknown table or column
//   - Malformed between pair or empty IN list
//   - Unknown operator, join type or negative limit
//   - Unknown, duplicate or empty join relationship
type ConstructionError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table and Column locate the failure when applicable.
	Table  string
	Column string
}

// ErrorCode categorizes construction errors.
type ErrorCode string

const (
	ErrCodeUnknownTable          ErrorCode = "UNKNOWN_TABLE"
	ErrCodeUnknownColumn         ErrorCode = "UNKNOWN_COLUMN"
	ErrCodeInvalidBetween        ErrorCode = "INVALID_BETWEEN"
	ErrCodeEmptyInList           ErrorCode = "EMPTY_IN_LIST"
	ErrCodeInvalidOperator       ErrorCode = "INVALID_OPERATOR"
	ErrCodeInvalidJoin           ErrorCode = "INVALID_JOIN"
	ErrCodeInvalidLimit          ErrorCode = "INVALID_LIMIT"
	ErrCodeRelationshipNotFound  ErrorCode = "RELATIONSHIP_NOT_FOUND"
	ErrCodeDuplicateRelationship ErrorCode = "DUPLICATE_RELATIONSHIP"
	ErrCodeEmptyChain            ErrorCode = "EMPTY_CHAIN"
	ErrCodeUnbalancedGroup       ErrorCode = "UNBALANCED_GROUP"
	ErrCodePlaceholderMismatch   ErrorCode = "PLACEHOLDER_MISMATCH"
)

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	switch {
	case e.Table != "" && e.Column != "":
		return fmt.Sprintf("%s: %s (table=%s, column=%s)", e.Code, e.Message, e.Table, e.Column)
	case e.Column != "":
		return fmt.Sprintf("%s: %s (column=%s)", e.Code, e.Message, e.Column)
	case e.Table != "":
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConstructionError creates a ConstructionError with a formatted message.
func NewConstructionError(code ErrorCode, format string, args ...any) *ConstructionError {
	return &ConstructionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsConstructionError reports whether err is or wraps a ConstructionError.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}

// HasCode reports whether err is or wraps a ConstructionError with code.
func HasCode(err error, code ErrorCode) bool {
	var ce *ConstructionError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
