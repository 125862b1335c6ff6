package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/hq/internal/filter"
	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/rawquery"
	"github.com/roach88/hq/internal/schema"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query rejected or execution failed
	ExitCommandError = 2 // Command error (bad flags, missing files, unreadable config)
)

// Error codes reported in CLI responses.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E002" // Config or schema could not be loaded
	ErrCodeDefinition = "E003" // Query definition file is invalid
	ErrCodeQuery      = "E004" // Query construction failed
	ErrCodeValidation = "E005" // Filter value does not fit the column type
	ErrCodeParameter  = "E006" // Raw query parameter missing or unused
	ErrCodeDatabase   = "E007" // Database error
	ErrCodeCache      = "E008" // Cache store error
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	reported bool // already written by an OutputFormatter
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// IsReported reports whether err was already written to the command
// output by OutputFormatter.Fail.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.reported
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. Text
// output prints text, or data when text is empty.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if text == "" {
		text = fmt.Sprint(data)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns an ExitError carrying exitCode. The
// response code is derived from the error type.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	return f.FailAs(exitCode, ErrCodeGeneric, message, err)
}

// FailAs is Fail with the response code to use when the error type does
// not determine one.
func (f *OutputFormatter) FailAs(exitCode int, code, message string, err error) error {
	if c := errorCode(err); c != ErrCodeGeneric {
		code = c
	}
	if outErr := f.Error(code, message+": "+err.Error(), errorDetails(err)); outErr != nil {
		return outErr
	}
	exitErr := WrapExitError(exitCode, message, err)
	exitErr.reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func errorCode(err error) string {
	var (
		loadErr  *schema.LoadError
		substErr *rawquery.SubstitutionError
		defErr   *DefinitionError
	)
	switch {
	case errors.As(err, &defErr):
		return ErrCodeDefinition
	case errors.As(err, &loadErr):
		return ErrCodeConfig
	case filter.IsValidationError(err):
		return ErrCodeValidation
	case queryir.IsConstructionError(err):
		return ErrCodeQuery
	case errors.As(err, &substErr):
		return ErrCodeParameter
	}
	return ErrCodeGeneric
}

func errorDetails(err error) any {
	var ce *queryir.ConstructionError
	if errors.As(err, &ce) {
		return map[string]string{"code": string(ce.Code), "table": ce.Table, "column": ce.Column}
	}
	var se *rawquery.SubstitutionError
	if errors.As(err, &se) {
		return map[string]any{"code": string(se.Code), "names": se.Names}
	}
	return nil
}
