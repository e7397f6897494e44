package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/polyql/internal/queryir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query or scenario failure (parse error, failed scenarios, etc.)
	ExitCommandError = 2 // Command error (bad flags, unknown dialect, unreadable files, etc.)
)

// Error codes reported in CLI responses.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeUsage          = "E002" // Missing or invalid input
	ErrCodeUnknownDialect = "E003" // Dialect name not recognised
	ErrCodeParse          = "E004" // Query failed to parse
	ErrCodeTranslate      = "E005" // Translation failed
	ErrCodeUnsupported    = "E006" // Target cannot express the query
	ErrCodeConfig         = "E007" // Config file invalid
	ErrCodeRules          = "E008" // Detector rules invalid
	ErrCodeHistory        = "E009" // History store error
	ErrCodeScenario       = "E010" // Scenario load error
	ErrCodeNotFound       = "E011" // Record or path not found
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var cliJSON = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool

	// NewTraceID generates the trace_id of JSON responses. Defaults to
	// random UUIDs.
	NewTraceID func() string
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string    `json:"status"`             // "ok" or "error"
	Data    any       `json:"data,omitempty"`     // success payload
	Error   *CLIError `json:"error,omitempty"`    // error details
	TraceID string    `json:"trace_id,omitempty"` // trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

func (f *OutputFormatter) traceID() string {
	if f.NewTraceID != nil {
		return f.NewTraceID()
	}
	return uuid.NewString()
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	resp.TraceID = f.traceID()
	enc := cliJSON.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success outputs a successful result in the configured format. In text
// mode text renders data; a nil text prints data with fmt.
func (f *OutputFormatter) Success(data any, text func(io.Writer)) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != nil {
		text(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
// Query errors are classified by type; anything else is reported under
// fallbackCode.
func (f *OutputFormatter) Fail(fallbackCode string, err error) error {
	code, exit, details := classify(err)
	if code == "" {
		code, exit = fallbackCode, ExitCommandError
	}
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}

// classify maps query errors to an error code, exit code and details.
func classify(err error) (string, int, map[string]any) {
	var ue *queryir.UnknownDialectError
	if errors.As(err, &ue) {
		details := map[string]any{"name": ue.Name}
		if ue.Suggestion != "" {
			details["suggestion"] = string(ue.Suggestion)
		}
		return ErrCodeUnknownDialect, ExitCommandError, details
	}
	var pe *queryir.ParseError
	if errors.As(err, &pe) {
		details := map[string]any{"dialect": string(pe.Dialect)}
		if pe.Line > 0 {
			details["line"] = pe.Line
			details["column"] = pe.Column
		}
		if pe.Position != nil {
			details["position"] = *pe.Position
		}
		return ErrCodeParse, ExitFailure, details
	}
	var te *queryir.TranslateError
	if errors.As(err, &te) {
		details := map[string]any{"target": string(te.Target)}
		if te.Unsupported != "" {
			details["feature"] = te.Unsupported
			return ErrCodeUnsupported, ExitFailure, details
		}
		return ErrCodeTranslate, ExitFailure, details
	}
	return "", 0, nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
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
