package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JhanGutierrez/ventry/internal/engine"
	"github.com/JhanGutierrez/ventry/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected input or a recoverable sync failure
	ExitCommandError = 2 // Command error (bad configuration, unusable database, etc.)
)

// ExitError represents an error with a specific exit code.
// Reported is true once the error has been written through the formatter.
type ExitError struct {
	Code     int
	Message  string
	Err      error
	Reported bool
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written to the user.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// textRenderer is implemented by results with a custom text form.
type textRenderer interface {
	renderText(w io.Writer) error
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
	Code    string `json:"code"`              // "VALIDATION/INSUFFICIENT_STOCK", "SYNC_FAILED", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(textRenderer); ok {
		return r.renderText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
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

// Fail reports err and returns it as an ExitError with the matching exit
// code. Validation and network failures exit 1, anything else exits 2.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, details := errorCode(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)

	exit := ExitCommandError
	if model.IsValidation(err) || model.IsNetwork(err) {
		exit = ExitFailure
	}
	return &ExitError{Code: exit, Message: message, Err: err, Reported: true}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// errorCode renders a model error as KIND/CODE and collects the fields worth
// showing with it.
func errorCode(err error) (string, any) {
	var de *engine.DrainError
	if errors.As(err, &de) {
		return "SYNC_FAILED", map[string]any{
			"action_id": de.ActionID,
			"entity":    de.Entity,
			"intent":    de.Intent,
			"replayed":  de.Replayed,
			"remaining": de.Remaining,
			"cause":     fmt.Sprintf("%s/%s", model.KindOf(err), model.CodeOf(err)),
		}
	}

	var me *model.Error
	if errors.As(err, &me) {
		details := map[string]any{}
		if me.Entity != "" {
			details["entity"] = me.Entity
		}
		if me.ActionID != "" {
			details["action_id"] = me.ActionID
		}
		if len(details) == 0 {
			return fmt.Sprintf("%s/%s", me.Kind, me.Code), nil
		}
		return fmt.Sprintf("%s/%s", me.Kind, me.Code), details
	}
	return "ERROR", nil
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
