package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the top-level error category. It decides how a failure is
// handled: storage errors are fatal to the current operation, network errors
// are recoverable, validation errors are rejected before any write.
type ErrorKind string

const (
	KindStorage    ErrorKind = "STORAGE"
	KindNetwork    ErrorKind = "NETWORK"
	KindValidation ErrorKind = "VALIDATION"
)

// ErrorCode narrows an ErrorKind for diagnostics.
type ErrorCode string

const (
	// Storage codes.
	CodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	CodeCorrupted     ErrorCode = "CORRUPTED"
	CodeSchemaVersion ErrorCode = "SCHEMA_VERSION"
	CodeDuplicateKey  ErrorCode = "DUPLICATE_KEY"
	CodeIO            ErrorCode = "IO"

	// Network codes.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
	CodeTimeout     ErrorCode = "TIMEOUT"

	// Validation codes.
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeNoInventory       ErrorCode = "NO_INVENTORY"
	CodeRejected          ErrorCode = "REJECTED"
)

var (
	// ErrInsufficientStock is wrapped when an outbound movement exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNoInventory is wrapped when an outbound movement targets a
	// product/warehouse pair with no inventory record.
	ErrNoInventory = errors.New("no inventory for product and warehouse")
)

// Error is the structured error used across ventry.
//
// Entity, Intent and ActionID are filled in when the failure happened while
// handling a pending action, so logs can name the exact queue entry.
type Error struct {
	Kind     ErrorKind
	Code     ErrorCode
	Op       string
	Entity   Entity
	Intent   IntentKind
	ActionID string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", e.Kind, e.Code)
	if e.Op != "" {
		fmt.Fprintf(&b, ": %s", e.Op)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.ActionID != "" {
		fmt.Fprintf(&b, " (action=%s, entity=%s, intent=%s)", e.ActionID, e.Entity, e.Intent)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError creates a local persistence failure.
func NewStorageError(op string, code ErrorCode, err error) *Error {
	return &Error{Kind: KindStorage, Code: code, Op: op, Err: err}
}

// NewNetworkError creates a recoverable remote call failure.
func NewNetworkError(op string, code ErrorCode, err error) *Error {
	return &Error{Kind: KindNetwork, Code: code, Op: op, Err: err}
}

// NewValidationError creates a user-visible rejection.
func NewValidationError(op string, code ErrorCode, err error) *Error {
	return &Error{Kind: KindValidation, Code: code, Op: op, Err: err}
}

// WithAction returns a copy of err annotated with the pending action it
// belongs to. Errors that are not *Error are classified as network errors,
// since anything escaping a replay that is not local is a remote failure.
func WithAction(err error, a PendingAction) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		cp := *me
		cp.ActionID = a.ID
		cp.Entity = a.Intent.Entity()
		cp.Intent = a.Intent.Kind()
		return &cp
	}
	return &Error{
		Kind:     KindNetwork,
		Code:     CodeUnavailable,
		Op:       "replay",
		Entity:   a.Intent.Entity(),
		Intent:   a.Intent.Kind(),
		ActionID: a.ID,
		Err:      err,
	}
}

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// CodeOf returns the ErrorCode of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsStorage returns true if err is a local persistence failure.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsNetwork returns true if err is a recoverable remote failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsValidation returns true if err is a user-visible rejection.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
