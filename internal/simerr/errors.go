// Package simerr defines the structured error taxonomy shared by the
// simulation core.
//
// Every operation-level failure is represented as an *Error with a
// machine-readable Code. Callers match on codes via the IsX predicates
// (errors.As based, so wrapped errors are handled) rather than comparing
// messages.
package simerr

import (
	"errors"
	"fmt"
)

// Code categorizes core errors.
type Code string

const (
	// CodeValidation indicates bad input: non-positive time scale, empty
	// marker label, negative advance delta, emit while stopped.
	CodeValidation Code = "VALIDATION"

	// CodeInvalidState indicates an illegal clock state transition,
	// e.g. Resume while stopped.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeDuplicateEvent indicates an event_id collision on append.
	CodeDuplicateEvent Code = "DUPLICATE_EVENT"

	// CodePersistence indicates a storage backend failure on a write.
	// The simulation keeps running; only the single operation fails.
	CodePersistence Code = "PERSISTENCE"

	// CodeSeekOutOfRange indicates a seek to a negative target time.
	CodeSeekOutOfRange Code = "SEEK_OUT_OF_RANGE"

	// CodeReplayIntegrity indicates a checkpoint whose recorded event
	// count or state hash does not match the log. Seek aborts with state
	// and clock unchanged.
	CodeReplayIntegrity Code = "REPLAY_INTEGRITY"
)

// Error is a structured core error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Details contains additional context for diagnostics.
	Details map[string]string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of err, or "" if err is not a core error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsInvalidState reports whether err is an illegal state transition.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }

// IsDuplicateEvent reports whether err is an event_id collision.
func IsDuplicateEvent(err error) bool { return CodeOf(err) == CodeDuplicateEvent }

// IsPersistence reports whether err is a storage write failure.
func IsPersistence(err error) bool { return CodeOf(err) == CodePersistence }

// IsSeekOutOfRange reports whether err is a negative seek target.
func IsSeekOutOfRange(err error) bool { return CodeOf(err) == CodeSeekOutOfRange }

// IsReplayIntegrity reports whether err is a checkpoint integrity failure.
func IsReplayIntegrity(err error) bool { return CodeOf(err) == CodeReplayIntegrity }
