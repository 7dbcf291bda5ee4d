// Package apperrors provides classified search errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation    = errors.New("validation error")
	ErrTransport     = errors.New("transport error")
	ErrRemoteFailure = errors.New("remote failure")
	ErrParse         = errors.New("parse error")
	ErrCancelled     = errors.New("cancelled")
	ErrTimedOut      = errors.New("timed out")
	ErrNotFound      = errors.New("not found")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "sequence", "explowlim")
	Resource string // For not found errors (e.g., "search")
	Op       string // Operation that failed (e.g., "ebi.submit")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns both the sentinel and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// Transport creates an error for a failed submit, poll or fetch call.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// RemoteFailure creates an error for a job that reached a terminal non-success status.
func RemoteFailure(status string) error {
	return &Error{
		Sentinel: ErrRemoteFailure,
		Message:  fmt.Sprintf("Unexpected FASTA job status: %s", status),
		Resource: "job",
	}
}

// Parse creates an error for an unparseable payload of the given result kind.
func Parse(kind string, cause error) error {
	return &Error{
		Sentinel: ErrParse,
		Message:  fmt.Sprintf("parse %s result: %v", kind, cause),
		Field:    kind,
		Cause:    cause,
	}
}

// Cancelled creates an error for a run interrupted by its caller.
func Cancelled(cause error) error {
	return &Error{
		Sentinel: ErrCancelled,
		Message:  "FASTA job was interrupted",
		Cause:    cause,
	}
}

// TimedOut creates an error for a run that exceeded its maximum wait.
func TimedOut(limit fmt.Stringer) error {
	return &Error{
		Sentinel: ErrTimedOut,
		Message:  fmt.Sprintf("FASTA job did not finish within %s", limit),
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}
