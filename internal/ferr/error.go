// Package ferr defines the error taxonomy shared by every Fortémi
// component, modeled on the wrap-with-operation pattern used throughout
// the storage and pipeline layers.
package ferr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on behavior without
// string-matching messages.
type Kind string

const (
	NotFound      Kind = "not_found"
	NameConflict  Kind = "name_conflict"
	InvalidInput  Kind = "invalid_input"
	QuotaExceeded Kind = "quota_exceeded"
	Locked        Kind = "locked"
	SchemaDrift   Kind = "schema_drift"
	Transient     Kind = "transient"
	Permanent     Kind = "permanent"
	Cancelled     Kind = "cancelled"
	Deadline      Kind = "deadline"
)

// Error is the concrete error type returned by every Fortémi operation.
// Operation names the component action (e.g. "store.CloneSchema"); the
// wrapped error is never rendered with raw SQL text in Message.
type Error struct {
	Op      string
	K       Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error for op with a human message.
func New(op string, k Kind, message string) error {
	return &Error{Op: op, K: k, Message: message}
}

// Wrap attaches op/kind/message context to an underlying error, preserving
// it for errors.Is/errors.As.
func Wrap(op string, k Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, K: k, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Permanent when err does
// not carry one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.K
	}
	return Permanent
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// Retryable reports whether an operation that produced err should be
// retried by the Worker's backoff schedule.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, Locked, Deadline:
		return true
	default:
		return false
	}
}
