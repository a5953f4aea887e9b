// Package errs defines the error taxonomy shared by the resolution engine.
// Routes translate these into HTTP errors; the core never returns partial
// state alongside them.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry.
type Kind string

const (
	// KindValidation - rejected before any side effect; not retryable.
	KindValidation Kind = "validation"
	// KindNotFound - referenced suggestion/entity/orphan is missing.
	KindNotFound Kind = "not_found"
	// KindConflict - optimistic version mismatch; retryable after refetch.
	KindConflict Kind = "conflict"
	// KindUnavailable - repository timeout or connection failure; retryable
	// with backoff.
	KindUnavailable Kind = "unavailable"
	// KindAlreadyTerminal - the suggestion already reached a terminal status;
	// distinguishes "already done" from failure.
	KindAlreadyTerminal Kind = "already_terminal"
)

// Error is a classified error carrying the subject (entity or suggestion id)
// that caused it.
type Error struct {
	Kind    Kind
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error.
func Validation(subject, format string, args ...any) error {
	return &Error{Kind: KindValidation, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(subject, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(subject, format string, args ...any) error {
	return &Error{Kind: KindConflict, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a repository failure as retryable.
func Unavailable(subject string, err error) error {
	return &Error{Kind: KindUnavailable, Subject: subject, Message: "repository unavailable", Err: err}
}

// AlreadyTerminal returns a KindAlreadyTerminal error.
func AlreadyTerminal(subject, format string, args ...any) error {
	return &Error{Kind: KindAlreadyTerminal, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a version-conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUnavailable reports whether err is a retryable availability error.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// IsAlreadyTerminal reports whether err marks an already-decided suggestion.
func IsAlreadyTerminal(err error) bool { return KindOf(err) == KindAlreadyTerminal }
