// Package tserr defines the typed error kinds raised by the triple store.
//
// Every operation in the storage core either succeeds or returns an *Error
// carrying one of the Kind values below; callers distinguish failure modes
// with errors.Is / errors.As rather than string matching.
package tserr

import (
	"errors"
	"fmt"
)

// Kind enumerates the abstract error categories from the storage core's
// error handling design.
type Kind string

const (
	// NotInitialised is returned when an API is called before Init().
	NotInitialised Kind = "not_initialised"
	// AlreadyInitialised is returned when a configuration mutator is
	// called after Init().
	AlreadyInitialised Kind = "already_initialised"
	// InvalidTerm is returned for a literal/IRI shape violation.
	InvalidTerm Kind = "invalid_term"
	// InvalidState is returned when an operation is incompatible with
	// the current sink or connection state.
	InvalidState Kind = "invalid_state"
	// ConcurrentModification is returned for a serializable conflict
	// detected at prepare time.
	ConcurrentModification Kind = "concurrent_modification"
	// LockFailed is returned when a directory or resource lock cannot
	// be acquired.
	LockFailed Kind = "lock_failed"
	// PersistenceIO wraps a read/write/rename failure from the OS.
	PersistenceIO Kind = "persistence_io"
	// Interrupted is returned when a blocking wait is cancelled.
	Interrupted Kind = "interrupted"
	// InvalidConfig is returned for a configuration that cannot be
	// satisfied, e.g. an unsupported default isolation level.
	InvalidConfig Kind = "invalid_config"
)

// Error is the concrete error type returned by the storage core. Wrap a
// lower-level cause with Wrap so errors.Unwrap / errors.Is keep working
// against both the Kind and the original cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, tserr.New(tserr.InvalidState, "")) style sentinels work
// without allocating a package-level variable per kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
