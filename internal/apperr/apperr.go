// Package apperr defines the error taxonomy shared by the polling engine,
// the tracking operations and the external clients.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers must react to it.
type Kind string

const (
	// KindConfiguration is fatal at startup.
	KindConfiguration Kind = "CONFIGURATION"
	// KindTransientFetch covers network errors, timeouts, 429 and 5xx responses.
	// The affected entity is skipped for the current tick only.
	KindTransientFetch Kind = "TRANSIENT_FETCH"
	// KindValidation is surfaced synchronously to the calling operation.
	KindValidation Kind = "VALIDATION"
	// KindNotFound means a lookup succeeded but yielded nothing.
	KindNotFound Kind = "NOT_FOUND"
	// KindResolutionFailed means a name lookup call itself failed.
	KindResolutionFailed Kind = "RESOLUTION_FAILED"
	// KindTenantUnreachable means the guild is no longer accessible.
	KindTenantUnreachable Kind = "TENANT_UNREACHABLE"
	KindAlreadyTracked    Kind = "ALREADY_TRACKED"
	KindNotTracked        Kind = "NOT_TRACKED"
)

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrTransientFetch    = &Error{Kind: KindTransientFetch}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrResolutionFailed  = &Error{Kind: KindResolutionFailed}
	ErrTenantUnreachable = &Error{Kind: KindTenantUnreachable}
	ErrAlreadyTracked    = &Error{Kind: KindAlreadyTracked}
	ErrNotTracked        = &Error{Kind: KindNotTracked}
)

// Error is the structured error type used throughout soulwatch.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	default:
		return prefix
	}
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Configuration builds a KindConfiguration error from a format string.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

// Transient wraps cause as a KindTransientFetch error.
func Transient(op string, cause error) *Error {
	return Wrap(KindTransientFetch, op, "", cause)
}

// KindOf extracts the outermost Kind in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
