// Package kberrors defines the internal error taxonomy shared by every
// core component, and the mapping to external HTTP status codes used
// by the serving façade (spec §7).
package kberrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is an internal error classification. Every component returns
// errors wrapped with a Kind so the façade can translate them without
// re-deriving intent from error strings.
type Kind string

// Recognized kinds, mirroring the taxonomy in spec §7.
const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindTimeout            Kind = "timeout"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindCircuitOpen        Kind = "circuit_open"
	KindPartialDelete      Kind = "partial_delete"
	KindInternal           Kind = "internal"
)

// Error is a Kind-tagged error. It wraps an underlying cause so the
// original stack trace and message survive translation at the edge.
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

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when
// err is not (or does not wrap) a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var kbErr *Error
	if errors.As(err, &kbErr) {
		return kbErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
