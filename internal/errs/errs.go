// Package errs defines the stable error kinds the engine reports to its
// callers (the dispatcher, and through it the HTTP/JSON boundary).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the enumerated error categories the core ever returns.
type Kind int

const (
	// Unknown covers programmer errors that should never surface; kept so
	// the zero value is not mistaken for a real classification.
	Unknown Kind = iota
	SyntaxError
	NotFound
	AlreadyExists
	Conflict
	PermissionDenied
	NotSupported
	LockTimeout
	TxnState
	IoError
	Corruption
)

func (k Kind) String() string {
	switch k {
	case SyntaxError:
		return "SyntaxError"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case Conflict:
		return "Conflict"
	case PermissionDenied:
		return "PermissionDenied"
	case NotSupported:
		return "NotSupported"
	case LockTimeout:
		return "LockTimeout"
	case TxnState:
		return "TxnState"
	case IoError:
		return "IoError"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is the typed result the core returns for any fallible operation.
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

// New builds an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as its underlying error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to IoError for untyped errors
// (an unexpected stdlib/filesystem failure is still reported as an I/O
// problem, never silently swallowed as Unknown).
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IoError
}
