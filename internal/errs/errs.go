// Package errs defines the error kinds shared across the engine. Every phase
// returns one of these kinds wrapped around the concrete cause so callers can
// branch on errors.Is without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/escalation policy.
type Kind int

const (
	// KindValidation: malformed event, missing threshold, inconsistent
	// segment key. Never silenced.
	KindValidation Kind = iota
	// KindResource: I/O failure reading events or writing graphs. Returned
	// to the caller as is; nothing in the engine retries it.
	KindResource
	// KindBackPressure: bounded queue full. Surfaced immediately.
	KindBackPressure
	// KindConsistency: audit hash mismatch or chain break. Non-retryable.
	KindConsistency
	// KindExternal: connector timeout or non-2xx. Retried with backoff.
	KindExternal
	// KindCancelled: cooperative cancellation. No persisted side effects.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindBackPressure:
		return "backpressure"
	case KindConsistency:
		return "consistency"
	case KindExternal:
		return "external"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{kind: KindValidation, msg: "validation error"}
	ErrResource     = &Error{kind: KindResource, msg: "resource error"}
	ErrBackPressure = &Error{kind: KindBackPressure, msg: "queue full"}
	ErrConsistency  = &Error{kind: KindConsistency, msg: "consistency error"}
	ErrExternal     = &Error{kind: KindExternal, msg: "external error"}
	ErrCancelled    = &Error{kind: KindCancelled, msg: "cancelled"}
)

// Error carries a kind, a message, and an optional wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrValidation)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.kind == t.kind
	}
	return false
}

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. Returns nil when
// err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the kind of an error, or -1 for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Kind(-1)
}
