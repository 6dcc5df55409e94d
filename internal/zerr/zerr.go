// Package zerr defines the error kinds shared across the organizer core.
package zerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide user-visible vs. log-only
// handling without matching strings.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindCircuitOpen
	KindUpstream
	KindForbidden
	KindQuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindUpstream:
		return "upstream"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "internal"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a *Error of the given kind from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is a *Error,
// otherwise KindInternal.
func KindOf(err error) Kind {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Kind
	}
	return KindInternal
}

// Is reports whether err's kind matches k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrInvalidInput   = errors.New("invalid input")
	ErrPromptInjected = errors.New("prompt injection detected")
	ErrOutOfScope     = errors.New("out of scope")
)
