package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers map kinds to user-facing
// messages; the wrapped cause is for logs only.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingInformation
	KindInvalidInput
	KindDuplicateUsername
	KindInvalidCredentials
	KindVaultNotFound
	KindCorruptCredential
)

func (k Kind) String() string {
	switch k {
	case KindMissingInformation:
		return "missing information"
	case KindInvalidInput:
		return "invalid input"
	case KindDuplicateUsername:
		return "duplicate username"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindVaultNotFound:
		return "vault not found"
	case KindCorruptCredential:
		return "corrupt credential"
	default:
		return "internal error"
	}
}

// Error is the error type returned by every Engine operation.
type Error struct {
	Kind  Kind
	Field string // set for KindInvalidInput
	Err   error
}

func (e *Error) Error() string {
	msg := "engine: " + e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the sentinels below can
// be used with errors.Is. A target with a Field also requires the field
// to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// Sentinels for errors.Is.
var (
	ErrMissingInformation = &Error{Kind: KindMissingInformation}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrDuplicateUsername  = &Error{Kind: KindDuplicateUsername}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrVaultNotFound      = &Error{Kind: KindVaultNotFound}
	ErrCorruptCredential  = &Error{Kind: KindCorruptCredential}
	ErrInternal           = &Error{Kind: KindInternal}
)

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the offending field of a KindInvalidInput error.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func invalidInput(field string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Err: err}
}

func internalError(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf(format, args...)}
}
