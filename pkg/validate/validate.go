// Package validate provides the syntactic checks applied to usernames,
// stored secrets and entry descriptions before they reach storage.
//
// Every function here is pure: no I/O, no shared state, safe for
// concurrent use.
package validate

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// Length limits
const (
	MinUsernameLength    = 4
	MinSecretLength      = 8
	MaxSecretLength      = 1024
	MaxDescriptionLength = 256
)

// Errors
var (
	ErrInvalidFormat     = errors.New("validate: invalid format")
	ErrTooShort          = errors.New("validate: too short")
	ErrTooLong           = errors.New("validate: too long")
	ErrInvalidCharacters = errors.New("validate: invalid characters")
	ErrMismatch          = errors.New("validate: confirmation does not match")
	ErrEmpty             = errors.New("validate: empty value")
)

// ValidUsername is a username that passed Username.
type ValidUsername string

// ValidSecret is a secret that passed Secret.
type ValidSecret string

// Username trims surrounding whitespace and checks that the result starts
// with an ASCII letter followed by at least three ASCII letters, digits or
// underscores.
func Username(raw string) (ValidUsername, error) {
	name := strings.TrimSpace(raw)
	if len(name) < MinUsernameLength {
		return "", ErrInvalidFormat
	}
	if !isASCIILetter(name[0]) {
		return "", ErrInvalidFormat
	}
	for i := 1; i < len(name); i++ {
		if !isUsernameChar(name[i]) {
			return "", ErrInvalidFormat
		}
	}
	return ValidUsername(name), nil
}

// Secret checks that raw is at least MinSecretLength bytes of printable
// ASCII (0x20-0x7E).
func Secret(raw string) (ValidSecret, error) {
	if len(raw) < MinSecretLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrTooShort, MinSecretLength)
	}
	if len(raw) > MaxSecretLength {
		return "", fmt.Errorf("%w: at most %d characters", ErrTooLong, MaxSecretLength)
	}
	if i := firstNonPrintable(raw); i >= 0 {
		return "", fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidCharacters, raw[i], i)
	}
	return ValidSecret(raw), nil
}

// SecretConfirmation checks that secret is valid and that confirmation is
// byte-for-byte identical to it.
func SecretConfirmation(secret, confirmation string) error {
	if _, err := Secret(secret); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(confirmation)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Description checks an entry label: non-empty printable ASCII.
func Description(raw string) error {
	if raw == "" {
		return ErrEmpty
	}
	if len(raw) > MaxDescriptionLength {
		return fmt.Errorf("%w: at most %d characters", ErrTooLong, MaxDescriptionLength)
	}
	if i := firstNonPrintable(raw); i >= 0 {
		return fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidCharacters, raw[i], i)
	}
	return nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isUsernameChar(c byte) bool {
	return isASCIILetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// firstNonPrintable returns the offset of the first byte outside 0x20-0x7E,
// or -1.
func firstNonPrintable(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return i
		}
	}
	return -1
}
