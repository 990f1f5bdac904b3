package main

import (
	"errors"

	"github.com/npassword/npassword/internal/config"
	"github.com/npassword/npassword/pkg/engine"
	"github.com/npassword/npassword/pkg/validate"
)

// userMessage maps an error to the one line shown to the user. Engine
// errors never show their cause; it has already been logged.
func userMessage(err error) string {
	var e *engine.Error
	if !errors.As(err, &e) {
		if errors.Is(err, config.ErrInsecure) || errors.Is(err, config.ErrSymlink) ||
			errors.Is(err, config.ErrNotFound) || errors.Is(err, config.ErrInvalidConf) {
			return err.Error()
		}
		return "Error: " + err.Error()
	}

	switch e.Kind {
	case engine.KindMissingInformation:
		return "Missing information"
	case engine.KindInvalidInput:
		return invalidInputMessage(e)
	case engine.KindDuplicateUsername:
		return "Username already taken"
	case engine.KindInvalidCredentials:
		return "Invalid username or password"
	case engine.KindVaultNotFound:
		return "Account data is missing; run 'npassword doctor'"
	case engine.KindCorruptCredential:
		return "Stored credential is unreadable; the account cannot be used"
	default:
		return "Internal error; see the log for details"
	}
}

func invalidInputMessage(e *engine.Error) string {
	switch e.Field {
	case "username":
		return "Invalid username: use at least 4 letters, digits or underscores, starting with a letter"
	case "confirmation":
		return "Passwords do not match"
	case "secret":
		if errors.Is(e, validate.ErrTooLong) {
			return "Invalid password: too long"
		}
		return "Invalid password: use at least 8 printable ASCII characters"
	case "description":
		if errors.Is(e, validate.ErrTooLong) {
			return "Invalid description: too long"
		}
		return "Invalid description: use printable ASCII characters"
	default:
		return "Invalid input"
	}
}
