// Package errors provides common domain error types for prepd.
//
// This package defines sentinel errors for common domain conditions like
// "not found" or "stale token" that can be used across all packages. Using
// typed errors enables consistent error handling patterns with errors.Is()
// checks instead of string matching.
//
// Usage:
//
//	import pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
//
//	// Return a domain error
//	return nil, pderrors.ErrNotFound
//
//	// Check for domain errors
//	if pderrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrStaleToken indicates a resume token that no longer refers to an
	// open response gate (the session completed, expired, or was cancelled).
	ErrStaleToken = errors.New("stale resume token")

	// ErrChannelsExhausted indicates every notification channel in the
	// fallback order failed to deliver.
	ErrChannelsExhausted = errors.New("all notification channels failed")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists reports whether any error in err's chain is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsStaleToken reports whether any error in err's chain is ErrStaleToken.
func IsStaleToken(err error) bool {
	return errors.Is(err, ErrStaleToken)
}

// IsChannelsExhausted reports whether any error in err's chain is ErrChannelsExhausted.
func IsChannelsExhausted(err error) bool {
	return errors.Is(err, ErrChannelsExhausted)
}
