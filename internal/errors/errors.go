package errors

import (
	"errors"
	"fmt"
)

// Error kinds shared by the auth flow, the token refresher and the app pool.
var (
	// Callback validation errors, terminal for the login attempt
	ErrStateMismatch = errors.New("state mismatch")
	ErrMissingCode   = errors.New("missing authorization code")

	// Provider errors, classified before they reach the user
	ErrProviderError     = errors.New("provider error")
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrForbidden         = errors.New("provider access forbidden")

	// Token lifecycle errors
	ErrNotAuthenticated  = errors.New("account not authenticated")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrProfileIncomplete = errors.New("profile fetch incomplete")

	// Pool errors
	ErrPoolExhausted = errors.New("no active app slot")
	ErrUnknownSlot   = errors.New("unknown app slot")

	// Request errors
	ErrInvalidAccount  = errors.New("invalid account")
	ErrSessionNotFound = errors.New("session not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
