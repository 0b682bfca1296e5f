package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ProviderError describes a failed call to the OAuth provider after classification.
// It unwraps to its Kind (ErrProviderError, ErrInsufficientScope or ErrForbidden)
// and to the underlying cause.
type ProviderError struct {
	Op          string
	Code        string
	Description string
	StatusCode  int
	Kind        error
	Err         error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Op, e.Kind, e.Message())
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message picks the most specific text the provider gave us: description, then the
// error code, then the cause, then the HTTP status.
func (e *ProviderError) Message() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	case e.Err != nil:
		return e.Err.Error()
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP Error: %d", e.StatusCode)
	}
	return "unknown error"
}

// Classify builds a ProviderError and decides its kind. A 403 always means forbidden;
// anything mentioning scope or permission means the grant is missing scopes.
func Classify(op, code, description string, statusCode int, cause error) *ProviderError {
	pe := &ProviderError{
		Op:          op,
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
		Kind:        ErrProviderError,
		Err:         cause,
	}

	msg := strings.ToLower(pe.Message())
	if code == "invalid_scope" || strings.Contains(msg, "scope") || strings.Contains(msg, "permission") {
		pe.Kind = ErrInsufficientScope
	}
	if statusCode == http.StatusForbidden {
		pe.Kind = ErrForbidden
	}
	return pe
}

// UserMessage returns a human readable, actionable message for an error surfaced to the end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	switch {
	case errors.Is(err, ErrStateMismatch):
		return "Invalid authentication state"
	case errors.Is(err, ErrMissingCode):
		return "No authorization code received"
	case errors.Is(err, ErrForbidden):
		return "Access denied (403 Forbidden). Check the app is configured correctly and is not in development mode with restricted access. " +
			"You may need to add your account as a test user in the Developer Dashboard."
	case errors.Is(err, ErrInsufficientScope):
		return "Insufficient permissions. Check the app has every required scope enabled in the Developer Dashboard."
	case errors.Is(err, ErrProfileIncomplete):
		return "Signed in, but the account profile could not be loaded. Please retry."
	case errors.Is(err, ErrRefreshFailed):
		return "Your session with the provider expired. Please sign in again."
	case errors.Is(err, ErrNotAuthenticated):
		return "Account not authenticated"
	case errors.Is(err, ErrPoolExhausted):
		return "Sign-in is temporarily unavailable"
	case errors.As(err, &pe):
		return "Authentication error: " + pe.Message()
	}
	return "Authentication failed"
}
