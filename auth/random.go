package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/sessions"
)

// generateRandomString creates a random base64url string from length random bytes
func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "[auth.generateRandomString]")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newNonce prefixes the random state with the account so a callback without an account
// in its path can still be routed.
func newNonce(account sessions.Account, length int) (string, error) {
	r, err := generateRandomString(length)
	if err != nil {
		return "", err
	}
	return string(account) + "-" + r, nil
}

// AccountFromState recovers the account a state value was issued for.
func AccountFromState(state string) (sessions.Account, error) {
	for _, account := range sessions.Accounts {
		prefix := string(account) + "-"
		if strings.HasPrefix(state, prefix) && len(state) > len(prefix) {
			return account, nil
		}
	}
	return "", errors.Wrap(autherrors.ErrStateMismatch, "[auth.AccountFromState] state carries no account")
}
