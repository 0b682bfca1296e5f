package sessions

import "context"

// Repo stores account state per (session, account). Implementations keep each account
// under its own key or field so writing one account never rewrites the other.
type Repo interface {
	// GetAccount returns the zero AccountState when nothing is stored
	GetAccount(ctx context.Context, sessionID string, account Account) (AccountState, error)

	// PutAccount replaces the stored state of one account
	PutAccount(ctx context.Context, sessionID string, account Account, state AccountState) error

	// DeleteAccount removes one account, leaving the other untouched
	DeleteAccount(ctx context.Context, sessionID string, account Account) error

	// Delete removes the whole session
	Delete(ctx context.Context, sessionID string) error
}
