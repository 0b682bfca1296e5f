// Package sessions holds the per-browser-session state of the source and destination
// accounts: tokens, cached profile, the pending login nonce and the slot that issued them.
package sessions

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/internal/utils"
)

// TokenStore is the read-modify-write layer over a Repo. Updates to the same
// (session, account) are serialized; the two accounts of a session never share a lock.
type TokenStore struct {
	repo   Repo
	locks  *utils.KeyedMutex
	logger zerolog.Logger
}

func NewTokenStore(repo Repo, logger zerolog.Logger) *TokenStore {
	return &TokenStore{
		repo:   repo,
		locks:  utils.NewKeyedMutex(),
		logger: logger.With().Str("component", "sessions").Logger(),
	}
}

func lockKey(sessionID string, account Account) string {
	return sessionID + "/" + string(account)
}

func validate(sessionID string, account Account) error {
	if sessionID == "" {
		return autherrors.ErrSessionNotFound
	}
	if account != Source && account != Destination {
		return errors.Wrapf(autherrors.ErrInvalidAccount, "%q", account)
	}
	return nil
}

func (s *TokenStore) update(ctx context.Context, op, sessionID string, account Account, fn func(*AccountState)) error {
	if err := validate(sessionID, account); err != nil {
		return errors.Wrapf(err, "[TokenStore.%s]", op)
	}

	unlock := s.locks.Lock(lockKey(sessionID, account))
	defer unlock()

	state, err := s.repo.GetAccount(ctx, sessionID, account)
	if err != nil {
		return errors.Wrapf(err, "[TokenStore.%s] get", op)
	}
	fn(&state)
	if state.IsZero() {
		err = s.repo.DeleteAccount(ctx, sessionID, account)
	} else {
		err = s.repo.PutAccount(ctx, sessionID, account, state)
	}
	return errors.Wrapf(err, "[TokenStore.%s] put", op)
}

// Account returns the stored state of one account.
func (s *TokenStore) Account(ctx context.Context, sessionID string, account Account) (AccountState, error) {
	if err := validate(sessionID, account); err != nil {
		return AccountState{}, errors.Wrap(err, "[TokenStore.Account]")
	}
	state, err := s.repo.GetAccount(ctx, sessionID, account)
	return state, errors.Wrap(err, "[TokenStore.Account]")
}

// Session loads both accounts.
func (s *TokenStore) Session(ctx context.Context, sessionID string) (AuthSession, error) {
	session := AuthSession{ID: sessionID}
	var err error
	if session.Source, err = s.Account(ctx, sessionID, Source); err != nil {
		return AuthSession{}, err
	}
	if session.Destination, err = s.Account(ctx, sessionID, Destination); err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

// SetTokens replaces the token set of one account.
func (s *TokenStore) SetTokens(ctx context.Context, sessionID string, account Account, tokens TokenSet) error {
	return s.update(ctx, "SetTokens", sessionID, account, func(state *AccountState) {
		state.Tokens = &tokens
	})
}

// ReplaceTokens swaps expected for fresh only while the account still holds expected,
// issued by slotID. It reports false, writing nothing, when the account was signed out
// or went through a new login in the meantime.
func (s *TokenStore) ReplaceTokens(ctx context.Context, sessionID string, account Account, slotID string, expected, fresh TokenSet) (bool, error) {
	if err := validate(sessionID, account); err != nil {
		return false, errors.Wrap(err, "[TokenStore.ReplaceTokens]")
	}

	unlock := s.locks.Lock(lockKey(sessionID, account))
	defer unlock()

	state, err := s.repo.GetAccount(ctx, sessionID, account)
	if err != nil {
		return false, errors.Wrap(err, "[TokenStore.ReplaceTokens] get")
	}
	if state.Tokens == nil || *state.Tokens != expected || state.SlotID != slotID {
		return false, nil
	}
	state.Tokens = &fresh
	if err := s.repo.PutAccount(ctx, sessionID, account, state); err != nil {
		return false, errors.Wrap(err, "[TokenStore.ReplaceTokens] put")
	}
	return true, nil
}

// GetTokens returns nil when the account holds no tokens.
func (s *TokenStore) GetTokens(ctx context.Context, sessionID string, account Account) (*TokenSet, error) {
	state, err := s.Account(ctx, sessionID, account)
	if err != nil {
		return nil, err
	}
	return state.Tokens, nil
}

func (s *TokenStore) SetProfile(ctx context.Context, sessionID string, account Account, profile UserProfile) error {
	return s.update(ctx, "SetProfile", sessionID, account, func(state *AccountState) {
		state.Profile = &profile
	})
}

// BeginPending resets the account and records the nonce and slot of a new login attempt.
func (s *TokenStore) BeginPending(ctx context.Context, sessionID string, account Account, nonce, slotID string, since time.Time) error {
	return s.update(ctx, "BeginPending", sessionID, account, func(state *AccountState) {
		*state = AccountState{
			PendingNonce: nonce,
			PendingSince: since,
			SlotID:       slotID,
		}
	})
}

// ConsumeNonce clears the pending nonce, keeping tokens, profile and slot.
func (s *TokenStore) ConsumeNonce(ctx context.Context, sessionID string, account Account) error {
	return s.update(ctx, "ConsumeNonce", sessionID, account, func(state *AccountState) {
		state.PendingNonce = ""
		state.PendingSince = time.Time{}
	})
}

// Clear drops tokens, profile, nonce and slot of one account only.
func (s *TokenStore) Clear(ctx context.Context, sessionID string, account Account) error {
	if err := validate(sessionID, account); err != nil {
		return errors.Wrap(err, "[TokenStore.Clear]")
	}

	unlock := s.locks.Lock(lockKey(sessionID, account))
	defer unlock()

	if err := s.repo.DeleteAccount(ctx, sessionID, account); err != nil {
		return errors.Wrap(err, "[TokenStore.Clear]")
	}
	s.logger.Debug().Str("session", sessionID).Stringer("account", account).Msg("account cleared")
	return nil
}

// ClearBoth drops the whole session.
func (s *TokenStore) ClearBoth(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.Wrap(autherrors.ErrSessionNotFound, "[TokenStore.ClearBoth]")
	}

	unlockSource := s.locks.Lock(lockKey(sessionID, Source))
	defer unlockSource()
	unlockDest := s.locks.Lock(lockKey(sessionID, Destination))
	defer unlockDest()

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "[TokenStore.ClearBoth]")
	}
	s.logger.Debug().Str("session", sessionID).Msg("session cleared")
	return nil
}
