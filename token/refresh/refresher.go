// Package refresh keeps account access tokens usable, renewing them through the slot
// that originally issued them.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// TokenSource redeems a refresh token with a slot's credentials.
type TokenSource interface {
	Refresh(ctx context.Context, creds apppool.Credentials, refreshToken string) (sessions.TokenSet, error)
}

// SlotLookup resolves the slot recorded on an account.
type SlotLookup interface {
	SlotByID(slotID string) (apppool.Slot, error)
}

type Refresher struct {
	store  *sessions.TokenStore
	slots  SlotLookup
	source TokenSource
	group  singleflight.Group
	logger zerolog.Logger
}

func New(store *sessions.TokenStore, slots SlotLookup, source TokenSource, logger zerolog.Logger) *Refresher {
	return &Refresher{
		store:  store,
		slots:  slots,
		source: source,
		logger: logger.With().Str("component", "refresh").Logger(),
	}
}

// EnsureFresh returns usable tokens for the account, refreshing them once they have
// reached their expiry. Concurrent callers for the same account share one refresh.
// On failure the stale tokens stay in place and the error wraps ErrRefreshFailed.
func (r *Refresher) EnsureFresh(ctx context.Context, sessionID string, account sessions.Account) (sessions.TokenSet, error) {
	state, err := r.store.Account(ctx, sessionID, account)
	if err != nil {
		return sessions.TokenSet{}, err
	}
	if state.Tokens == nil {
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.EnsureFresh] %s: %w", account, autherrors.ErrNotAuthenticated)
	}
	if !state.Tokens.IsExpired(NowTimeFunc()) {
		return *state.Tokens, nil
	}

	key := sessionID + "/" + string(account)
	v, err, shared := r.group.Do(key, func() (any, error) {
		// Detached so one caller going away does not fail the others sharing the flight.
		return r.refresh(context.WithoutCancel(ctx), sessionID, account)
	})
	if err != nil {
		return sessions.TokenSet{}, err
	}
	if shared {
		r.logger.Debug().Str("session", sessionID).Stringer("account", account).Msg("joined in-flight refresh")
	}
	return v.(sessions.TokenSet), nil
}

func (r *Refresher) refresh(ctx context.Context, sessionID string, account sessions.Account) (sessions.TokenSet, error) {
	state, err := r.store.Account(ctx, sessionID, account)
	if err != nil {
		return sessions.TokenSet{}, err
	}
	if state.Tokens == nil {
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] %s: %w", account, autherrors.ErrNotAuthenticated)
	}

	now := NowTimeFunc()
	stale := *state.Tokens
	if !stale.IsExpired(now) {
		return stale, nil
	}

	log := r.logger.With().Str("session", sessionID).Stringer("account", account).Str("slot", state.SlotID).Logger()
	log.Info().
		Time("expiredAt", stale.ExpiresAt()).
		Dur("tokenAge", now.Sub(time.UnixMilli(stale.IssuedAtEpochMillis))).
		Msg("access token expired, refreshing")

	if stale.RefreshToken == "" {
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] %s has no refresh token: %w", account, autherrors.ErrRefreshFailed)
	}

	slot, err := r.slots.SlotByID(state.SlotID)
	if err != nil {
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] %w: %w", autherrors.ErrRefreshFailed, err)
	}

	fresh, err := r.source.Refresh(ctx, slot.Credentials(), stale.RefreshToken)
	if err != nil {
		log.Error().Err(err).Msg("token refresh failed")
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] %w: %w", autherrors.ErrRefreshFailed, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stale.RefreshToken
	}
	fresh.IssuedAtEpochMillis = NowTimeFunc().UnixMilli()

	replaced, err := r.store.ReplaceTokens(ctx, sessionID, account, state.SlotID, stale, fresh)
	if err != nil {
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] store: %w", err)
	}
	if !replaced {
		log.Warn().Msg("account signed out or signed in again during refresh, discarding refreshed tokens")
		return sessions.TokenSet{}, fmt.Errorf("[Refresher.refresh] %s changed during refresh: %w", account, autherrors.ErrNotAuthenticated)
	}

	log.Info().
		Time("expiresAt", fresh.ExpiresAt()).
		Bool("rotated", fresh.RefreshToken != stale.RefreshToken).
		Msg("access token refreshed")
	return fresh, nil
}
