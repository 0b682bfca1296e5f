// Package auth runs the two-account authorization code flow: it picks an app slot,
// issues the authorize redirect, validates the callback, stores tokens and profile,
// and binds the signed-in user to the slot that issued their tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/internal/logging"
	"github.com/tomzdev/spotify-migration-tool/internal/utils"
	"github.com/tomzdev/spotify-migration-tool/sessions"
)

const (
	defaultNonceLength  = 32
	defaultStateTimeout = 15 * time.Minute
)

// Provider is the OAuth provider as seen by the flow.
type Provider interface {
	AuthCodeURL(creds apppool.Credentials, account sessions.Account, state string) string
	Exchange(ctx context.Context, creds apppool.Credentials, account sessions.Account, code string) (sessions.TokenSet, error)
	FetchProfile(ctx context.Context, accessToken string) (sessions.UserProfile, error)
}

// Pool is the subset of the app pool the flow needs.
type Pool interface {
	GetAvailableSlot() (apppool.Slot, error)
	GetUserSlot(userID string) (apppool.Slot, error)
	SlotByID(slotID string) (apppool.Slot, error)
	AssignUser(ctx context.Context, userID string, slotID *string) (apppool.Slot, error)
}

// Freshener returns usable tokens, refreshing them when expired.
type Freshener interface {
	EnsureFresh(ctx context.Context, sessionID string, account sessions.Account) (sessions.TokenSet, error)
}

// Deps holds the collaborators of the Flow
type Deps struct {
	Store     *sessions.TokenStore
	Pool      Pool
	Provider  Provider
	Refresher Freshener
}

type Flow struct {
	deps         Deps
	stateTimeout time.Duration
	nonceLength  int
	locks        *utils.KeyedMutex
	nowTime      func() time.Time
	logger       zerolog.Logger
}

type FlowOption func(*Flow)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) FlowOption {
	return func(f *Flow) {
		f.nowTime = nowFunc
	}
}

// WithStateTimeout bounds how long a pending login nonce stays valid
func WithStateTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		if d > 0 {
			f.stateTimeout = d
		}
	}
}

// WithNonceLength sets the number of random bytes in a nonce
func WithNonceLength(n int) FlowOption {
	return func(f *Flow) {
		if n > 0 {
			f.nonceLength = n
		}
	}
}

func NewFlow(deps Deps, logger zerolog.Logger, options ...FlowOption) (*Flow, error) {
	if deps.Store == nil {
		return nil, errors.New("[NewFlow] token store is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("[NewFlow] pool is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("[NewFlow] provider is required")
	}
	if deps.Refresher == nil {
		return nil, errors.New("[NewFlow] refresher is required")
	}

	f := &Flow{
		deps:         deps,
		stateTimeout: defaultStateTimeout,
		nonceLength:  defaultNonceLength,
		locks:        utils.NewKeyedMutex(),
		nowTime:      time.Now,
		logger:       logger.With().Str("component", "auth").Logger(),
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Callback carries the query parameters the provider redirected back with.
type Callback struct {
	Code             string
	Error            string
	ErrorDescription string
	State            string
}

// Result describes a completed sign-in.
type Result struct {
	Account sessions.Account
	Profile sessions.UserProfile
	SlotID  string
	Next    Decision
}

func (f *Flow) lock(sessionID string, account sessions.Account) func() {
	return f.locks.Lock(sessionID + "/" + string(account))
}

// BeginLogin resets the account, picks the slot the user should authenticate with and
// returns the provider's authorize URL. userHint, such as a pre-registered email, keeps a
// returning user on the slot they are already bound to.
func (f *Flow) BeginLogin(ctx context.Context, sessionID string, account sessions.Account, userHint string) (string, error) {
	unlock := f.lock(sessionID, account)
	defer unlock()

	var (
		slot apppool.Slot
		err  error
	)
	if hint := strings.ToLower(strings.TrimSpace(userHint)); hint != "" {
		slot, err = f.deps.Pool.GetUserSlot(hint)
	} else {
		slot, err = f.deps.Pool.GetAvailableSlot()
	}
	if err != nil {
		f.logger.Error().Err(err).Stringer("account", account).Msg("no app slot available for login")
		return "", errors.Wrap(err, "[Flow.BeginLogin]")
	}

	nonce, err := newNonce(account, f.nonceLength)
	if err != nil {
		return "", err
	}
	if err := f.deps.Store.BeginPending(ctx, sessionID, account, nonce, slot.ID, f.nowTime()); err != nil {
		return "", errors.Wrap(err, "[Flow.BeginLogin]")
	}

	f.logger.Info().
		Str("session", sessionID).
		Stringer("account", account).
		Str("slot", slot.ID).
		Str("clientID", logging.Prefix(slot.ClientID, 5)).
		Msg("login started")
	return f.deps.Provider.AuthCodeURL(slot.Credentials(), account, nonce), nil
}

// CompleteLogin validates the callback, exchanges the code with the slot that issued the
// authorize URL, stores the tokens and loads the profile. A state mismatch leaves the
// account untouched. When only the profile fetch fails the tokens are kept and the error
// wraps ErrProfileIncomplete so the caller can use RetryProfile.
func (f *Flow) CompleteLogin(ctx context.Context, sessionID string, account sessions.Account, cb Callback) (Result, error) {
	unlock := f.lock(sessionID, account)
	defer unlock()

	log := f.logger.With().Str("session", sessionID).Stringer("account", account).Logger()
	log.Info().
		Str("code", logging.Prefix(cb.Code, 5)).
		Str("error", cb.Error).
		Str("errorDescription", cb.ErrorDescription).
		Msg("callback received")

	state, err := f.deps.Store.Account(ctx, sessionID, account)
	if err != nil {
		return Result{}, errors.Wrap(err, "[Flow.CompleteLogin]")
	}

	if err := f.checkState(state, cb.State); err != nil {
		log.Warn().Err(err).Msg("state mismatch in callback, possible CSRF")
		return Result{}, err
	}

	if cb.Error != "" {
		log.Error().Str("error", cb.Error).Str("errorDescription", cb.ErrorDescription).Msg("provider returned an authorization error")
		f.consumeNonce(ctx, log, sessionID, account)
		return Result{}, &autherrors.ProviderError{
			Op:          "Authorize",
			Code:        cb.Error,
			Description: cb.ErrorDescription,
			Kind:        autherrors.ErrProviderError,
		}
	}

	if cb.Code == "" {
		log.Error().Msg("no authorization code received")
		f.consumeNonce(ctx, log, sessionID, account)
		return Result{}, errors.Wrap(autherrors.ErrMissingCode, "[Flow.CompleteLogin]")
	}

	slot, err := f.deps.Pool.SlotByID(state.SlotID)
	if err != nil {
		f.consumeNonce(ctx, log, sessionID, account)
		return Result{}, errors.Wrap(err, "[Flow.CompleteLogin]")
	}

	tokens, err := f.deps.Provider.Exchange(ctx, slot.Credentials(), account, cb.Code)
	if err != nil {
		log.Error().Err(err).Str("slot", slot.ID).Msg("authorization code exchange failed")
		f.consumeNonce(ctx, log, sessionID, account)
		return Result{}, err
	}

	if err := f.deps.Store.SetTokens(ctx, sessionID, account, tokens); err != nil {
		return Result{}, errors.Wrap(err, "[Flow.CompleteLogin]")
	}
	f.consumeNonce(ctx, log, sessionID, account)
	log.Info().Str("slot", slot.ID).Strs("scopes", tokens.Scopes()).Msg("authorization successful, tokens stored")

	return f.completeProfile(ctx, log, sessionID, account, tokens, slot.ID)
}

// checkState rejects a callback whose state is not the pending, unexpired nonce.
func (f *Flow) checkState(state sessions.AccountState, got string) error {
	if state.PendingNonce == "" {
		return errors.Wrap(autherrors.ErrStateMismatch, "no login in progress")
	}
	if subtle.ConstantTimeCompare([]byte(state.PendingNonce), []byte(got)) != 1 {
		return errors.Wrap(autherrors.ErrStateMismatch, "state does not match")
	}
	if !state.PendingSince.IsZero() && f.nowTime().Sub(state.PendingSince) > f.stateTimeout {
		return errors.Wrap(autherrors.ErrStateMismatch, "login attempt expired")
	}
	return nil
}

func (f *Flow) consumeNonce(ctx context.Context, log zerolog.Logger, sessionID string, account sessions.Account) {
	if err := f.deps.Store.ConsumeNonce(ctx, sessionID, account); err != nil {
		log.Error().Err(err).Msg("failed to clear login nonce")
	}
}

// completeProfile loads and caches the profile, binds the user to the slot and works out
// the next navigation step.
func (f *Flow) completeProfile(ctx context.Context, log zerolog.Logger, sessionID string, account sessions.Account, tokens sessions.TokenSet, slotID string) (Result, error) {
	profile, err := f.deps.Provider.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("profile fetch failed, tokens kept")
		return Result{}, fmt.Errorf("[Flow.completeProfile] %w: %w", autherrors.ErrProfileIncomplete, err)
	}
	if err := f.deps.Store.SetProfile(ctx, sessionID, account, profile); err != nil {
		return Result{}, errors.Wrap(err, "[Flow.completeProfile]")
	}

	// The user is signed in either way; a failed binding only skews the quota counters.
	if _, err := f.deps.Pool.AssignUser(ctx, profile.UserKey(), utils.Ptr(slotID)); err != nil {
		log.Error().Err(err).Str("user", profile.UserKey()).Str("slot", slotID).Msg("failed to bind user to slot")
	}

	other, err := f.deps.Store.Account(ctx, sessionID, account.Other())
	if err != nil {
		return Result{}, errors.Wrap(err, "[Flow.completeProfile]")
	}
	self := AccountView{Account: account, Authenticated: true}
	next := NextStep(self, viewOf(account.Other(), other))

	log.Info().Str("user", profile.ID).Str("slot", slotID).Stringer("next", next.Kind).Msg("account authenticated")
	return Result{Account: account, Profile: profile, SlotID: slotID, Next: next}, nil
}

// RetryProfile reloads the profile of an account that already holds tokens, refreshing
// them first when needed, without another authorization round trip.
func (f *Flow) RetryProfile(ctx context.Context, sessionID string, account sessions.Account) (Result, error) {
	unlock := f.lock(sessionID, account)
	defer unlock()

	tokens, err := f.deps.Refresher.EnsureFresh(ctx, sessionID, account)
	if err != nil {
		return Result{}, err
	}
	state, err := f.deps.Store.Account(ctx, sessionID, account)
	if err != nil {
		return Result{}, errors.Wrap(err, "[Flow.RetryProfile]")
	}

	log := f.logger.With().Str("session", sessionID).Stringer("account", account).Logger()
	return f.completeProfile(ctx, log, sessionID, account, tokens, state.SlotID)
}

// Status is the sign-in state of both accounts, as reported to the browser.
type Status struct {
	SourceAuthenticated bool                  `json:"sourceAuthenticated"`
	DestAuthenticated   bool                  `json:"destAuthenticated"`
	SourceUser          *sessions.UserProfile `json:"sourceUser"`
	DestUser            *sessions.UserProfile `json:"destUser"`
}

func (f *Flow) Status(ctx context.Context, sessionID string) (Status, error) {
	session, err := f.deps.Store.Session(ctx, sessionID)
	if err != nil {
		return Status{}, errors.Wrap(err, "[Flow.Status]")
	}
	return Status{
		SourceAuthenticated: session.Source.Profile != nil,
		DestAuthenticated:   session.Destination.Profile != nil,
		SourceUser:          session.Source.Profile,
		DestUser:            session.Destination.Profile,
	}, nil
}

// Logout signs one account out, leaving the other signed in.
func (f *Flow) Logout(ctx context.Context, sessionID string, account sessions.Account) error {
	unlock := f.lock(sessionID, account)
	defer unlock()

	if err := f.deps.Store.Clear(ctx, sessionID, account); err != nil {
		return errors.Wrap(err, "[Flow.Logout]")
	}
	f.logger.Info().Str("session", sessionID).Stringer("account", account).Msg("account signed out")
	return nil
}

func (f *Flow) LogoutAll(ctx context.Context, sessionID string) error {
	if err := f.deps.Store.ClearBoth(ctx, sessionID); err != nil {
		return errors.Wrap(err, "[Flow.LogoutAll]")
	}
	f.logger.Info().Str("session", sessionID).Msg("session signed out")
	return nil
}
