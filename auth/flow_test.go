package auth_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	poolrepofakes "github.com/tomzdev/spotify-migration-tool/apppool/repofakes"
	"github.com/tomzdev/spotify-migration-tool/auth"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	sessionrepofakes "github.com/tomzdev/spotify-migration-tool/sessions/repofakes"
	"github.com/tomzdev/spotify-migration-tool/token/refresh"
)

const testSessionID = "0b1f3c52-1111-4c8e-9d7a-1f2e3d4c5b6a"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider records calls and answers from its fields.
type fakeProvider struct {
	mu           sync.Mutex
	exchangeErr  error
	profileErr   error
	profile      sessions.UserProfile
	exchanges    []apppool.Credentials
	profileCalls int
}

func (p *fakeProvider) AuthCodeURL(creds apppool.Credentials, account sessions.Account, state string) string {
	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("state", state)
	q.Set("redirect_uri", creds.RedirectFor(string(account)))
	q.Set("show_dialog", "true")
	return "https://accounts.example.com/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, creds apppool.Credentials, _ sessions.Account, code string) (sessions.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges = append(p.exchanges, creds)
	if p.exchangeErr != nil {
		return sessions.TokenSet{}, p.exchangeErr
	}
	return sessions.TokenSet{
		AccessToken:         "access-" + code,
		RefreshToken:        "refresh-" + code,
		ExpiresInSeconds:    3600,
		IssuedAtEpochMillis: testNow.UnixMilli(),
		Scope:               "user-read-email",
	}, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ string) (sessions.UserProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profileCalls++
	if p.profileErr != nil {
		return sessions.UserProfile{}, p.profileErr
	}
	return p.profile, nil
}

func (p *fakeProvider) Refresh(_ context.Context, _ apppool.Credentials, refreshToken string) (sessions.TokenSet, error) {
	return sessions.TokenSet{AccessToken: "refreshed", RefreshToken: refreshToken, ExpiresInSeconds: 3600}, nil
}

type testFixture struct {
	store    *sessions.TokenStore
	pool     *apppool.Pool
	provider *fakeProvider
	flow     *auth.Flow
	now      time.Time
}

func setupTestFixture(t *testing.T, slots ...apppool.Slot) *testFixture {
	t.Helper()

	if len(slots) == 0 {
		slots = []apppool.Slot{
			{ID: "app1", ClientID: "client-1", ClientSecret: "secret-1", RedirectURI: "http://127.0.0.1/callback/{account}", MaxUsers: 1, Active: true},
			{ID: "app2", ClientID: "client-2", ClientSecret: "secret-2", RedirectURI: "http://127.0.0.1/callback/{account}", MaxUsers: 1, Active: true},
		}
	}
	pool, err := apppool.New(context.Background(), slots, poolrepofakes.NewFakePoolRepo(), zerolog.Nop())
	require.NoError(t, err)

	store := sessions.NewTokenStore(sessionrepofakes.NewFakeSessionRepo(), zerolog.Nop())
	provider := &fakeProvider{profile: sessions.UserProfile{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"}}

	f := &testFixture{store: store, pool: pool, provider: provider, now: testNow}
	flow, err := auth.NewFlow(auth.Deps{
		Store:     store,
		Pool:      pool,
		Provider:  provider,
		Refresher: refresh.New(store, pool, provider, zerolog.Nop()),
	}, zerolog.Nop(), auth.WithNowTime(func() time.Time { return f.now }), auth.WithStateTimeout(15*time.Minute))
	require.NoError(t, err)
	f.flow = flow
	return f
}

// beginLogin starts a login and returns the state the provider would echo back.
func (f *testFixture) beginLogin(t *testing.T, account sessions.Account, hint string) (string, url.Values) {
	t.Helper()

	raw, err := f.flow.BeginLogin(context.Background(), testSessionID, account, hint)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state"), u.Query()
}

func (f *testFixture) account(t *testing.T, account sessions.Account) sessions.AccountState {
	t.Helper()
	state, err := f.store.Account(context.Background(), testSessionID, account)
	require.NoError(t, err)
	return state
}

func TestBeginLogin(t *testing.T) {
	f := setupTestFixture(t)

	state, q := f.beginLogin(t, sessions.Source, "")
	require.True(t, strings.HasPrefix(state, "source-"))
	require.Greater(t, len(state), len("source-")+40)
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "true", q.Get("show_dialog"))
	require.Equal(t, "http://127.0.0.1/callback/source", q.Get("redirect_uri"))

	st := f.account(t, sessions.Source)
	require.Equal(t, state, st.PendingNonce)
	require.Equal(t, "app1", st.SlotID)
	require.Equal(t, sessions.PhaseAwaitingCallback, st.Phase())

	account, err := auth.AccountFromState(state)
	require.NoError(t, err)
	require.Equal(t, sessions.Source, account)
}

func TestBeginLoginNoncesAreUnique(t *testing.T) {
	f := setupTestFixture(t)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		state, _ := f.beginLogin(t, sessions.Destination, "")
		require.False(t, seen[state])
		seen[state] = true
	}
}

func TestBeginLoginResetsAccount(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "c1", State: state})
	require.NoError(t, err)

	f.beginLogin(t, sessions.Source, "")
	st := f.account(t, sessions.Source)
	require.Nil(t, st.Tokens)
	require.Nil(t, st.Profile)
}

func TestBeginLoginWithHintUsesBoundSlot(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.pool.AssignUser(context.Background(), "bob@example.com", nil)
	require.NoError(t, err) // app1 now full
	_, err = f.pool.AssignUser(context.Background(), "carol@example.com", nil)
	require.NoError(t, err) // app2 now full

	_, q := f.beginLogin(t, sessions.Source, "Carol@Example.com")
	require.Equal(t, "client-2", q.Get("client_id"))
}

func TestBeginLoginPoolExhausted(t *testing.T) {
	f := setupTestFixture(t, apppool.Slot{ID: "app1", MaxUsers: 1, Active: false})

	_, err := f.flow.BeginLogin(context.Background(), testSessionID, sessions.Source, "")
	require.ErrorIs(t, err, autherrors.ErrPoolExhausted)
	require.True(t, f.account(t, sessions.Source).IsZero())
}

func TestCompleteLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	state, _ := f.beginLogin(t, sessions.Source, "")
	res, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "abc", State: state})
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile.ID)
	require.Equal(t, "app1", res.SlotID)
	require.Equal(t, auth.Decision{Kind: auth.DecisionLoginOther, Account: sessions.Destination}, res.Next)

	st := f.account(t, sessions.Source)
	require.Equal(t, "access-abc", st.Tokens.AccessToken)
	require.Empty(t, st.PendingNonce)
	require.True(t, st.Ready())
	require.Equal(t, "app1", f.pool.Bindings()["alice@example.com"])
	require.Equal(t, []apppool.Credentials{{ClientID: "client-1", ClientSecret: "secret-1", RedirectURI: "http://127.0.0.1/callback/{account}", SlotID: "app1"}}, f.provider.exchanges)

	// Replaying the same callback fails: the nonce is single use.
	_, err = f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "abc", State: state})
	require.ErrorIs(t, err, autherrors.ErrStateMismatch)
}

func TestCompleteLoginBothReady(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	srcState, _ := f.beginLogin(t, sessions.Source, "")
	dstState, _ := f.beginLogin(t, sessions.Destination, "")

	_, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "s", State: srcState})
	require.NoError(t, err)

	f.provider.profile = sessions.UserProfile{ID: "bob", Email: "bob@example.com"}
	res, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Destination, auth.Callback{Code: "d", State: dstState})
	require.NoError(t, err)
	require.Equal(t, auth.DecisionBothReady, res.Next.Kind)

	status, err := f.flow.Status(ctx, testSessionID)
	require.NoError(t, err)
	require.True(t, status.SourceAuthenticated)
	require.True(t, status.DestAuthenticated)
	require.Equal(t, "bob", status.DestUser.ID)
}

func TestCompleteLoginExchangesWithIssuingSlot(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	srcState, _ := f.beginLogin(t, sessions.Source, "")
	// Fill app1 so the destination login is issued by app2.
	_, err := f.pool.AssignUser(ctx, "someone-else", nil)
	require.NoError(t, err)
	dstState, q := f.beginLogin(t, sessions.Destination, "")
	require.Equal(t, "client-2", q.Get("client_id"))

	f.provider.profile = sessions.UserProfile{ID: "dave"}
	res, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Destination, auth.Callback{Code: "d", State: dstState})
	require.NoError(t, err)
	require.Equal(t, "app2", res.SlotID)
	require.Equal(t, "client-2", f.provider.exchanges[0].ClientID)
	require.Equal(t, "app2", f.pool.Bindings()["dave"], "provider id used when no email is shared")

	_, err = f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "s", State: srcState})
	require.NoError(t, err)
	require.Equal(t, "client-1", f.provider.exchanges[1].ClientID)
}

func TestStateMismatchLeavesAccountUntouched(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "c1", State: state})
	require.NoError(t, err)

	// A new attempt is pending while tokens from a previous login exist on the other account.
	pending, _ := f.beginLogin(t, sessions.Destination, "")
	before := f.account(t, sessions.Destination)

	_, err = f.flow.CompleteLogin(ctx, testSessionID, sessions.Destination, auth.Callback{Code: "x", State: "destination-forged"})
	require.ErrorIs(t, err, autherrors.ErrStateMismatch)
	require.Equal(t, "Invalid authentication state", autherrors.UserMessage(err))
	require.Equal(t, before, f.account(t, sessions.Destination))
	require.Equal(t, pending, f.account(t, sessions.Destination).PendingNonce)
	require.NotNil(t, f.account(t, sessions.Source).Tokens)
	require.Empty(t, f.provider.exchanges[1:])

	// A mismatch is reported even when the provider also sent an error.
	_, err = f.flow.CompleteLogin(ctx, testSessionID, sessions.Destination, auth.Callback{Error: "access_denied", State: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrStateMismatch)
	require.Equal(t, pending, f.account(t, sessions.Destination).PendingNonce)
}

func TestCallbackWithoutPendingLogin(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.flow.CompleteLogin(context.Background(), testSessionID, sessions.Source, auth.Callback{Code: "c", State: ""})
	require.ErrorIs(t, err, autherrors.ErrStateMismatch)
}

func TestExpiredStateIsRejected(t *testing.T) {
	f := setupTestFixture(t)

	state, _ := f.beginLogin(t, sessions.Source, "")
	f.now = f.now.Add(16 * time.Minute)

	_, err := f.flow.CompleteLogin(context.Background(), testSessionID, sessions.Source, auth.Callback{Code: "c", State: state})
	require.ErrorIs(t, err, autherrors.ErrStateMismatch)
	require.Empty(t, f.provider.exchanges)
}

func TestProviderErrorParam(t *testing.T) {
	f := setupTestFixture(t)

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(context.Background(), testSessionID, sessions.Source, auth.Callback{
		Error:            "access_denied",
		ErrorDescription: "The user denied the request",
		State:            state,
	})
	require.ErrorIs(t, err, autherrors.ErrProviderError)
	require.Equal(t, "Authentication error: The user denied the request", autherrors.UserMessage(err))

	st := f.account(t, sessions.Source)
	require.Equal(t, sessions.PhaseIdle, st.Phase())
	require.Empty(t, f.provider.exchanges)
}

func TestMissingCode(t *testing.T) {
	f := setupTestFixture(t)

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(context.Background(), testSessionID, sessions.Source, auth.Callback{State: state})
	require.ErrorIs(t, err, autherrors.ErrMissingCode)
	require.Empty(t, f.provider.exchanges)
	require.Nil(t, f.account(t, sessions.Source).Tokens)
}

func TestExchangeFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.exchangeErr = autherrors.Classify("Exchange", "", "", 403, errors.New("oauth2: cannot fetch token"))

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(context.Background(), testSessionID, sessions.Source, auth.Callback{Code: "c", State: state})
	require.ErrorIs(t, err, autherrors.ErrForbidden)

	st := f.account(t, sessions.Source)
	require.Nil(t, st.Tokens)
	require.Empty(t, st.PendingNonce)
	require.Empty(t, f.pool.Bindings())
}

func TestProfileFailureKeepsTokensAndRetries(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.provider.profileErr = autherrors.Classify("FetchProfile", "", "", 502, nil)

	state, _ := f.beginLogin(t, sessions.Source, "")
	_, err := f.flow.CompleteLogin(ctx, testSessionID, sessions.Source, auth.Callback{Code: "c", State: state})
	require.ErrorIs(t, err, autherrors.ErrProfileIncomplete)

	st := f.account(t, sessions.Source)
	require.Equal(t, "access-c", st.Tokens.AccessToken)
	require.Nil(t, st.Profile)
	require.Empty(t, f.pool.Bindings())

	status, err := f.flow.Status(ctx, testSessionID)
	require.NoError(t, err)
	require.False(t, status.SourceAuthenticated)

	f.provider.profileErr = nil
	res, err := f.flow.RetryProfile(ctx, testSessionID, sessions.Source)
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile.ID)
	require.Equal(t, "app1", f.pool.Bindings()["alice@example.com"])
	require.Len(t, f.provider.exchanges, 1, "no second authorization round trip")
}

func TestRetryProfileNotAuthenticated(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.flow.RetryProfile(context.Background(), testSessionID, sessions.Destination)
	require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	profiles := map[sessions.Account]sessions.UserProfile{
		sessions.Source:      {ID: "alice", Email: "alice@example.com"},
		sessions.Destination: {ID: "bob", Email: "bob@example.com"},
	}
	for _, account := range sessions.Accounts {
		f.provider.profile = profiles[account]
		state, _ := f.beginLogin(t, account, "")
		_, err := f.flow.CompleteLogin(ctx, testSessionID, account, auth.Callback{Code: string(account), State: state})
		require.NoError(t, err)
	}

	require.NoError(t, f.flow.Logout(ctx, testSessionID, sessions.Source))
	status, err := f.flow.Status(ctx, testSessionID)
	require.NoError(t, err)
	require.False(t, status.SourceAuthenticated)
	require.True(t, status.DestAuthenticated)

	require.NoError(t, f.flow.LogoutAll(ctx, testSessionID))
	status, err = f.flow.Status(ctx, testSessionID)
	require.NoError(t, err)
	require.Equal(t, auth.Status{}, status)

	// Signing out keeps the pool binding so the user returns to the same slot.
	require.Equal(t, "app1", f.pool.Bindings()["alice@example.com"])
}

func TestConcurrentAccountsDoNotInterfere(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	srcState, _ := f.beginLogin(t, sessions.Source, "")
	dstState, _ := f.beginLogin(t, sessions.Destination, "")

	var wg sync.WaitGroup
	for _, tc := range []struct {
		account sessions.Account
		state   string
	}{{sessions.Source, srcState}, {sessions.Destination, dstState}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.flow.CompleteLogin(ctx, testSessionID, tc.account, auth.Callback{Code: string(tc.account), State: tc.state}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, "access-source", f.account(t, sessions.Source).Tokens.AccessToken)
	require.Equal(t, "access-destination", f.account(t, sessions.Destination).Tokens.AccessToken)
}
