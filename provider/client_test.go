package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	"github.com/tomzdev/spotify-migration-tool/internal/config"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/provider"
	"github.com/tomzdev/spotify-migration-tool/sessions"
)

var testCreds = apppool.Credentials{
	ClientID:     "client-1",
	ClientSecret: "secret-1",
	RedirectURI:  "http://127.0.0.1:8080/callback/{account}",
	SlotID:       "app1",
}

type fakeProvider struct {
	*httptest.Server
	tokenCalls atomic.Int32
	rotate     atomic.Bool
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		fp.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != testCreds.ClientID || secret != testCreds.ClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("redirect_uri") != "http://127.0.0.1:8080/callback/source" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid redirect URI"})
				return
			}
			switch r.Form.Get("code") {
			case "good-code":
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token":  "access-1",
					"token_type":    "Bearer",
					"expires_in":    3600,
					"refresh_token": "refresh-1",
					"scope":         "user-read-email playlist-read-private",
				})
			case "scope-code":
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_scope"})
			default:
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid authorization code"})
			}
		case "refresh_token":
			if r.Form.Get("refresh_token") != "refresh-1" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Refresh token revoked"})
				return
			}
			body := map[string]any{"access_token": "access-2", "token_type": "Bearer", "expires_in": 1800}
			if fp.rotate.Load() {
				body["refresh_token"] = "refresh-2"
			}
			writeJSON(w, http.StatusOK, body)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer access-1":
			writeJSON(w, http.StatusOK, map[string]any{
				"id":           "alice",
				"email":        "alice@example.com",
				"display_name": "Alice",
				"country":      "IT",
				"product":      "premium",
				"images":       []map[string]any{{"url": "https://i.example.com/a.jpg", "height": 64, "width": 64}},
			})
		case "Bearer restricted":
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"status": 403, "message": "User not registered in the Developer Dashboard"}})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"status": 401, "message": "Invalid access token"}})
		}
	})
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) config() config.OAuth {
	return config.OAuth{
		AuthURL:         fp.URL + "/authorize",
		TokenURL:        fp.URL + "/api/token",
		ProfileURL:      fp.URL + "/v1/me",
		Scopes:          []string{"user-read-email", "playlist-read-private"},
		ShowDialog:      true,
		ProviderTimeout: time.Second,
		StateTimeout:    15 * time.Minute,
	}
}

func newTestClient(t *testing.T, cfg config.OAuth) *provider.Client {
	t.Helper()
	c, err := provider.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestAuthCodeURL(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config())

	raw := c.AuthCodeURL(testCreds, sessions.Destination, "destination-nonce")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	require.Equal(t, fp.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "destination-nonce", q.Get("state"))
	require.Equal(t, "true", q.Get("show_dialog"))
	require.Equal(t, "user-read-email playlist-read-private", q.Get("scope"))
	require.Equal(t, "http://127.0.0.1:8080/callback/destination", q.Get("redirect_uri"))
}

func TestExchange(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config())

	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	provider.NowTimeFunc = func() time.Time { return issued }
	t.Cleanup(func() { provider.NowTimeFunc = time.Now })

	ts, err := c.Exchange(context.Background(), testCreds, sessions.Source, "good-code")
	require.NoError(t, err)
	require.Equal(t, sessions.TokenSet{
		AccessToken:         "access-1",
		RefreshToken:        "refresh-1",
		ExpiresInSeconds:    3600,
		IssuedAtEpochMillis: issued.UnixMilli(),
		Scope:               "user-read-email playlist-read-private",
	}, ts)
	require.EqualValues(t, 1, fp.tokenCalls.Load())
}

func TestExchangeErrorsAreClassified(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config())

	_, err := c.Exchange(context.Background(), testCreds, sessions.Source, "expired-code")
	require.ErrorIs(t, err, autherrors.ErrProviderError)
	var pe *autherrors.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "invalid_grant", pe.Code)
	require.Equal(t, "Invalid authorization code", pe.Message())
	require.Equal(t, http.StatusBadRequest, pe.StatusCode)

	_, err = c.Exchange(context.Background(), testCreds, sessions.Source, "scope-code")
	require.ErrorIs(t, err, autherrors.ErrInsufficientScope)

	wrongSecret := testCreds
	wrongSecret.ClientSecret = "nope"
	_, err = c.Exchange(context.Background(), wrongSecret, sessions.Source, "good-code")
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "invalid_client", pe.Code)
}

func TestRefresh(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config())

	ts, err := c.Refresh(context.Background(), testCreds, "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", ts.AccessToken)
	require.Equal(t, "refresh-1", ts.RefreshToken, "kept when the provider does not rotate")
	require.EqualValues(t, 1800, ts.ExpiresInSeconds)

	fp.rotate.Store(true)
	ts, err = c.Refresh(context.Background(), testCreds, "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "refresh-2", ts.RefreshToken)

	_, err = c.Refresh(context.Background(), testCreds, "revoked")
	require.ErrorIs(t, err, autherrors.ErrProviderError)

	_, err = c.Refresh(context.Background(), testCreds, "")
	require.Error(t, err)
}

func TestFetchProfile(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config())

	profile, err := c.FetchProfile(context.Background(), "access-1")
	require.NoError(t, err)
	require.Equal(t, "alice", profile.ID)
	require.Equal(t, "alice@example.com", profile.Email)
	require.Equal(t, "Alice", profile.DisplayName)
	require.Equal(t, "premium", profile.Product)
	require.Len(t, profile.Images, 1)

	_, err = c.FetchProfile(context.Background(), "restricted")
	require.ErrorIs(t, err, autherrors.ErrForbidden)
	require.Contains(t, autherrors.UserMessage(err), "test user")

	_, err = c.FetchProfile(context.Background(), "junk")
	require.ErrorIs(t, err, autherrors.ErrProviderError)
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config()
	cfg.ProfileURL = fp.URL + "/slow"
	cfg.ProviderTimeout = 50 * time.Millisecond
	c := newTestClient(t, cfg)

	start := time.Now()
	_, err := c.FetchProfile(context.Background(), "access-1")
	require.ErrorIs(t, err, autherrors.ErrProviderError)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestOIDCDiscovery(t *testing.T) {
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/oauth/authorize",
			"token_endpoint":                        issuer + "/oauth/token",
			"userinfo_endpoint":                     issuer + "/userinfo",
			"jwks_uri":                              issuer + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.Header.Get("Authorization"), " oidc-access") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sub":     "user-42",
			"email":   "bob@example.com",
			"name":    "Bob",
			"picture": "https://i.example.com/b.png",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	issuer = srv.URL

	c := newTestClient(t, config.OAuth{IssuerURL: issuer, ProviderTimeout: time.Second})

	u, err := url.Parse(c.AuthCodeURL(testCreds, sessions.Source, "s"))
	require.NoError(t, err)
	require.Equal(t, "/oauth/authorize", u.Path)

	profile, err := c.FetchProfile(context.Background(), "oidc-access")
	require.NoError(t, err)
	require.Equal(t, sessions.UserProfile{
		ID:          "user-42",
		Email:       "bob@example.com",
		DisplayName: "Bob",
		Images:      []sessions.Image{{URL: "https://i.example.com/b.png"}},
	}, profile)
	require.Equal(t, "bob@example.com", profile.UserKey())

	_, err = provider.New(context.Background(), config.OAuth{IssuerURL: srv.URL + "/missing", ProviderTimeout: time.Second}, zerolog.Nop())
	require.Error(t, err)
}
