// Package provider talks to the OAuth provider on behalf of one app slot at a time:
// authorize URLs, code exchange, refresh and the current user's profile.
package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	"github.com/tomzdev/spotify-migration-tool/internal/config"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/internal/logging"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	"golang.org/x/oauth2"
)

// NowTimeFunc stamps the issue time of new token sets. It can be overridden in tests.
var NowTimeFunc = time.Now

// Client is safe for concurrent use. Credentials are passed per call because every
// slot is a separate OAuth client.
type Client struct {
	endpoint   oauth2.Endpoint
	profileURL string
	scopes     []string
	showDialog bool
	timeout    time.Duration
	httpClient *http.Client
	oidc       *oidc.Provider
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the client used for every provider call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New builds a client from the OAuth config. When an issuer is configured the endpoints
// and the userinfo profile come from OIDC discovery instead of the explicit URLs.
func New(ctx context.Context, cfg config.OAuthConfig, logger zerolog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint: oauth2.Endpoint{
			AuthURL:   cfg.GetAuthURL(),
			TokenURL:  cfg.GetTokenURL(),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		profileURL: cfg.GetProfileURL(),
		scopes:     cfg.GetScopes(),
		showDialog: cfg.GetShowDialog(),
		timeout:    cfg.GetProviderTimeout(),
		httpClient: http.DefaultClient,
		logger:     logger.With().Str("component", "provider").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if issuer := cfg.GetIssuerURL(); issuer != "" {
		discoveryCtx, cancel := c.callContext(ctx)
		defer cancel()

		p, err := oidc.NewProvider(discoveryCtx, issuer)
		if err != nil {
			return nil, errors.Wrapf(err, "[provider.New] oidc discovery for %s", issuer)
		}
		c.oidc = p
		c.endpoint = p.Endpoint()
		c.logger.Info().Str("issuer", issuer).Str("tokenURL", c.endpoint.TokenURL).Msg("using discovered OIDC endpoints")
	}

	if c.endpoint.AuthURL == "" || c.endpoint.TokenURL == "" {
		return nil, errors.New("[provider.New] authorize and token URLs are required")
	}
	return c, nil
}

func (c *Client) oauthConfig(creds apppool.Credentials, account sessions.Account) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  creds.RedirectFor(string(account)),
		Scopes:       c.scopes,
	}
}

// callContext bounds a provider call and routes it through the configured HTTP client.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ctx = oidc.ClientContext(ctx, c.httpClient)
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// AuthCodeURL builds the authorize redirect for the slot's credentials.
func (c *Client) AuthCodeURL(creds apppool.Credentials, account sessions.Account, state string) string {
	var opts []oauth2.AuthCodeOption
	if c.showDialog {
		opts = append(opts, oauth2.SetAuthURLParam("show_dialog", "true"))
	}
	return c.oauthConfig(creds, account).AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens. It must use the same credentials
// and redirect URI that built the authorize URL.
func (c *Client) Exchange(ctx context.Context, creds apppool.Credentials, account sessions.Account, code string) (sessions.TokenSet, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	c.logger.Debug().
		Str("slot", creds.SlotID).
		Str("clientID", logging.Prefix(creds.ClientID, 5)).
		Str("code", logging.Prefix(code, 5)).
		Stringer("account", account).
		Msg("exchanging authorization code")

	tok, err := c.oauthConfig(creds, account).Exchange(ctx, code)
	if err != nil {
		return sessions.TokenSet{}, classify("Exchange", err)
	}
	return toTokenSet(tok), nil
}

// Refresh redeems a refresh token. The returned set carries the old refresh token
// when the provider did not rotate it.
func (c *Client) Refresh(ctx context.Context, creds apppool.Credentials, refreshToken string) (sessions.TokenSet, error) {
	if refreshToken == "" {
		return sessions.TokenSet{}, errors.New("[provider.Refresh] no refresh token")
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	conf := c.oauthConfig(creds, "")
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return sessions.TokenSet{}, classify("Refresh", err)
	}

	ts := toTokenSet(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func toTokenSet(tok *oauth2.Token) sessions.TokenSet {
	now := NowTimeFunc()
	ts := sessions.TokenSet{
		AccessToken:         tok.AccessToken,
		RefreshToken:        tok.RefreshToken,
		ExpiresInSeconds:    expiresIn(tok),
		IssuedAtEpochMillis: now.UnixMilli(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// expiresIn prefers the raw expires_in of the token response over the computed expiry.
func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int64(math.Round(time.Until(tok.Expiry).Seconds()))
}

// classify turns an oauth2 failure into a ProviderError carrying the provider's code,
// description and status.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return autherrors.Classify(op, re.ErrorCode, re.ErrorDescription, status, err)
	}
	return autherrors.Classify(op, "", "", 0, err)
}
