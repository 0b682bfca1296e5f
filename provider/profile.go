package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	"golang.org/x/oauth2"
)

const maxProfileBody = 1 << 20

// apiError is the error envelope of the Web API, e.g. {"error":{"status":403,"message":"..."}}.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchProfile loads the profile of the user owning the access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (sessions.UserProfile, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if c.oidc != nil {
		return c.fetchUserInfo(ctx, accessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return sessions.UserProfile{}, errors.Wrap(err, "[provider.FetchProfile] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sessions.UserProfile{}, autherrors.Classify("FetchProfile", "", "", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return sessions.UserProfile{}, autherrors.Classify("FetchProfile", "", "", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		return sessions.UserProfile{}, autherrors.Classify("FetchProfile", "", apiErr.Error.Message, resp.StatusCode, nil)
	}

	var profile sessions.UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return sessions.UserProfile{}, errors.Wrap(err, "[provider.FetchProfile] decode profile")
	}
	if profile.ID == "" {
		return sessions.UserProfile{}, errors.New("[provider.FetchProfile] profile has no id")
	}
	return profile, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (sessions.UserProfile, error) {
	info, err := c.oidc.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return sessions.UserProfile{}, autherrors.Classify("FetchProfile", "", "", 0, err)
	}

	var claims struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Locale  string `json:"locale"`
	}
	if err := info.Claims(&claims); err != nil {
		return sessions.UserProfile{}, errors.Wrap(err, "[provider.fetchUserInfo] claims")
	}

	profile := sessions.UserProfile{
		ID:          info.Subject,
		Email:       info.Email,
		DisplayName: claims.Name,
		Country:     claims.Locale,
	}
	if claims.Picture != "" {
		profile.Images = []sessions.Image{{URL: claims.Picture}}
	}
	return profile, nil
}
