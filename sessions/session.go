package sessions

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
)

// Account names one of the two logins held by a browser session.
type Account string

const (
	Source      Account = "source"
	Destination Account = "destination"
)

// Accounts lists both accounts in the order they are usually authenticated.
var Accounts = [...]Account{Source, Destination}

// ParseAccount accepts "source", "destination" and the short form "dest".
func ParseAccount(s string) (Account, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Source):
		return Source, nil
	case string(Destination), "dest":
		return Destination, nil
	}
	return "", errors.Wrapf(autherrors.ErrInvalidAccount, "[sessions.ParseAccount] %q", s)
}

// Other returns the counterpart account.
func (a Account) Other() Account {
	if a == Source {
		return Destination
	}
	return Source
}

func (a Account) String() string {
	return string(a)
}

// TokenSet is the credential material for one account. It is always replaced
// wholesale, never patched.
type TokenSet struct {
	AccessToken         string `json:"accessToken"`
	RefreshToken        string `json:"refreshToken"`
	ExpiresInSeconds    int64  `json:"expiresIn"`
	IssuedAtEpochMillis int64  `json:"issuedAt"`
	Scope               string `json:"scope,omitempty"`
}

func (t TokenSet) ExpiresAt() time.Time {
	return time.UnixMilli(t.IssuedAtEpochMillis).Add(time.Duration(t.ExpiresInSeconds) * time.Second)
}

// IsExpired is true from the expiry instant onwards.
func (t TokenSet) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// Scopes splits the space separated scope string granted by the provider.
func (t TokenSet) Scopes() []string {
	return strings.Fields(t.Scope)
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// UserProfile is the subset of the provider's "current user" document the app keeps.
type UserProfile struct {
	ID          string  `json:"id"`
	Email       string  `json:"email,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Country     string  `json:"country,omitempty"`
	Product     string  `json:"product,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// UserKey identifies the user in the app pool: the email when the provider shares it,
// the provider user id otherwise.
func (p UserProfile) UserKey() string {
	if p.Email != "" {
		return strings.ToLower(p.Email)
	}
	return p.ID
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingCallback
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingCallback:
		return "awaiting_callback"
	case PhaseAuthenticated:
		return "authenticated"
	}
	return "idle"
}

// AccountState is everything stored for one account of a session.
type AccountState struct {
	Tokens       *TokenSet    `json:"tokens,omitempty"`
	Profile      *UserProfile `json:"profile,omitempty"`
	PendingNonce string       `json:"pendingNonce,omitempty"`
	PendingSince time.Time    `json:"pendingSince,omitzero"`
	SlotID       string       `json:"slotId,omitempty"`
}

// Phase derives the login phase. Tokens without a cached profile do not count as
// authenticated until the profile is loaded.
func (s AccountState) Phase() Phase {
	switch {
	case s.Ready():
		return PhaseAuthenticated
	case s.PendingNonce != "":
		return PhaseAwaitingCallback
	}
	return PhaseIdle
}

// Ready reports whether the account has tokens and a cached profile.
func (s AccountState) Ready() bool {
	return s.Tokens != nil && s.Profile != nil
}

func (s AccountState) IsZero() bool {
	return s.Tokens == nil && s.Profile == nil && s.PendingNonce == "" && s.SlotID == ""
}

// AuthSession groups both accounts of one browser session.
type AuthSession struct {
	ID          string       `json:"id"`
	Source      AccountState `json:"source"`
	Destination AccountState `json:"destination"`
}

func (s AuthSession) Account(a Account) AccountState {
	if a == Destination {
		return s.Destination
	}
	return s.Source
}
