package config

import "time"

// DefaultScopes are the Spotify scopes needed to read a library on one account and
// write it to the other.
var DefaultScopes = []string{
	"user-read-private",
	"user-read-email",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
	"user-library-read",
	"user-library-modify",
	"user-follow-read",
	"user-follow-modify",
	"ugc-image-upload",
}

type OAuthConfig interface {
	GetAuthURL() string
	GetTokenURL() string
	GetProfileURL() string
	GetIssuerURL() string
	GetScopes() []string
	GetShowDialog() bool
	GetProviderTimeout() time.Duration
	GetStateTimeout() time.Duration
	GetNonceLength() int
}

type OAuth struct {
	AuthURL         string        `env:"PROVIDER_AUTH_URL"    envDefault:"https://accounts.spotify.com/authorize"`
	TokenURL        string        `env:"PROVIDER_TOKEN_URL"   envDefault:"https://accounts.spotify.com/api/token"`
	ProfileURL      string        `env:"PROVIDER_PROFILE_URL" envDefault:"https://api.spotify.com/v1/me"`
	IssuerURL       string        `env:"PROVIDER_ISSUER"`
	Scopes          []string      `env:"PROVIDER_SCOPES"      envSeparator:","`
	ShowDialog      bool          `env:"PROVIDER_SHOW_DIALOG" envDefault:"true"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT"     envDefault:"10s"`
	StateTimeout    time.Duration `env:"STATE_TIMEOUT"        envDefault:"15m"`
}

var _ OAuthConfig = OAuth{}

func (o OAuth) GetAuthURL() string {
	return o.AuthURL
}

func (o OAuth) GetTokenURL() string {
	return o.TokenURL
}

func (o OAuth) GetProfileURL() string {
	return o.ProfileURL
}

// GetIssuerURL enables OIDC discovery of the endpoints and the userinfo profile when set
func (o OAuth) GetIssuerURL() string {
	return o.IssuerURL
}

func (o OAuth) GetScopes() []string {
	if len(o.Scopes) == 0 {
		return DefaultScopes
	}
	return o.Scopes
}

// GetShowDialog forces the consent screen so a different account can be picked each time
func (o OAuth) GetShowDialog() bool {
	return o.ShowDialog
}

func (o OAuth) GetProviderTimeout() time.Duration {
	return o.ProviderTimeout
}

func (o OAuth) GetStateTimeout() time.Duration {
	return o.StateTimeout
}

func (OAuth) GetNonceLength() int {
	return 32
}
