package config

import (
	"fmt"
	"os"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// maxNumberedSlots bounds the scan over SPOTIFY_CLIENT_ID_<n> variables.
const maxNumberedSlots = 64

// SlotConfig is one registered OAuth client as supplied out-of-band.
type SlotConfig struct {
	ID           string `toml:"id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	MaxUsers     int    `toml:"max_users"`
	Active       *bool  `toml:"active"`
}

// IsActive defaults to true when the slot file does not say otherwise.
func (s SlotConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

type slotsFile struct {
	Slots []SlotConfig `toml:"slots"`
}

type PoolConfig interface {
	GetSlots() []SlotConfig
	GetDefaultMaxUsers() int
}

type Pool struct {
	SlotsFile       string `env:"POOL_SLOTS_FILE"`
	DefaultMaxUsers int    `env:"POOL_DEFAULT_MAX_USERS" envDefault:"25"`

	slots []SlotConfig
}

var _ PoolConfig = Pool{}

func (p Pool) GetSlots() []SlotConfig {
	return p.slots
}

// GetDefaultMaxUsers matches the provider's development-mode cap
func (p Pool) GetDefaultMaxUsers() int {
	return p.DefaultMaxUsers
}

func loadSlots(p Pool, environ map[string]string) ([]SlotConfig, error) {
	var slots []SlotConfig
	if p.SlotsFile != "" {
		data, err := os.ReadFile(p.SlotsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p.SlotsFile)
		}
		var f slotsFile
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrapf(err, "decode %s", p.SlotsFile)
		}
		slots = f.Slots
	} else {
		slots = slotsFromEnv(environ)
	}

	seen := make(map[string]struct{}, len(slots))
	configured := slots[:0]
	for i, s := range slots {
		if s.ClientID == "" || s.ClientSecret == "" {
			continue // unconfigured slots are skipped
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("app%d", i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate slot id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.MaxUsers <= 0 {
			s.MaxUsers = p.DefaultMaxUsers
		}
		configured = append(configured, s)
	}
	return configured, nil
}

// slotsFromEnv reads SPOTIFY_CLIENT_ID_<n>, SPOTIFY_CLIENT_SECRET_<n>, SPOTIFY_REDIRECT_URI_<n>
// and SPOTIFY_MAX_USERS_<n>. A single unnumbered SPOTIFY_CLIENT_ID set is accepted as app1.
func slotsFromEnv(environ map[string]string) []SlotConfig {
	var slots []SlotConfig
	for n := 1; n <= maxNumberedSlots; n++ {
		suffix := "_" + strconv.Itoa(n)
		clientID, ok := environ["SPOTIFY_CLIENT_ID"+suffix]
		if !ok {
			continue
		}
		maxUsers, _ := strconv.Atoi(environ["SPOTIFY_MAX_USERS"+suffix])
		slots = append(slots, SlotConfig{
			ID:           "app" + strconv.Itoa(n),
			ClientID:     clientID,
			ClientSecret: environ["SPOTIFY_CLIENT_SECRET"+suffix],
			RedirectURI:  environ["SPOTIFY_REDIRECT_URI"+suffix],
			MaxUsers:     maxUsers,
		})
	}
	if len(slots) == 0 && environ["SPOTIFY_CLIENT_ID"] != "" {
		slots = append(slots, SlotConfig{
			ID:           "app1",
			ClientID:     environ["SPOTIFY_CLIENT_ID"],
			ClientSecret: environ["SPOTIFY_CLIENT_SECRET"],
			RedirectURI:  environ["SPOTIFY_REDIRECT_URI"],
		})
	}
	return slots
}
