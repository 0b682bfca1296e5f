package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	PoolConfig
	StorageConfig
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
	Pool
	Storage
}

// New loads the configuration from the process environment.
func New() (Config, error) {
	return Load(environMap(os.Environ()))
}

// Load parses the configuration from the given environment map. Pool slots are read from
// POOL_SLOTS_FILE when set, otherwise from the numbered SPOTIFY_* variables.
func Load(environ map[string]string) (Config, error) {
	c := &mainConfig{}
	opts := env.Options{Environment: environ}
	for _, target := range []any{&c.EnvVars, &c.Cors, &c.OAuth, &c.Security, &c.Pool, &c.Storage} {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return nil, errors.Wrap(err, "[config.Load] parse env")
		}
	}

	slots, err := loadSlots(c.Pool, environ)
	if err != nil {
		return nil, errors.Wrap(err, "[config.Load] pool slots")
	}
	c.Pool.slots = slots
	return c, nil
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
