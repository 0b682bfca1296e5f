package config

import "time"

type SecurityConfig interface {
	GetMaxSessionAge() time.Duration
	GetEnableRateLimiting() bool
	GetRateLimitPerMinute() int
	GetRateLimitBurst() int
	GetAdminKeyHash() string
	GetAdminJWTSecret() string
}

type Security struct {
	MaxSessionAge      time.Duration `env:"SESSION_MAX_AGE"       envDefault:"24h"`
	EnableRateLimiting bool          `env:"RATE_LIMIT_ENABLED"    envDefault:"true"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST"      envDefault:"10"`
	AdminKeyHash       string        `env:"ADMIN_KEY_HASH"`
	AdminJWTSecret     string        `env:"ADMIN_JWT_SECRET"`
}

var _ SecurityConfig = Security{}

func (s Security) GetMaxSessionAge() time.Duration {
	return s.MaxSessionAge
}

func (s Security) GetEnableRateLimiting() bool {
	return s.EnableRateLimiting
}

func (s Security) GetRateLimitPerMinute() int {
	return s.RateLimitPerMinute
}

func (s Security) GetRateLimitBurst() int {
	return s.RateLimitBurst
}

// GetAdminKeyHash is the bcrypt hash of the X-Admin-Key accepted on admin routes
func (s Security) GetAdminKeyHash() string {
	return s.AdminKeyHash
}

// GetAdminJWTSecret is the HS256 key for admin bearer tokens
func (s Security) GetAdminJWTSecret() string {
	return s.AdminJWTSecret
}
