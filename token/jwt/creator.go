// Package jwt issues and checks the operator tokens that open the pool admin routes.
package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// RoleAdmin is the role claim the admin routes require.
const RoleAdmin = "admin"

// DefaultTTL is how long an issued admin token stays valid.
const DefaultTTL = time.Hour

var ErrNotAdmin = errors.New("token does not carry the admin role")

// Claims is the payload of an admin token.
type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// Creator signs and verifies HS256 admin tokens with a shared secret.
type Creator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewCreator(secret, issuer string, ttl time.Duration) (*Creator, error) {
	if secret == "" {
		return nil, errors.New("[jwt.NewCreator] secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Creator{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// CreateAdminToken issues a token for the named operator.
func (c *Creator) CreateAdminToken(subject string) (string, error) {
	now := NowTimeFunc()
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(), // Unique token ID for audit logs
		},
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm and expiry of raw, then the role claim.
// A well-signed token without the admin role fails with ErrNotAdmin.
func (c *Creator) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[jwt.Verify]")
	}
	if claims.Role != RoleAdmin {
		return claims, ErrNotAdmin
	}
	return claims, nil
}
