package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	"github.com/tomzdev/spotify-migration-tool/auth"
	"github.com/tomzdev/spotify-migration-tool/internal/config"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	"github.com/tomzdev/spotify-migration-tool/token/jwt"
)

// Freshener hands out usable access tokens for the migration client.
type Freshener interface {
	EnsureFresh(ctx context.Context, sessionID string, account sessions.Account) (sessions.TokenSet, error)
}

// PoolAdmin is the operator view of the app pool.
type PoolAdmin interface {
	UsageStats() apppool.Stats
	Overloaded() []apppool.Overload
	SetActive(slotID string, active bool) error
	ReleaseUser(ctx context.Context, userID string) error
}

// Services holds the domain services the handlers call into
type Services struct {
	Flow      *auth.Flow
	Refresher Freshener
	Pool      PoolAdmin
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	flow    *auth.Flow
	tokens  Freshener
	pool    PoolAdmin
	limiter *clientLimiter
	admins  *jwt.Creator
	logger  zerolog.Logger
}

func New(cfg config.Config, services Services, logger zerolog.Logger) (*Server, error) {
	if services.Flow == nil {
		return nil, errors.New("[Server New] auth flow is required")
	}
	if services.Refresher == nil {
		return nil, errors.New("[Server New] refresher is required")
	}
	if services.Pool == nil {
		return nil, errors.New("[Server New] pool is required")
	}

	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
		flow:   services.Flow,
		tokens: services.Refresher,
		pool:   services.Pool,
		logger: logger.With().Str("component", "server").Logger(),
	}
	if cfg.GetEnableRateLimiting() {
		s.limiter = newClientLimiter(cfg.GetRateLimitPerMinute(), cfg.GetRateLimitBurst())
	}

	if secret := cfg.GetAdminJWTSecret(); secret != "" {
		admins, err := jwt.NewCreator(secret, cfg.GetAppName(), jwt.DefaultTTL)
		if err != nil {
			return nil, errors.Wrap(err, "[Server New]")
		}
		s.admins = admins
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logger.Info().Msg(formatRoute(parts[0], parts[1]))
		} else {
			s.logger.Info().Msg(formatRoute("", parts[0]))
		}
	}
}

func formatRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	return fmt.Sprintf("[%s] %s", color+paddedMethod+ResetColor, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
