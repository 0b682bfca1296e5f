package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	"github.com/tomzdev/spotify-migration-tool/apppool/boltrepo"
	poolrepofakes "github.com/tomzdev/spotify-migration-tool/apppool/repofakes"
	"github.com/tomzdev/spotify-migration-tool/apppool/sqliterepo"
	"github.com/tomzdev/spotify-migration-tool/auth"
	"github.com/tomzdev/spotify-migration-tool/internal/config"
	"github.com/tomzdev/spotify-migration-tool/provider"
	"github.com/tomzdev/spotify-migration-tool/server"
	"github.com/tomzdev/spotify-migration-tool/sessions"
	"github.com/tomzdev/spotify-migration-tool/sessions/redisrepo"
	sessionrepofakes "github.com/tomzdev/spotify-migration-tool/sessions/repofakes"
	"github.com/tomzdev/spotify-migration-tool/token/refresh"
)

const sessionSweepInterval = 10 * time.Minute

// application is the wired service plus the resources to release on shutdown.
type application struct {
	handler http.Handler
	closers []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func bootstrap(ctx context.Context, c config.Config, logger zerolog.Logger) (*application, error) {
	app := &application{}

	poolRepo, closePool, err := openPoolRepo(c)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closePool)

	slots := slotsFromConfig(c)
	if len(slots) == 0 {
		logger.Warn().Msg("no app slots configured, every login will fail")
	}
	pool, err := apppool.New(ctx, slots, poolRepo, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("apppool.New: %w", err)
	}

	sessionRepo, closeSessions, err := openSessionRepo(ctx, c, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	app.closers = append(app.closers, closeSessions)

	client, err := provider.New(ctx, c, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("provider.New: %w", err)
	}

	store := sessions.NewTokenStore(sessionRepo, logger)
	refresher := refresh.New(store, pool, client, logger)
	flow, err := auth.NewFlow(auth.Deps{
		Store:     store,
		Pool:      pool,
		Provider:  client,
		Refresher: refresher,
	}, logger, auth.WithStateTimeout(c.GetStateTimeout()), auth.WithNonceLength(c.GetNonceLength()))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("auth.NewFlow: %w", err)
	}

	srv, err := server.New(c, server.Services{Flow: flow, Refresher: refresher, Pool: pool}, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("server.New: %w", err)
	}
	app.handler = srv

	stats := pool.UsageStats()
	logger.Info().
		Int("slots", len(slots)).
		Int("users", stats.TotalUsers).
		Int("capacity", stats.TotalCapacity).
		Str("poolStore", c.GetPoolStore()).
		Str("sessionStore", c.GetSessionStore()).
		Msg("service ready")
	return app, nil
}

// slotsFromConfig turns the configured clients into pool slots. A slot without a
// redirect URI gets the service's own per-account callback.
func slotsFromConfig(c config.Config) []apppool.Slot {
	defaultRedirect := strings.TrimRight(c.GetBaseURL(), "/") + "/callback/" + apppool.AccountPlaceholder
	var slots []apppool.Slot
	for _, sc := range c.GetSlots() {
		redirect := sc.RedirectURI
		if redirect == "" {
			redirect = defaultRedirect
		}
		slots = append(slots, apppool.Slot{
			ID:           sc.ID,
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			RedirectURI:  redirect,
			MaxUsers:     sc.MaxUsers,
			Active:       sc.IsActive(),
		})
	}
	return slots
}

func openPoolRepo(c config.StorageConfig) (apppool.Repo, func() error, error) {
	switch c.GetPoolStore() {
	case config.PoolStoreBolt:
		repo, err := boltrepo.Open(c.GetPoolStorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("boltrepo.Open: %w", err)
		}
		return repo, repo.Close, nil
	case config.PoolStoreSQLite:
		repo, err := sqliterepo.Open(c.GetPoolStorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("sqliterepo.Open: %w", err)
		}
		return repo, repo.Close, nil
	case config.PoolStoreMemory:
		return poolrepofakes.NewFakePoolRepo(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown POOL_STORE %q", c.GetPoolStore())
}

type sessionConfig interface {
	config.StorageConfig
	config.SecurityConfig
}

// openSessionRepo returns the session store. The in-memory store is swept on a timer;
// redis expires sessions by itself.
func openSessionRepo(ctx context.Context, c sessionConfig, logger zerolog.Logger) (sessions.Repo, func() error, error) {
	switch c.GetSessionStore() {
	case config.SessionStoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", c.GetRedisAddr(), err)
		}
		return redisrepo.New(rdb, "", c.GetMaxSessionAge()), rdb.Close, nil
	case config.SessionStoreMemory:
		repo := sessionrepofakes.NewFakeSessionRepo()
		go sweepSessions(ctx, repo, c.GetMaxSessionAge(), logger)
		return repo, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", c.GetSessionStore())
}

func sweepSessions(ctx context.Context, repo *sessionrepofakes.FakeSessionRepo, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := repo.DeleteExpiredSessions(now.Add(-maxAge)); removed > 0 {
				logger.Info().Int("removed", removed).Msg("expired sessions swept")
			}
		}
	}
}
