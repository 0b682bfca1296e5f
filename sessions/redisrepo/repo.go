// Package redisrepo stores sessions in Redis: one hash per session, one JSON field per
// account, with the key TTL renewed on every write.
package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/tomzdev/spotify-migration-tool/sessions"
)

var _ sessions.Repo = (*Repo)(nil)

const defaultPrefix = "bridge:session:"

type Repo struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New builds the repo. A zero ttl leaves keys without expiry.
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Repo {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Repo{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Repo) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *Repo) GetAccount(ctx context.Context, sessionID string, account sessions.Account) (sessions.AccountState, error) {
	raw, err := r.rdb.HGet(ctx, r.key(sessionID), string(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sessions.AccountState{}, nil
	}
	if err != nil {
		return sessions.AccountState{}, errors.Wrap(err, "[redisrepo.GetAccount]")
	}

	var state sessions.AccountState
	if err := json.Unmarshal(raw, &state); err != nil {
		return sessions.AccountState{}, errors.Wrap(err, "[redisrepo.GetAccount] decode")
	}
	return state, nil
}

func (r *Repo) PutAccount(ctx context.Context, sessionID string, account sessions.Account, state sessions.AccountState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "[redisrepo.PutAccount] encode")
	}

	key := r.key(sessionID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(account), raw)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return errors.Wrap(err, "[redisrepo.PutAccount]")
}

func (r *Repo) DeleteAccount(ctx context.Context, sessionID string, account sessions.Account) error {
	err := r.rdb.HDel(ctx, r.key(sessionID), string(account)).Err()
	return errors.Wrap(err, "[redisrepo.DeleteAccount]")
}

func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	err := r.rdb.Del(ctx, r.key(sessionID)).Err()
	return errors.Wrap(err, "[redisrepo.Delete]")
}
