package repofakes

import (
	"context"
	"sync"
	"time"

	"github.com/tomzdev/spotify-migration-tool/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// NowTimeFunc stamps session writes. It can be overridden in tests.
var NowTimeFunc = time.Now

type storedSession struct {
	accounts  map[sessions.Account]sessions.AccountState
	updatedAt time.Time
}

// FakeSessionRepo keeps sessions in process memory. It backs SESSION_STORE=memory
// and the tests.
type FakeSessionRepo struct {
	sessions map[string]*storedSession
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*storedSession),
	}
}

func (r *FakeSessionRepo) GetAccount(_ context.Context, sessionID string, account sessions.Account) (sessions.AccountState, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return sessions.AccountState{}, nil
	}
	return s.accounts[account], nil
}

func (r *FakeSessionRepo) PutAccount(_ context.Context, sessionID string, account sessions.Account, state sessions.AccountState) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &storedSession{accounts: make(map[sessions.Account]sessions.AccountState, 2)}
		r.sessions[sessionID] = s
	}
	s.accounts[account] = state
	s.updatedAt = NowTimeFunc()
	return nil
}

func (r *FakeSessionRepo) DeleteAccount(_ context.Context, sessionID string, account sessions.Account) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(s.accounts, account)
	if len(s.accounts) == 0 {
		delete(r.sessions, sessionID)
	}
	return nil
}

func (r *FakeSessionRepo) Delete(_ context.Context, sessionID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// DeleteExpiredSessions removes sessions not written since expiryTime and reports how many went.
func (r *FakeSessionRepo) DeleteExpiredSessions(expiryTime time.Time) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	removed := 0
	for sessionID, s := range r.sessions {
		if s.updatedAt.Before(expiryTime) {
			delete(r.sessions, sessionID)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored sessions.
func (r *FakeSessionRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}
