package repofakes

import (
	"context"
	"sync"

	"github.com/tomzdev/spotify-migration-tool/apppool"
)

var _ apppool.Repo = (*FakePoolRepo)(nil)

// FakePoolRepo keeps the snapshot in memory. It backs POOL_STORE=memory and the tests.
type FakePoolRepo struct {
	lock     sync.RWMutex
	snapshot apppool.Snapshot
	saves    int

	// SaveErr, when set, is returned by Save without storing anything.
	SaveErr error
}

func NewFakePoolRepo() *FakePoolRepo {
	return &FakePoolRepo{snapshot: apppool.NewSnapshot()}
}

// NewFakePoolRepoWith seeds the repo with a snapshot, as if written by a previous process.
func NewFakePoolRepoWith(snapshot apppool.Snapshot) *FakePoolRepo {
	return &FakePoolRepo{snapshot: snapshot.Clone()}
}

func (r *FakePoolRepo) Load(_ context.Context) (apppool.Snapshot, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.snapshot.Clone(), nil
}

func (r *FakePoolRepo) Save(_ context.Context, snapshot apppool.Snapshot) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.snapshot = snapshot.Clone()
	r.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (r *FakePoolRepo) Saves() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.saves
}
