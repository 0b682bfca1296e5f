// Package boltrepo persists the app pool snapshot in a bbolt file. Each Save rewrites the
// binding and counter buckets inside a single write transaction.
package boltrepo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	bolt "go.etcd.io/bbolt"
)

var (
	bindingsBucket = []byte("bindings")
	countersBucket = []byte("counters")
	metaBucket     = []byte("meta")
	lastUpdatedKey = []byte("last_updated")
)

var _ apppool.Repo = (*Repo)(nil)

type Repo struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt file at path.
func Open(path string) (*Repo, error) {
	if path == "" {
		return nil, errors.New("[boltrepo.Open] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "[boltrepo.Open] create directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "[boltrepo.Open] bolt.Open")
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) Load(_ context.Context) (apppool.Snapshot, error) {
	snapshot := apppool.NewSnapshot()
	err := r.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bindingsBucket); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				snapshot.Bindings[string(k)] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(countersBucket); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				n, err := strconv.Atoi(string(v))
				if err != nil {
					return errors.Wrapf(err, "counter for slot %q", k)
				}
				snapshot.Counters[string(k)] = n
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(metaBucket); b != nil {
			if v := b.Get(lastUpdatedKey); v != nil {
				t, err := time.Parse(time.RFC3339Nano, string(v))
				if err != nil {
					return errors.Wrap(err, "last updated")
				}
				snapshot.LastUpdated = t
			}
		}
		return nil
	})
	if err != nil {
		return apppool.Snapshot{}, errors.Wrap(err, "[boltrepo.Load]")
	}
	return snapshot, nil
}

func (r *Repo) Save(_ context.Context, snapshot apppool.Snapshot) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bindingsBucket, countersBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}

		bindings, err := tx.CreateBucket(bindingsBucket)
		if err != nil {
			return err
		}
		for userID, slotID := range snapshot.Bindings {
			if err := bindings.Put([]byte(userID), []byte(slotID)); err != nil {
				return err
			}
		}

		counters, err := tx.CreateBucket(countersBucket)
		if err != nil {
			return err
		}
		for slotID, n := range snapshot.Counters {
			if err := counters.Put([]byte(slotID), []byte(strconv.Itoa(n))); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(lastUpdatedKey, []byte(snapshot.LastUpdated.UTC().Format(time.RFC3339Nano)))
	})
	return errors.Wrap(err, "[boltrepo.Save]")
}
