package boltrepo_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	"github.com/tomzdev/spotify-migration-tool/apppool/boltrepo"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "pool.db")

	repo, err := boltrepo.Open(path)
	require.NoError(t, err)

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty.Bindings)
	require.Empty(t, empty.Counters)

	snapshot := apppool.NewSnapshot()
	snapshot.Bindings["alice@example.com"] = "app1"
	snapshot.Bindings["bob@example.com"] = "app2"
	snapshot.Counters["app1"] = 1
	snapshot.Counters["app2"] = 1
	snapshot.LastUpdated = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, snapshot))

	// A later save replaces the whole record, removed bindings included.
	delete(snapshot.Bindings, "bob@example.com")
	snapshot.Counters["app2"] = 0
	require.NoError(t, repo.Save(ctx, snapshot))
	require.NoError(t, repo.Close())

	reopened, err := boltrepo.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"alice@example.com": "app1"}, loaded.Bindings)
	require.Equal(t, map[string]int{"app1": 1, "app2": 0}, loaded.Counters)
	require.True(t, snapshot.LastUpdated.Equal(loaded.LastUpdated))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := boltrepo.Open("")
	require.Error(t, err)
}
