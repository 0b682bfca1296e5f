// Package sqliterepo persists the app pool snapshot in SQLite. Each Save replaces both
// tables inside one transaction.
package sqliterepo

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tomzdev/spotify-migration-tool/apppool"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const lastUpdatedKey = "last_updated"

var _ apppool.Repo = (*Repo)(nil)

type Repo struct {
	sqlDB *sql.DB
}

// Open opens the SQLite database at path and applies the schema.
func Open(path string) (*Repo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqliterepo.Open] path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqliterepo.Open] open sqlite db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqliterepo.Open] ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqliterepo.Open] apply schema")
	}
	return &Repo{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (r *Repo) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

func (r *Repo) Load(ctx context.Context) (apppool.Snapshot, error) {
	snapshot := apppool.NewSnapshot()

	rows, err := r.sqlDB.QueryContext(ctx, `SELECT user_id, slot_id FROM pool_bindings`)
	if err != nil {
		return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] query bindings")
	}
	for rows.Next() {
		var userID, slotID string
		if err := rows.Scan(&userID, &slotID); err != nil {
			rows.Close()
			return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] scan binding")
		}
		snapshot.Bindings[userID] = slotID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] bindings")
	}

	rows, err = r.sqlDB.QueryContext(ctx, `SELECT slot_id, users FROM pool_counters`)
	if err != nil {
		return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] query counters")
	}
	for rows.Next() {
		var slotID string
		var users int
		if err := rows.Scan(&slotID, &users); err != nil {
			rows.Close()
			return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] scan counter")
		}
		snapshot.Counters[slotID] = users
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] counters")
	}

	var lastUpdated string
	err = r.sqlDB.QueryRowContext(ctx, `SELECT value FROM pool_meta WHERE key = ?`, lastUpdatedKey).Scan(&lastUpdated)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] meta")
	default:
		if snapshot.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
			return apppool.Snapshot{}, errors.Wrap(err, "[sqliterepo.Load] parse last updated")
		}
	}
	return snapshot, nil
}

func (r *Repo) Save(ctx context.Context, snapshot apppool.Snapshot) (err error) {
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[sqliterepo.Save] begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM pool_bindings`); err != nil {
		return errors.Wrap(err, "[sqliterepo.Save] clear bindings")
	}
	for userID, slotID := range snapshot.Bindings {
		if _, err = tx.ExecContext(ctx, `INSERT INTO pool_bindings (user_id, slot_id) VALUES (?, ?)`, userID, slotID); err != nil {
			return errors.Wrap(err, "[sqliterepo.Save] insert binding")
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM pool_counters`); err != nil {
		return errors.Wrap(err, "[sqliterepo.Save] clear counters")
	}
	for slotID, users := range snapshot.Counters {
		if _, err = tx.ExecContext(ctx, `INSERT INTO pool_counters (slot_id, users) VALUES (?, ?)`, slotID, users); err != nil {
			return errors.Wrap(err, "[sqliterepo.Save] insert counter")
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO pool_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastUpdatedKey, snapshot.LastUpdated.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errors.Wrap(err, "[sqliterepo.Save] meta")
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "[sqliterepo.Save] commit")
	}
	return nil
}
