// Package store persists generation runs in SQLite: which constants each
// run generated, where they were defined, and the RBI written for them.
package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for rbigen's run history.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
  id              TEXT PRIMARY KEY,
  command         TEXT NOT NULL,
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP,
  status          TEXT NOT NULL DEFAULT 'running'
);

CREATE TABLE IF NOT EXISTS constants (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL REFERENCES runs(id),
  handle          INTEGER NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
  id              INTEGER PRIMARY KEY,
  constant_id     INTEGER NOT NULL REFERENCES constants(id),
  path            TEXT NOT NULL,
  line            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outputs (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL REFERENCES runs(id),
  constant        TEXT NOT NULL,
  compilers       TEXT NOT NULL,
  path            TEXT NOT NULL,
  hash            TEXT NOT NULL,
  content         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_constants_run ON constants(run_id);
CREATE INDEX IF NOT EXISTS idx_constants_name ON constants(name);
CREATE INDEX IF NOT EXISTS idx_locations_constant ON locations(constant_id);
CREATE INDEX IF NOT EXISTS idx_outputs_run ON outputs(run_id);
CREATE INDEX IF NOT EXISTS idx_outputs_constant ON outputs(constant);
`

// GetMetadata returns the value stored under key, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "get metadata %s", key)
	}
	return value, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "set metadata %s", key)
	}
	return nil
}

// DeleteRun transactionally removes a run and everything recorded for it.
// Deletes in reverse-dependency order to respect FK constraints.
func (s *Store) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id FROM constants WHERE run_id = ?", runID)
	if err != nil {
		return errors.Wrap(err, "query constants")
	}
	var constantIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan constant id")
		}
		constantIDs = append(constantIDs, id)
	}
	rows.Close()

	if len(constantIDs) > 0 {
		q := "DELETE FROM locations WHERE constant_id IN (" + placeholderList(len(constantIDs)) + ")"
		if _, err := tx.Exec(q, int64sToArgs(constantIDs)...); err != nil {
			return errors.Wrap(err, "delete locations")
		}
	}
	for _, q := range []string{
		"DELETE FROM constants WHERE run_id = ?",
		"DELETE FROM outputs WHERE run_id = ?",
		"DELETE FROM runs WHERE id = ?",
	} {
		if _, err := tx.Exec(q, runID); err != nil {
			return errors.Wrap(err, "delete run data")
		}
	}
	return tx.Commit()
}

// PruneRuns deletes all but the keep most recent runs. The newest ok run
// is never deleted: queries read from it.
func (s *Store) PruneRuns(keep int) error {
	latest, err := s.LatestRun()
	if err != nil {
		return err
	}
	rows, err := s.db.Query("SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?", keep)
	if err != nil {
		return errors.Wrap(err, "list old runs")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan run id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "list old runs")
	}
	for _, id := range ids {
		if latest != nil && id == latest.ID {
			continue
		}
		if err := s.DeleteRun(id); err != nil {
			return errors.Wrapf(err, "prune run %s", id)
		}
	}
	return nil
}
