package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/warroom/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the web API read while a run is writing; the busy timeout
	// makes writers wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			role         TEXT NOT NULL,
			objective    TEXT,
			capabilities TEXT,
			can_delegate BOOLEAN DEFAULT FALSE,
			rate_limit   INTEGER DEFAULT 0,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			incident     TEXT NOT NULL,
			mode         TEXT NOT NULL,
			strategy     TEXT NOT NULL,
			source       TEXT DEFAULT 'cli',
			status       TEXT DEFAULT 'running',
			memory       BOOLEAN DEFAULT FALSE,
			final_output TEXT,
			usage        TEXT,
			error        TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS run_items (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			key         TEXT NOT NULL,
			position    INTEGER NOT NULL,
			agent_id    TEXT NOT NULL,
			depends_on  TEXT,
			status      TEXT NOT NULL,
			output      TEXT,
			error       TEXT,
			started_at  DATETIME,
			finished_at DATETIME,
			PRIMARY KEY (run_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			type       TEXT NOT NULL,
			item       TEXT,
			agent_id   TEXT,
			detail     TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id)`,
		`CREATE TABLE IF NOT EXISTS drills (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			schedule      TEXT NOT NULL,
			incident      TEXT NOT NULL,
			safe_mode     BOOLEAN DEFAULT FALSE,
			survival_mode BOOLEAN DEFAULT FALSE,
			status        TEXT DEFAULT 'active',
			next_run_at   DATETIME,
			last_run_at   DATETIME,
			last_status   TEXT,
			last_error    TEXT,
			last_run_id   TEXT,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drills_next_run ON drills(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Schema additions (idempotent ALTER TABLE)
	alterations := []string{
		`ALTER TABLE runs ADD COLUMN complete BOOLEAN DEFAULT FALSE`,
	}
	for _, a := range alterations {
		_, _ = s.db.Exec(a) // ignore "duplicate column" errors
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
