// Package sqlite persists ledger accounts and feature jobs in a single
// SQLite file using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "compute.db"

// DB wraps the SQLite handle.
type DB struct {
	db   *sql.DB
	path string
}

// Open creates dir if needed, opens <dir>/compute.db and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection serializes writers within the process.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	for i, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, one statement per string.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			identity         TEXT PRIMARY KEY,
			balance          INTEGER NOT NULL DEFAULT 0,
			lifetime_credits INTEGER NOT NULL DEFAULT 0,
			lifetime_debits  INTEGER NOT NULL DEFAULT 0,
			entitlement_tier TEXT,
			entitlement_purchased_at TEXT,
			entitlement_expires_at   TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)`,

		// seq orders entries; newest has the highest seq.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id      TEXT NOT NULL UNIQUE,
			identity      TEXT NOT NULL REFERENCES accounts(identity) ON DELETE CASCADE,
			kind          TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			subject       TEXT NOT NULL DEFAULT '',
			tier          TEXT NOT NULL DEFAULT '',
			price         INTEGER NOT NULL DEFAULT 0,
			metadata      TEXT,
			balance_after INTEGER NOT NULL,
			occurred_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_identity ON ledger_entries(identity, seq)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			identity       TEXT NOT NULL,
			feature        TEXT NOT NULL,
			tier           TEXT NOT NULL DEFAULT '',
			input          TEXT,
			status         TEXT NOT NULL,
			reservation_id TEXT NOT NULL DEFAULT '',
			points_charged INTEGER NOT NULL DEFAULT 0,
			result_hash    TEXT NOT NULL DEFAULT '',
			result         BLOB,
			error          TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			started_at     TEXT,
			completed_at   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_identity ON jobs(identity, created_at)`,
	}
}

// ─── Time helpers ───────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
