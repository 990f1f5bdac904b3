// Package database opens the SQLite files npassword keeps on disk and
// applies their schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// File permissions
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// DefaultBusyTimeout is how long a connection waits on a lock held by
// another connection or process before failing with SQLITE_BUSY.
const DefaultBusyTimeout = 5 * time.Second

// ErrNewerSchema is returned when a file was written by a newer release.
var ErrNewerSchema = errors.New("database: schema is newer than this release supports")

// Migration is one schema step. Statements run in a single transaction
// together with the schema_version bump.
type Migration struct {
	Version    int
	Statements []string
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DSN builds the connection string for path. Write transactions take the
// RESERVED lock up front (_txlock=immediate) so two writers never deadlock
// on a lock upgrade, and WAL lets readers proceed during a write.
func DSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// Open opens the SQLite file at path. The file is created if missing.
func Open(path string, busyTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(DriverName, DSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("database: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	return db, nil
}

// SchemaVersion returns the highest applied migration version, or 0 for a
// file that has never been migrated.
func SchemaVersion(ctx context.Context, q Querier) (int, error) {
	var name string
	err := q.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("database: failed to check schema_version table: %w", err)
	}

	var version sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("database: failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrate applies every migration newer than the file's current version,
// in order. The version is re-read inside each transaction, so concurrent
// openers of the same file apply each step exactly once.
func Migrate(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if len(migrations) == 0 {
		return nil
	}
	latest := migrations[len(migrations)-1].Version

	for _, m := range migrations {
		if err := migrateOne(ctx, db, m, latest); err != nil {
			return fmt.Errorf("database: migration to v%d failed: %w", m.Version, err)
		}
	}
	return nil
}

func migrateOne(ctx context.Context, db *sql.DB, m Migration, latest int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	version, err := SchemaVersion(ctx, tx)
	if err != nil {
		return err
	}
	if version > latest {
		return fmt.Errorf("%w: file at v%d, release supports v%d", ErrNewerSchema, version, latest)
	}
	if version >= m.Version {
		return nil
	}

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
