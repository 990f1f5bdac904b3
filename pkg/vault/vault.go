// Package vault provides per-account secret storage.
//
// Each account owns one SQLite file in the data directory holding its
// (description, secret) entries in insertion order. Files are independent:
// work on one account's vault never waits on another's.
package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/npassword/npassword/internal/database"
	"github.com/npassword/npassword/internal/disk"
	"github.com/npassword/npassword/pkg/validate"
)

// FileExt is the extension of vault files.
const FileExt = ".sqlite"

// maxNamePrefix caps the username part of a vault file name, keeping the
// name well inside the 255-byte limit of common filesystems.
const maxNamePrefix = 64

// FileName returns the vault file name for username:
// <username>-<tag>.sqlite, where tag is the first 8 bytes of the
// username's SHA-256 in hex. The tag keeps names that differ only in case
// apart on case-insensitive filesystems and keeps vaults clear of the
// account registry and of reserved device names. Usernames longer than
// maxNamePrefix keep only their prefix and carry the full digest instead.
func FileName(username string) string {
	sum := sha256.Sum256([]byte(username))
	if len(username) > maxNamePrefix {
		return username[:maxNamePrefix] + "-" + hex.EncodeToString(sum[:]) + FileExt
	}
	return username + "-" + hex.EncodeToString(sum[:8]) + FileExt
}

// Errors
var (
	ErrVaultAlreadyExists = errors.New("vault: vault already exists")
	ErrVaultNotFound      = errors.New("vault: vault not found")
	ErrInvalidInput       = errors.New("vault: invalid input")
	ErrInsufficientDisk   = errors.New("vault: insufficient disk space")
)

var migrations = []database.Migration{
	{Version: 1, Statements: []string{`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			description TEXT NOT NULL,
			secret TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`}},
}

// SecretEntry is one stored (description, secret) pair.
type SecretEntry struct {
	ID          int64
	Description string
	Secret      string
	CreatedAt   time.Time
}

// Options configures a Manager.
type Options struct {
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Manager owns the vault files of one data directory and a connection
// pool per opened vault.
type Manager struct {
	dir         string
	busyTimeout time.Duration
	log         *zap.Logger

	mu    sync.Mutex // guards pools only; never held across I/O
	pools map[string]*sql.DB

	open      func(path string) (*sql.DB, error)
	checkDisk func(path string, dataSize int) (*disk.SpaceInfo, error)
}

// New returns a Manager for vaults stored in dir.
func New(dir string, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		dir:         dir,
		busyTimeout: opts.BusyTimeout,
		log:         log,
		pools:       make(map[string]*sql.DB),
		checkDisk:   disk.RequireFree,
	}
	m.open = func(path string) (*sql.DB, error) {
		return database.Open(path, m.busyTimeout)
	}
	return m
}

// Path returns the vault file for username. Only validated usernames map
// to a path, so user input never reaches the filesystem unchecked.
func (m *Manager) Path(username string) (string, error) {
	name, err := validate.Username(username)
	if err != nil || string(name) != username {
		return "", fmt.Errorf("%w: username %q", ErrInvalidInput, username)
	}
	return filepath.Join(m.dir, FileName(username)), nil
}

// Exists reports whether a vault file exists for username.
func (m *Manager) Exists(username string) (bool, error) {
	path, err := m.Path(username)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("vault: failed to stat vault: %w", err)
}

// CreateVaultFor creates the vault for username. The file is built under
// a temporary name and linked into place, so a vault is either absent or
// fully initialized. A second call returns ErrVaultAlreadyExists.
func (m *Manager) CreateVaultFor(ctx context.Context, username string) error {
	path, err := m.Path(username)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return ErrVaultAlreadyExists
	}

	if err := os.MkdirAll(m.dir, database.DirMode); err != nil {
		return fmt.Errorf("vault: failed to create data directory: %w", err)
	}
	if err := m.requireDisk(0); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, "."+username+".*.tmp")
	if err != nil {
		return fmt.Errorf("vault: failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	}()

	if err := os.Chmod(tmpPath, database.FileMode); err != nil {
		return fmt.Errorf("vault: failed to set vault permissions: %w", err)
	}
	if err := m.initFile(ctx, tmpPath); err != nil {
		return err
	}

	// Link fails if path exists, which makes the final step atomic with
	// respect to concurrent creators.
	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			return ErrVaultAlreadyExists
		}
		return fmt.Errorf("vault: failed to install vault file: %w", err)
	}
	return nil
}

func (m *Manager) initFile(ctx context.Context, path string) error {
	db, err := m.open(path)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, migrations); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// Draft is an entry not yet stored.
type Draft struct {
	Description string
	Secret      string
}

// AddEntry appends one entry to username's vault in a single transaction.
func (m *Manager) AddEntry(ctx context.Context, username, description, secret string) (*SecretEntry, error) {
	entries, err := m.AddEntries(ctx, username, []Draft{{Description: description, Secret: secret}})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// AddEntries appends drafts to username's vault in a single transaction:
// either every draft is stored, in order, or none is.
func (m *Manager) AddEntries(ctx context.Context, username string, drafts []Draft) ([]SecretEntry, error) {
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidInput)
	}
	size := 0
	for i, d := range drafts {
		if err := validate.Description(d.Description); err != nil {
			return nil, fmt.Errorf("%w: entry %d: description: %w", ErrInvalidInput, i+1, err)
		}
		if _, err := validate.Secret(d.Secret); err != nil {
			return nil, fmt.Errorf("%w: entry %d: secret: %w", ErrInvalidInput, i+1, err)
		}
		size += len(d.Description) + len(d.Secret)
	}

	db, err := m.pool(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := m.requireDisk(size); err != nil {
		return nil, err
	}

	created := time.Now().UTC().Truncate(time.Second)
	entries := make([]SecretEntry, len(drafts))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, d := range drafts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (description, secret, created_at) VALUES (?, ?, ?)`,
			d.Description, d.Secret, created.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to save entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("vault: failed to read entry id: %w", err)
		}
		entries[i] = SecretEntry{ID: id, Description: d.Description, Secret: d.Secret, CreatedAt: created}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return entries, nil
}

// ListEntries returns username's entries in insertion order. The result
// is read in one statement and so reflects a single committed state.
func (m *Manager) ListEntries(ctx context.Context, username string) ([]SecretEntry, error) {
	db, err := m.pool(ctx, username)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, description, secret, created_at FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]SecretEntry, 0)
	for rows.Next() {
		var (
			e       SecretEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Description, &e.Secret, &created); err != nil {
			return nil, fmt.Errorf("vault: failed to scan entry: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return entries, nil
}

// Close releases every open pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*sql.DB)
	m.mu.Unlock()

	var errs []error
	for _, db := range pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pool returns the cached pool for username's vault, opening and
// migrating it on first use.
func (m *Manager) pool(ctx context.Context, username string) (*sql.DB, error) {
	m.mu.Lock()
	db, ok := m.pools[username]
	m.mu.Unlock()
	if ok {
		return db, nil
	}

	path, err := m.Path(username)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("vault: failed to stat vault: %w", err)
	}

	db, err = m.open(path)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if err := database.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[username]; ok {
		db.Close()
		return existing, nil
	}
	m.pools[username] = db
	return db, nil
}

func (m *Manager) requireDisk(dataSize int) error {
	info, err := m.checkDisk(m.dir, dataSize)
	if errors.Is(err, disk.ErrInsufficient) {
		return fmt.Errorf("%w: %w", ErrInsufficientDisk, err)
	}
	if err != nil {
		m.log.Warn("failed to check disk space", zap.String("dir", m.dir), zap.Error(err))
		return nil
	}
	if info.LowSpace() {
		m.log.Warn("disk is nearly full", zap.Int("used_pct", info.UsedPct))
	}
	return nil
}
