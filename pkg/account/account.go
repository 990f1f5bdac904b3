// Package account provides the durable registry of usernames and their
// credential hashes.
//
// The registry is a single SQLite file in the data directory. Username
// uniqueness is enforced by the table's primary key, so concurrent
// registrations of one name, from any number of processes, resolve to
// exactly one row.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/npassword/npassword/internal/database"
	"github.com/npassword/npassword/pkg/crypto"
)

// FileName is the registry file inside the data directory.
const FileName = "users.sqlite"

// Errors
var (
	ErrDuplicateUsername  = errors.New("account: username already exists")
	ErrNotFound           = errors.New("account: account not found")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
)

var migrations = []database.Migration{
	{Version: 1, Statements: []string{`
		CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY NOT NULL,
			credential_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`}},
}

// Account is a registered identity.
type Account struct {
	Username       string
	CredentialHash string
	CreatedAt      time.Time
}

// Hasher derives and checks credential hashes.
type Hasher interface {
	Hash(plaintext []byte) (string, error)
	Verify(plaintext []byte, encoded string) (bool, error)
	DummyHash() (string, error)
}

// Store is the account registry.
type Store struct {
	db     *sql.DB
	hasher Hasher

	dummyOnce sync.Once
	dummyHash string
	dummyErr  error
}

// New wraps an already-migrated database handle.
func New(db *sql.DB, hasher Hasher) *Store {
	return &Store{db: db, hasher: hasher}
}

// Open opens (creating if needed) the registry inside dataDir and brings
// its schema up to date.
func Open(ctx context.Context, dataDir string, busyTimeout time.Duration, hasher Hasher) (*Store, error) {
	if err := os.MkdirAll(dataDir, database.DirMode); err != nil {
		return nil, fmt.Errorf("account: failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	db, err := database.Open(path, busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	if err := database.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: %w", err)
	}
	if err := os.Chmod(path, database.FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: failed to set registry permissions: %w", err)
	}

	return New(db, hasher), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether username is registered.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = ?)`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account: failed to check username: %w", err)
	}
	return exists, nil
}

// Create inserts a new account. The insert and the uniqueness check are
// one statement; a lost race yields ErrDuplicateUsername.
func (s *Store) Create(ctx context.Context, username, credentialHash string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, credential_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		username, credentialHash, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("account: failed to create account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("account: failed to read insert result: %w", err)
	}
	if n == 0 {
		return ErrDuplicateUsername
	}
	return nil
}

// Lookup returns the account for username, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, username string) (*Account, error) {
	var (
		acc     Account
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, credential_hash, created_at FROM accounts WHERE username = ?`,
		username,
	).Scan(&acc.Username, &acc.CredentialHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: failed to look up account: %w", err)
	}
	acc.CreatedAt = time.Unix(created, 0).UTC()
	return &acc, nil
}

// Authenticate checks plaintext against the stored credential for
// username. It returns ErrNotFound, ErrInvalidCredentials, or an error
// wrapping crypto.ErrCorruptCredential when the stored hash is unreadable.
func (s *Store) Authenticate(ctx context.Context, username string, plaintext []byte) (*Account, error) {
	acc, err := s.Lookup(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.burnVerify(plaintext)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(plaintext, acc.CredentialHash)
	if err != nil {
		return nil, fmt.Errorf("account: stored credential for %s: %w", username, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

// Usernames returns every registered username in registration order.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM accounts ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("account: failed to list accounts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("account: failed to scan account: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: failed to list accounts: %w", err)
	}
	return names, nil
}

// burnVerify spends one verification on a dummy hash, so an unknown
// username costs the same single derivation as a wrong password.
func (s *Store) burnVerify(plaintext []byte) {
	s.dummyOnce.Do(func() {
		s.dummyHash, s.dummyErr = s.hasher.DummyHash()
	})
	if s.dummyErr != nil {
		return
	}
	_, _ = s.hasher.Verify(plaintext, s.dummyHash)
}

var _ Hasher = (*crypto.Hasher)(nil)
