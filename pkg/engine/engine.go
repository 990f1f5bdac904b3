// Package engine implements the credential-and-secret storage engine.
//
// The engine combines input validation, credential hashing, the account
// registry, and the per-account vaults into four operations: Register,
// Authenticate, AddSecretEntry, and ListSecretEntries, plus the bulk
// ImportSecretEntries and the Repair maintenance pass. It holds no session
// state; callers pass the authenticated username into each call. Every
// failure is an *Error whose Kind the presentation layer maps to a
// message.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/npassword/npassword/pkg/account"
	"github.com/npassword/npassword/pkg/audit"
	"github.com/npassword/npassword/pkg/crypto"
	"github.com/npassword/npassword/pkg/validate"
	"github.com/npassword/npassword/pkg/vault"
)

// AuditDirName is the audit log directory inside the data directory.
const AuditDirName = "audit"

// Accounts is the account registry used by the engine.
type Accounts interface {
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username, credentialHash string) error
	Lookup(ctx context.Context, username string) (*account.Account, error)
	Authenticate(ctx context.Context, username string, plaintext []byte) (*account.Account, error)
	Usernames(ctx context.Context) ([]string, error)
}

// Vaults is the per-account secret storage used by the engine.
type Vaults interface {
	Exists(username string) (bool, error)
	CreateVaultFor(ctx context.Context, username string) error
	AddEntry(ctx context.Context, username, description, secret string) (*vault.SecretEntry, error)
	AddEntries(ctx context.Context, username string, drafts []vault.Draft) ([]vault.SecretEntry, error)
	ListEntries(ctx context.Context, username string) ([]vault.SecretEntry, error)
}

// Hasher derives credential hashes for new accounts.
type Hasher interface {
	Hash(plaintext []byte) (string, error)
}

var (
	_ Accounts = (*account.Store)(nil)
	_ Vaults   = (*vault.Manager)(nil)
	_ Hasher   = (*crypto.Hasher)(nil)
	_ Auditor  = (*audit.Logger)(nil)
)

// Auditor records operator audit events.
type Auditor interface {
	Log(op, result, subject string, errInfo *audit.ErrorInfo, ctx map[string]string) error
}

// Options configures an Engine built with New.
type Options struct {
	Logger  *zap.Logger
	Auditor Auditor
}

// Engine orchestrates registration, authentication and secret storage.
// It is safe for concurrent use.
type Engine struct {
	accounts Accounts
	vaults   Vaults
	hasher   Hasher
	log      *zap.Logger
	auditor  Auditor

	closers []func() error
}

// New builds an Engine from its collaborators.
func New(accounts Accounts, vaults Vaults, hasher Hasher, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		accounts: accounts,
		vaults:   vaults,
		hasher:   hasher,
		log:      log,
		auditor:  opts.Auditor,
	}
}

// Config describes an on-disk engine for Open.
type Config struct {
	DataDir     string
	BusyTimeout time.Duration
	Argon2      crypto.Params
	Audit       bool
	Logger      *zap.Logger
}

// Open opens the account registry and vault manager in cfg.DataDir,
// creating the directory and registry on first use.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("engine: data directory is required")
	}
	if err := cfg.Argon2.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	hasher := crypto.NewHasher(cfg.Argon2)
	accounts, err := account.Open(ctx, cfg.DataDir, cfg.BusyTimeout, hasher)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	vaults := vault.New(cfg.DataDir, vault.Options{
		BusyTimeout: cfg.BusyTimeout,
		Logger:      log.Named("vault"),
	})

	opts := Options{Logger: log}
	if cfg.Audit {
		auditor, err := audit.Open(filepath.Join(cfg.DataDir, AuditDirName))
		if err != nil {
			vaults.Close()
			accounts.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts.Auditor = auditor
	}

	e := New(accounts, vaults, hasher, opts)
	e.closers = []func() error{vaults.Close, accounts.Close}
	log.Debug("engine opened", zap.String("data_dir", cfg.DataDir), zap.Bool("audit", cfg.Audit))
	return e, nil
}

// Close releases the storage handles opened by Open.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Register creates an account and its vault. On success the account is
// ready for Authenticate.
func (e *Engine) Register(ctx context.Context, username, secret, confirmation string) (*account.Account, error) {
	if strings.TrimSpace(username) == "" || secret == "" || confirmation == "" {
		return nil, ErrMissingInformation
	}

	name, err := validate.Username(username)
	if err != nil {
		return nil, invalidInput("username", err)
	}
	if err := validate.SecretConfirmation(secret, confirmation); err != nil {
		if errors.Is(err, validate.ErrMismatch) {
			return nil, invalidInput("confirmation", err)
		}
		return nil, invalidInput("secret", err)
	}
	user := string(name)

	exists, err := e.accounts.Exists(ctx, user)
	if err != nil {
		return nil, e.storageFault("check username", user, err)
	}
	if exists {
		e.audit(audit.OpAccountRegisterFailed, audit.ResultError, user, "DUPLICATE_USERNAME")
		return nil, ErrDuplicateUsername
	}

	// A vault without an account must never be handed to a new account.
	// Accounts are created before their vaults, so a vault that appeared
	// since the check above belongs to a concurrent registration.
	orphan, err := e.vaults.Exists(user)
	if err != nil {
		return nil, e.storageFault("check vault", user, err)
	}
	if orphan {
		if exists, err := e.accounts.Exists(ctx, user); err == nil && exists {
			e.audit(audit.OpAccountRegisterFailed, audit.ResultError, user, "DUPLICATE_USERNAME")
			return nil, ErrDuplicateUsername
		}
		e.log.Error("vault exists without account", zap.String("username", user))
		e.audit(audit.OpEngineInconsistent, audit.ResultError, user, "ORPHAN_VAULT")
		return nil, internalError("vault for %s exists without an account", user)
	}

	encoded, err := e.hasher.Hash([]byte(secret))
	if err != nil {
		return nil, e.storageFault("hash credential", user, err)
	}
	if err := e.accounts.Create(ctx, user, encoded); err != nil {
		if errors.Is(err, account.ErrDuplicateUsername) {
			// Lost a race with a concurrent registration.
			e.audit(audit.OpAccountRegisterFailed, audit.ResultError, user, "DUPLICATE_USERNAME")
			return nil, ErrDuplicateUsername
		}
		return nil, e.storageFault("create account", user, err)
	}

	if err := e.vaults.CreateVaultFor(ctx, user); err != nil {
		e.log.Error("account created without vault",
			zap.String("username", user),
			zap.Error(err),
		)
		e.audit(audit.OpEngineInconsistent, audit.ResultError, user, "VAULT_CREATE_FAILED")
		return nil, internalError("account %s has no vault: %w", user, err)
	}

	acc, err := e.accounts.Lookup(ctx, user)
	if err != nil {
		return nil, e.storageFault("read account", user, err)
	}
	e.log.Info("account registered", zap.String("username", user))
	e.audit(audit.OpAccountRegister, audit.ResultSuccess, user, "")
	return acc, nil
}

// Authenticate checks the credentials and returns the account with its
// entries in insertion order. Unknown usernames, wrong secrets and
// malformed input all yield ErrInvalidCredentials.
func (e *Engine) Authenticate(ctx context.Context, username, secret string) (*account.Account, []vault.SecretEntry, error) {
	if strings.TrimSpace(username) == "" || secret == "" {
		return nil, nil, ErrMissingInformation
	}

	// Malformed input can never match a stored account. The raw username
	// is not logged since it may be a mistyped secret.
	name, err := validate.Username(username)
	if err != nil {
		return nil, nil, e.rejectLogin("", "MALFORMED_INPUT")
	}
	user := string(name)
	if _, err := validate.Secret(secret); err != nil {
		return nil, nil, e.rejectLogin(user, "MALFORMED_INPUT")
	}

	plaintext := []byte(secret)
	defer crypto.SecureWipe(plaintext)

	acc, err := e.accounts.Authenticate(ctx, user, plaintext)
	switch {
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrInvalidCredentials):
		return nil, nil, e.rejectLogin(user, "INVALID_CREDENTIALS")
	case errors.Is(err, crypto.ErrCorruptCredential):
		e.log.Error("stored credential is unreadable", zap.String("username", user), zap.Error(err))
		e.audit(audit.OpSessionAuthFailed, audit.ResultError, user, "CORRUPT_CREDENTIAL")
		return nil, nil, newError(KindCorruptCredential, err)
	case err != nil:
		return nil, nil, e.storageFault("authenticate", user, err)
	}

	entries, err := e.vaults.ListEntries(ctx, user)
	if err != nil {
		return nil, nil, e.vaultFault("list entries", user, err)
	}

	e.log.Info("authenticated", zap.String("username", user))
	e.audit(audit.OpSessionAuth, audit.ResultSuccess, user, "")
	return acc, entries, nil
}

// AddSecretEntry appends (description, secret) to username's vault. The
// caller must have authenticated username.
func (e *Engine) AddSecretEntry(ctx context.Context, username, description, secret string) error {
	if username == "" || description == "" || secret == "" {
		return ErrMissingInformation
	}
	if err := validate.Description(description); err != nil {
		return invalidInput("description", err)
	}
	if _, err := validate.Secret(secret); err != nil {
		return invalidInput("secret", err)
	}

	if _, err := e.vaults.AddEntry(ctx, username, description, secret); err != nil {
		return e.vaultFault("add entry", username, err)
	}
	e.log.Debug("entry added", zap.String("username", username))
	e.audit(audit.OpEntryAdd, audit.ResultSuccess, username, "")
	return nil
}

// ImportSecretEntries appends drafts to username's vault in order. Every
// draft is validated first; if any is rejected nothing is stored and the
// error names the offending field. The caller must have authenticated
// username.
func (e *Engine) ImportSecretEntries(ctx context.Context, username string, drafts []vault.Draft) (int, error) {
	if username == "" || len(drafts) == 0 {
		return 0, ErrMissingInformation
	}
	for i, d := range drafts {
		if d.Description == "" || d.Secret == "" {
			return 0, ErrMissingInformation
		}
		if err := validate.Description(d.Description); err != nil {
			return 0, invalidInput("description", fmt.Errorf("entry %d: %w", i+1, err))
		}
		if _, err := validate.Secret(d.Secret); err != nil {
			return 0, invalidInput("secret", fmt.Errorf("entry %d: %w", i+1, err))
		}
	}

	entries, err := e.vaults.AddEntries(ctx, username, drafts)
	if err != nil {
		return 0, e.vaultFault("import entries", username, err)
	}
	e.log.Info("entries imported", zap.String("username", username), zap.Int("count", len(entries)))
	e.auditWith(audit.OpEntryImport, audit.ResultSuccess, username, "",
		map[string]string{"count": strconv.Itoa(len(entries))})
	return len(entries), nil
}

// ListSecretEntries returns username's entries in insertion order. The
// caller must have authenticated username.
func (e *Engine) ListSecretEntries(ctx context.Context, username string) ([]vault.SecretEntry, error) {
	if username == "" {
		return nil, ErrMissingInformation
	}
	entries, err := e.vaults.ListEntries(ctx, username)
	if err != nil {
		return nil, e.vaultFault("list entries", username, err)
	}
	e.audit(audit.OpEntryList, audit.ResultSuccess, username, "")
	return entries, nil
}

// Repair creates the missing vault of every account that has none and
// returns the repaired usernames in registration order.
func (e *Engine) Repair(ctx context.Context) ([]string, error) {
	names, err := e.accounts.Usernames(ctx)
	if err != nil {
		return nil, e.storageFault("list accounts", "", err)
	}

	var repaired []string
	for _, name := range names {
		exists, err := e.vaults.Exists(name)
		if err != nil {
			if errors.Is(err, vault.ErrInvalidInput) {
				e.log.Warn("skipping account with unusable username", zap.String("username", name))
				continue
			}
			return repaired, e.storageFault("check vault", name, err)
		}
		if exists {
			continue
		}
		if err := e.vaults.CreateVaultFor(ctx, name); err != nil && !errors.Is(err, vault.ErrVaultAlreadyExists) {
			return repaired, e.storageFault("create vault", name, err)
		}
		e.log.Info("vault recreated", zap.String("username", name))
		e.audit(audit.OpEngineRepair, audit.ResultSuccess, name, "")
		repaired = append(repaired, name)
	}
	return repaired, nil
}

func (e *Engine) rejectLogin(username, code string) error {
	e.log.Warn("authentication failed", zap.String("username", username))
	e.audit(audit.OpSessionAuthFailed, audit.ResultError, username, code)
	return ErrInvalidCredentials
}

// vaultFault maps vault errors to engine kinds.
func (e *Engine) vaultFault(action, username string, err error) error {
	switch {
	case errors.Is(err, vault.ErrVaultNotFound):
		e.log.Error("account has no vault", zap.String("username", username), zap.String("action", action))
		e.audit(audit.OpEngineInconsistent, audit.ResultError, username, "VAULT_NOT_FOUND")
		return newError(KindVaultNotFound, err)
	case errors.Is(err, vault.ErrInvalidInput):
		return invalidInput("username", err)
	default:
		return e.storageFault(action, username, err)
	}
}

func (e *Engine) storageFault(action, username string, err error) error {
	e.log.Error("storage fault",
		zap.String("action", action),
		zap.String("username", username),
		zap.Error(err),
	)
	return internalError("%s: %w", action, err)
}

// audit records an event. Audit failures never fail the operation.
func (e *Engine) audit(op, result, username, code string) {
	e.auditWith(op, result, username, code, nil)
}

func (e *Engine) auditWith(op, result, username, code string, ctx map[string]string) {
	if e.auditor == nil {
		return
	}
	var info *audit.ErrorInfo
	if code != "" {
		info = &audit.ErrorInfo{Code: code}
	}
	if err := e.auditor.Log(op, result, username, info, ctx); err != nil {
		e.log.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}
