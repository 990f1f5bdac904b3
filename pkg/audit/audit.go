// Package audit provides an operator audit trail with an HMAC chain for
// tamper detection.
//
// Events are appended as JSON lines to one file per month. Each record
// carries the HMAC of its own content plus the previous record's HMAC, so
// edits, deletions and reordering break the chain. Usernames are recorded
// only as keyed HMACs.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/npassword/npassword/internal/disk"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// File names inside the audit directory
const (
	KeyFileName   = "audit.key"
	MetaFileName  = "audit.meta"
	installKeyLen = 32
)

// Operation types for audit logging
const (
	OpAccountRegister       = "account.register"
	OpAccountRegisterFailed = "account.register_failed"
	OpSessionAuth           = "session.authenticate"
	OpSessionAuthFailed     = "session.authenticate_failed"
	OpEntryAdd              = "entry.add"
	OpEntryImport           = "entry.import"
	OpEntryList             = "entry.list"
	OpEngineInconsistent    = "engine.inconsistent"
	OpEngineRepair          = "engine.repair"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const genesis = "genesis"

// ErrKeyNotSet is returned when logging before an HMAC key is configured.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event represents a single audit log record.
type Event struct {
	Version   int    `json:"v"`  // Schema version (1)
	ID        string `json:"id"` // Event ID (UUIDv7, time-ordered)
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Subject   string `json:"subject,omitempty"` // HMAC of the username

	SessionID string `json:"session_id"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`  // Sequence number
	PrevHash string `json:"prev"` // Previous record hash
	HMAC     string `json:"hmac"` // This record's HMAC
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path       string
	hmacKey    []byte
	mu         sync.Mutex // Protects concurrent writes
	sequence   int64
	prevHash   string
	sessionID  string
	hmacKeySet bool
}

// NewLogger creates a logger writing to path. SetHMACKey must be called
// before events can be logged.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
	}
}

// Open creates a logger for path, generating the install key on first use.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("audit: failed to create directory: %w", err)
	}
	key, err := loadOrCreateKey(filepath.Join(path, KeyFileName))
	if err != nil {
		return nil, err
	}
	l := NewLogger(path)
	if err := l.SetHMACKey(key); err != nil {
		return nil, err
	}
	return l, nil
}

// loadOrCreateKey reads the install key, creating it with O_EXCL if absent
// so that concurrent first runs agree on one key.
func loadOrCreateKey(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		key := make([]byte, installKeyLen)
		if _, err := rand.Read(key); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("audit: failed to generate key: %w", err)
		}
		if _, err := f.Write(key); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("audit: failed to write key: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("audit: failed to write key: %w", err)
		}
		return key, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("audit: failed to create key: %w", err)
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read key: %w", err)
	}
	if len(key) != installKeyLen {
		return nil, fmt.Errorf("audit: key file %s is corrupted", path)
	}
	return key, nil
}

// SetHMACKey derives and sets the HMAC key from masterKey using HKDF.
func (l *Logger) SetHMACKey(masterKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hkdfReader := hkdf.New(sha256.New, masterKey, nil, []byte("npassword-audit-v1"))
	l.hmacKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKeySet = true

	if err := l.loadChainState(); err != nil {
		// First run
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Log records an audit event.
func (l *Logger) Log(op, result, subject string, errInfo *ErrorInfo, ctx map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return ErrKeyNotSet
	}

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if info, err := disk.Check(l.path); err == nil && info.Available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			info.Available, MinAuditDiskSpace)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event id: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        id.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}
	if subject != "" {
		event.Subject = l.subjectHMAC(subject)
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.recordHMAC(&event)

	if err := l.writeEvent(&event); err != nil {
		l.sequence--
		return err
	}
	l.prevHash = event.Chain.HMAC

	return l.saveChainState()
}

// SubjectHMAC returns the value recorded in Event.Subject for username,
// so an operator can find a user's events without the log naming them.
func (l *Logger) SubjectHMAC(username string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hmacKeySet {
		return "", ErrKeyNotSet
	}
	return l.subjectHMAC(username), nil
}

func (l *Logger) subjectHMAC(subject string) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte("subject|" + subject))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) recordHMAC(event *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(buildRecordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildRecordData creates the data to be HMACed. Every field except the
// record's own HMAC is included.
func buildRecordData(event *Event) []byte {
	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var contextData strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&contextData, "%s=%s|", k, event.Context[k])
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Subject,
		event.SessionID,
		event.Result,
		errorData,
		contextData.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	return []byte(data)
}

// writeEvent appends an event to the current month's log file
func (l *Logger) writeEvent(event *Event) error {
	filename := time.Now().UTC().Format("2006-01") + ".jsonl"

	f, err := os.OpenFile(filepath.Join(l.path, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

// chainState holds the persistent chain state
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, MetaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, MetaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the audit log chain
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrevHash := genesis
	var expectedSeq int64 = 1

	for _, event := range events {
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrevHash {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s: expected prev %s, got %s",
				event.ID, expectedPrevHash, event.Chain.PrevHash))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.recordHMAC(&event))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrevHash = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	return result, nil
}

// ListEvents returns the most recent limit events (0 = all) newer than
// since (zero = no filter).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := events
	if !since.IsZero() {
		filtered = nil
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// readAll reads every event from every log file in chronological order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically
	sort.Strings(files)

	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}
