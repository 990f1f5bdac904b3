package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/npassword/npassword/internal/disk"
	"github.com/npassword/npassword/pkg/validate"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := New(dir, Options{})
	t.Cleanup(func() { m.Close() })
	return m, dir
}

func TestPath(t *testing.T) {
	m, dir := newTestManager(t)

	got, err := m.Path("alice1")
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if want := filepath.Join(dir, FileName("alice1")); got != want {
		t.Errorf("Path = %s, want %s", got, want)
	}

	upper, err := m.Path("Alice1")
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if strings.EqualFold(upper, got) {
		t.Errorf("Path(Alice1) = %s folds onto Path(alice1)", upper)
	}
	if users, _ := m.Path("users"); filepath.Base(users) == "users.sqlite" {
		t.Error("vault for \"users\" collides with the account registry")
	}

	for _, bad := range []string{"../etc", "a/b/c", "", " alice1", "1abc"} {
		if _, err := m.Path(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Path(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestFileNameLongUsernames(t *testing.T) {
	m, dir := newTestManager(t)
	ctx := context.Background()

	long := "a" + strings.Repeat("b", 300)
	sibling := long + "c"

	name := FileName(long)
	if len(name) > 255 {
		t.Errorf("FileName(long) is %d bytes, want at most 255", len(name))
	}
	if name == FileName(sibling) {
		t.Error("usernames sharing a long prefix map to the same file")
	}

	for _, u := range []string{long, sibling} {
		if err := m.CreateVaultFor(ctx, u); err != nil {
			t.Fatalf("CreateVaultFor(%d chars) failed: %v", len(u), err)
		}
	}
	if _, err := m.AddEntry(ctx, long, "email", "Zx9!aaaa"); err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}
	entries, err := m.ListEntries(ctx, sibling)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("sibling vault sees %d entries, want 0", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("vault file missing: %v", err)
	}
}

func TestCreateVaultFor(t *testing.T) {
	m, dir := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, FileName("alice1")))
	if err != nil {
		t.Fatalf("vault file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("vault has insecure permissions %04o", perm)
	}

	exists, err := m.Exists("alice1")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v; want true", exists, err)
	}

	// Second creation fails.
	if err := m.CreateVaultFor(ctx, "alice1"); !errors.Is(err, ErrVaultAlreadyExists) {
		t.Errorf("second CreateVaultFor error = %v, want ErrVaultAlreadyExists", err)
	}

	// No temporary files left behind.
	matches, _ := filepath.Glob(filepath.Join(dir, ".*.tmp*"))
	if len(matches) != 0 {
		t.Errorf("leftover temporary files: %v", matches)
	}
}

func TestCreateVaultForConcurrent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		created atomic.Int32
		exists  atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.CreateVaultFor(ctx, "racer")
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrVaultAlreadyExists):
				exists.Add(1)
			default:
				t.Errorf("CreateVaultFor failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("expected exactly one creation, got %d", created.Load())
	}
	if exists.Load() != 5 {
		t.Errorf("expected 5 ErrVaultAlreadyExists, got %d", exists.Load())
	}
}

func TestAddAndListEntries(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	entries, err := m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", entries)
	}

	want := []struct{ desc, secret string }{
		{"email", "Zx9!aaaa"},
		{"bank", "correct horse battery"},
		{"email", "second email secret"},
	}
	for _, w := range want {
		e, err := m.AddEntry(ctx, "alice1", w.desc, w.secret)
		if err != nil {
			t.Fatalf("AddEntry(%s) failed: %v", w.desc, err)
		}
		if e.ID == 0 {
			t.Error("expected entry ID to be assigned")
		}

		// Read-after-write.
		entries, err := m.ListEntries(ctx, "alice1")
		if err != nil {
			t.Fatalf("ListEntries failed: %v", err)
		}
		last := entries[len(entries)-1]
		if last.Description != w.desc || last.Secret != w.secret {
			t.Errorf("last entry = %+v, want %s/%s", last, w.desc, w.secret)
		}
	}

	entries, err = m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Description != w.desc || entries[i].Secret != w.secret {
			t.Errorf("entry %d = %+v, want %s/%s", i, entries[i], w.desc, w.secret)
		}
	}
}

func TestEntriesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m := New(dir, Options{})
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}
	if _, err := m.AddEntry(ctx, "alice1", "email", "Zx9!aaaa"); err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m2 := New(dir, Options{})
	defer m2.Close()
	entries, err := m2.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Secret != "Zx9!aaaa" {
		t.Errorf("unexpected entries after reopen: %+v", entries)
	}
}

func TestVaultIsolation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, u := range []string{"alice1", "bobby2"} {
		if err := m.CreateVaultFor(ctx, u); err != nil {
			t.Fatalf("CreateVaultFor(%s) failed: %v", u, err)
		}
	}
	if _, err := m.AddEntry(ctx, "alice1", "email", "Zx9!aaaa"); err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	entries, err := m.ListEntries(ctx, "bobby2")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("bobby2 sees alice1's entries: %+v", entries)
	}
}

func TestVaultNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.ListEntries(ctx, "nobody"); !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("ListEntries error = %v, want ErrVaultNotFound", err)
	}
	if _, err := m.AddEntry(ctx, "nobody", "email", "Zx9!aaaa"); !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("AddEntry error = %v, want ErrVaultNotFound", err)
	}
	exists, err := m.Exists("nobody")
	if err != nil || exists {
		t.Errorf("Exists = %v, %v; want false", exists, err)
	}
}

func TestAddEntryInvalidInput(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	tests := []struct {
		name        string
		description string
		secret      string
		cause       error
	}{
		{"empty description", "", "Zx9!aaaa", validate.ErrEmpty},
		{"short secret", "email", "short1", validate.ErrTooShort},
		{"control char in secret", "email", "Zx9!aaa\n", validate.ErrInvalidCharacters},
		{"control char in description", "em\tail", "Zx9!aaaa", validate.ErrInvalidCharacters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AddEntry(ctx, "alice1", tt.description, tt.secret)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, want cause %v", err, tt.cause)
			}
		})
	}

	entries, err := m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected entries were stored: %+v", entries)
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := m.AddEntry(ctx, "alice1", fmt.Sprintf("w%d-%d", w, i), "Zx9!aaaa"); err != nil {
					t.Errorf("AddEntry failed: %v", err)
					return
				}
			}
		}(w)
	}

	// Readers only ever see complete rows.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			entries, err := m.ListEntries(ctx, "alice1")
			if err != nil {
				t.Errorf("ListEntries failed: %v", err)
				return
			}
			for _, e := range entries {
				if e.Description == "" || e.Secret != "Zx9!aaaa" {
					t.Errorf("partial entry observed: %+v", e)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	entries, err := m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != writers*perWriter {
		t.Errorf("expected %d entries, got %d", writers*perWriter, len(entries))
	}
}

func TestInsufficientDisk(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	m.checkDisk = func(string, int) (*disk.SpaceInfo, error) {
		return nil, fmt.Errorf("%w: only 1 MB available", disk.ErrInsufficient)
	}

	if _, err := m.AddEntry(ctx, "alice1", "email", "Zx9!aaaa"); !errors.Is(err, ErrInsufficientDisk) {
		t.Errorf("AddEntry error = %v, want ErrInsufficientDisk", err)
	}
	if err := m.CreateVaultFor(ctx, "bobby2"); !errors.Is(err, ErrInsufficientDisk) {
		t.Errorf("CreateVaultFor error = %v, want ErrInsufficientDisk", err)
	}
	if exists, _ := m.Exists("bobby2"); exists {
		t.Error("vault created despite insufficient disk")
	}
}

func TestDiskCheckFailureDoesNotBlock(t *testing.T) {
	m, _ := newTestManager(t)
	m.checkDisk = func(string, int) (*disk.SpaceInfo, error) {
		return nil, errors.New("statfs: not supported")
	}
	if err := m.CreateVaultFor(context.Background(), "alice1"); err != nil {
		t.Errorf("CreateVaultFor failed: %v", err)
	}
}

// mockVault installs a sqlmock pool for username, bypassing open and
// migration.
func mockVault(t *testing.T, m *Manager, username string) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	m.pools[username] = db
	return mock
}

func TestAddEntry_InsertFaultRollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	mock := mockVault(t, m, "alice1")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("email", "Zx9!aaaa", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if _, err := m.AddEntry(context.Background(), "alice1", "email", "Zx9!aaaa"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAddEntry_CommitFault(t *testing.T) {
	m, _ := newTestManager(t)
	mock := mockVault(t, m, "alice1")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("email", "Zx9!aaaa", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	if _, err := m.AddEntry(context.Background(), "alice1", "email", "Zx9!aaaa"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAddEntries(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}
	if _, err := m.AddEntry(ctx, "alice1", "first", "Zx9!aaaa"); err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	drafts := []Draft{
		{Description: "github", Secret: "ghp_token1"},
		{Description: "bank", Secret: "bankpass1"},
	}
	added, err := m.AddEntries(ctx, "alice1", drafts)
	if err != nil {
		t.Fatalf("AddEntries failed: %v", err)
	}
	if len(added) != 2 || added[0].ID >= added[1].ID {
		t.Fatalf("AddEntries returned %+v", added)
	}

	entries, err := m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Description)
	}
	if strings.Join(got, ",") != "first,github,bank" {
		t.Errorf("descriptions = %v, want [first github bank]", got)
	}
}

func TestAddEntries_RejectsWholeBatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.CreateVaultFor(ctx, "alice1"); err != nil {
		t.Fatalf("CreateVaultFor failed: %v", err)
	}

	_, err := m.AddEntries(ctx, "alice1", []Draft{
		{Description: "ok", Secret: "Zx9!aaaa"},
		{Description: "bad", Secret: "short"},
	})
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "entry 2") {
		t.Errorf("error = %v, want ErrInvalidInput for entry 2", err)
	}
	if _, err := m.AddEntries(ctx, "alice1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty batch error = %v, want ErrInvalidInput", err)
	}

	entries, err := m.ListEntries(ctx, "alice1")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected batch was partly stored: %+v", entries)
	}
}

func TestAddEntries_InsertFaultRollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	mock := mockVault(t, m, "alice1")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("one", "Zx9!aaaa", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("two", "Zx9!bbbb", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := m.AddEntries(context.Background(), "alice1", []Draft{
		{Description: "one", Secret: "Zx9!aaaa"},
		{Description: "two", Secret: "Zx9!bbbb"},
	})
	if err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListEntries_QueryFault(t *testing.T) {
	m, _ := newTestManager(t)
	mock := mockVault(t, m, "alice1")

	mock.ExpectQuery(`SELECT id, description, secret, created_at FROM entries ORDER BY id`).
		WillReturnError(errors.New("disk I/O error"))

	if _, err := m.ListEntries(context.Background(), "alice1"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
