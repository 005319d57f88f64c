// ABOUTME: Tests for SQLite store initialization and transactions
// ABOUTME: Covers directory creation, idempotent migrations, commit and rollback

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.CreateUser(ctx, testUser("user-1", "alice")); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	store.Close()

	// Second open must find migrations already applied
	store, err = NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	if _, err := store.GetUser(ctx, "user-1"); err != nil {
		t.Errorf("GetUser after reopen failed: %v", err)
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if err := store.CreateUser(ctx, testUser("user-1", "alice")); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := store.GetUserByUsername(ctx, "alice"); err != nil {
		t.Errorf("GetUserByUsername failed: %v", err)
	}
}

func TestWithTx_Commit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateUser(ctx, testUser("user-1", "alice")); err != nil {
			return err
		}
		return tx.CreatePasskey(ctx, testPasskey("pk-1", "user-1", []byte("cred-1")))
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	if _, err := store.GetUser(ctx, "user-1"); err != nil {
		t.Errorf("user not committed: %v", err)
	}
	if _, err := store.GetPasskey(ctx, "pk-1"); err != nil {
		t.Errorf("passkey not committed: %v", err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	boom := errors.New("ceremony failed")
	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateUser(ctx, testUser("user-1", "bob")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	if _, err := store.GetUserByUsername(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rolled-back user to be absent, got %v", err)
	}

	// The username is free again
	if err := store.CreateUser(ctx, testUser("user-2", "bob")); err != nil {
		t.Errorf("CreateUser after rollback failed: %v", err)
	}
}

func TestWithTx_Nested(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		return tx.WithTx(ctx, func(inner Store) error {
			return inner.CreateUser(ctx, testUser("user-1", "carol"))
		})
	})
	if err != nil {
		t.Fatalf("nested WithTx failed: %v", err)
	}
	if _, err := store.GetUser(ctx, "user-1"); err != nil {
		t.Errorf("nested write not committed: %v", err)
	}
}

func TestWithTx_CloseRejected(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	_ = store.WithTx(ctx, func(tx Store) error {
		if err := tx.Close(); err == nil {
			t.Error("expected Close on transaction store to fail")
		}
		return nil
	})
}

func TestTimeRoundTripOrdering(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)

	if !(formatTime(a) < formatTime(b)) {
		t.Errorf("formatted times must sort: %q vs %q", formatTime(a), formatTime(b))
	}

	got, err := parseTime(formatTime(b))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !got.Equal(b) {
		t.Errorf("round trip mismatch: got %v, want %v", got, b)
	}

	legacy, err := parseTime("2026-01-02T03:04:05Z")
	if err != nil {
		t.Fatalf("parseTime RFC3339 failed: %v", err)
	}
	if !legacy.Equal(a) {
		t.Errorf("RFC3339 parse mismatch: got %v, want %v", legacy, a)
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func testUser(id, username string) *User {
	now := time.Now().UTC().Truncate(time.Second)
	return &User{
		ID:        id,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testPasskey(id, userID string, credentialID []byte) *Passkey {
	return &Passkey{
		ID:           id,
		UserID:       userID,
		CredentialID: credentialID,
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		DeviceName:   "Mac",
		Active:       true,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}
