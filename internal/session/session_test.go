// ABOUTME: Tests for session issuance and resolution
// ABOUTME: Covers hashing at rest, expiry boundary, deactivation, malformed tokens and purge

package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/keyport/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s store.Store, id, username string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(context.Background(), &store.User{
		ID: id, Username: username, CreatedAt: now, UpdatedAt: now,
	}))
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestIssue_StoresOnlyHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "alice")
	issuer := NewIssuer(s)

	issued, err := issuer.Issue(ctx, "user-1", PasswordTTL)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	assert.NotEqual(t, issued.Token, issued.Session.TokenHash)
	assert.NotContains(t, issued.Session.TokenHash, issued.Token)
	assert.Len(t, issued.Session.TokenHash, 64, "hex sha-256")

	hash, ok := HashToken(issued.Token)
	require.True(t, ok)
	stored, err := s.GetSessionByTokenHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, issued.Session.ID, stored.ID)
	assert.Equal(t, PasswordTTL, stored.ExpiresAt.Sub(stored.CreatedAt))
}

func TestIssue_TokensAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "alice")
	issuer := NewIssuer(s)

	a, err := issuer.Issue(ctx, "user-1", PasskeyTTL)
	require.NoError(t, err)
	b, err := issuer.Issue(ctx, "user-1", PasskeyTTL)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestResolve_ValidUntilExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "alice")

	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := NewIssuer(s).WithClock(c.Now)

	issued, err := issuer.Issue(ctx, "user-1", PasswordTTL)
	require.NoError(t, err)

	c.t = c.t.Add(PasswordTTL - time.Second)
	resolved, err := issuer.Resolve(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "alice", resolved.User.Username)
	require.NotNil(t, resolved.Session.LastAccessedAt)
	assert.True(t, resolved.Session.LastAccessedAt.Equal(c.t))

	stored, err := s.GetSessionByTokenHash(ctx, issued.Session.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, stored.LastAccessedAt, "resolve persists last access")

	c.t = c.t.Add(time.Second)
	resolved, err = issuer.Resolve(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, resolved, "expired at exactly expiresAt")
}

func TestResolve_Revoked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "alice")
	issuer := NewIssuer(s)

	issued, err := issuer.Issue(ctx, "user-1", PasskeyTTL)
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(ctx, issued.Session.ID))

	resolved, err := issuer.Resolve(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestResolve_MalformedAndUnknown(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	issuer := NewIssuer(s)

	for _, token := range []string{"", "not base64 !!", "AQID", strings.Repeat("A", 43), strings.Repeat("A", 200)} {
		resolved, err := issuer.Resolve(ctx, token)
		assert.NoError(t, err, "token %q", token)
		assert.Nil(t, resolved, "token %q", token)
	}
}

func TestHashToken(t *testing.T) {
	_, ok := HashToken("short")
	assert.False(t, ok)

	token := strings.Repeat("A", 43) // 32 zero bytes
	hash, ok := HashToken(token)
	require.True(t, ok)
	assert.Equal(t, "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925", hash)

	padded, ok := HashToken(token + "=")
	require.True(t, ok)
	assert.Equal(t, hash, padded, "trailing padding is tolerated")
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "alice")

	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := NewIssuer(s).WithClock(c.Now)

	short, err := issuer.Issue(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	long, err := issuer.Issue(ctx, "user-1", PasskeyTTL)
	require.NoError(t, err)

	c.t = c.t.Add(2 * time.Hour)
	n, err := issuer.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSessionByTokenHash(ctx, short.Session.TokenHash)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSessionByTokenHash(ctx, long.Session.TokenHash)
	assert.NoError(t, err)
}

func TestRunPurger_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	issuer := NewIssuer(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		issuer.RunPurger(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPurger did not stop after cancel")
	}
}
