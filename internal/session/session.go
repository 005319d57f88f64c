// ABOUTME: Opaque bearer token sessions: issue, resolve, revoke and purge
// ABOUTME: Only the SHA-256 of a token is stored; the raw token is returned once at issue time

package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/keyport/internal/store"
)

const (
	// TokenSize is the number of random bytes in a bearer token.
	TokenSize = 32

	// PasswordTTL is the lifetime of sessions minted by password login.
	PasswordTTL = 7 * 24 * time.Hour
	// PasskeyTTL is the lifetime of sessions minted by passkey ceremonies.
	PasskeyTTL = 30 * 24 * time.Hour
)

// Issued is a freshly minted session plus its raw token.
type Issued struct {
	Token   string
	Session *store.Session
}

// Resolved is a valid session with its owning user.
type Resolved struct {
	Session *store.Session
	User    *store.User
}

// Issuer mints and resolves sessions against a store.
type Issuer struct {
	store  store.Store
	now    func() time.Time
	rand   io.Reader
	logger *slog.Logger
}

// NewIssuer creates an Issuer backed by st.
func NewIssuer(st store.Store) *Issuer {
	return &Issuer{
		store:  st,
		now:    time.Now,
		rand:   rand.Reader,
		logger: slog.Default().With("component", "session"),
	}
}

// WithClock returns a copy of the Issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// WithStore returns a copy of the Issuer bound to st, typically a
// transaction-scoped store from store.WithTx.
func (i *Issuer) WithStore(st store.Store) *Issuer {
	cp := *i
	cp.store = st
	return &cp
}

// Issue mints a session for userID that expires ttl from now.
func (i *Issuer) Issue(ctx context.Context, userID string, ttl time.Duration) (*Issued, error) {
	raw := make([]byte, TokenSize)
	if _, err := io.ReadFull(i.rand, raw); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	now := i.now().UTC()
	sess := &store.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: hashToken(raw),
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := i.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Issued{
		Token:   base64.RawURLEncoding.EncodeToString(raw),
		Session: sess,
	}, nil
}

// Resolve returns the live session for rawToken, or nil when the token is
// malformed, unknown, inactive or expired. Only store failures are errors.
// A successful resolve records the access time.
func (i *Issuer) Resolve(ctx context.Context, rawToken string) (*Resolved, error) {
	hash, ok := HashToken(rawToken)
	if !ok {
		return nil, nil
	}

	sess, err := i.store.GetSessionByTokenHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	now := i.now().UTC()
	if !sess.ValidAt(now) {
		return nil, nil
	}

	user, err := i.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}

	if err := i.store.TouchSession(ctx, sess.ID, now); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	sess.LastAccessedAt = &now

	return &Resolved{Session: sess, User: user}, nil
}

// Revoke deactivates the session with this ID.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	if err := i.store.DeactivateSession(ctx, sessionID); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	i.logger.Info("session revoked", "session_id", sessionID)
	return nil
}

// PurgeExpired deletes sessions whose expiry has passed.
func (i *Issuer) PurgeExpired(ctx context.Context) (int64, error) {
	return i.store.DeleteExpiredSessions(ctx, i.now().UTC())
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (i *Issuer) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := i.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				i.logger.Error("purging expired sessions", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HashToken returns the storage hash for a raw bearer token. ok is false
// when the token does not decode to TokenSize bytes.
func HashToken(rawToken string) (hash string, ok bool) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(rawToken, "="))
	if err != nil || len(raw) != TokenSize {
		return "", false
	}
	return hashToken(raw), true
}

func hashToken(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
