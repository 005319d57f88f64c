// ABOUTME: Store interfaces and data types for keyport persistence
// ABOUTME: Defines User, Passkey, Session, Connection and audit types plus the transactional Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when creating a user whose username is taken
var ErrUsernameExists = errors.New("username already exists")

// ErrCredentialExists is returned when a WebAuthn credential id is already bound to any user
var ErrCredentialExists = errors.New("credential already registered")

// User is the identity anchor. An empty PasswordHash means password login is disabled.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Passkey is one enrolled WebAuthn authenticator.
type Passkey struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte // COSE-encoded
	AttestationType string
	Transports      []string
	AAGUID          []byte
	Flags           uint8 // raw authenticator data flags at registration/last use
	SignCount       uint32
	DeviceName      string
	UserAgent       string
	Active          bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// Session is a live login. Only the hash of the bearer token is stored.
type Session struct {
	ID             string
	UserID         string
	TokenHash      string
	Active         bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt *time.Time
}

// ValidAt reports whether the session is active and not expired at t.
func (s *Session) ValidAt(t time.Time) bool {
	return s.Active && t.Before(s.ExpiresAt)
}

// Connection is a user's saved API key for an external service.
type Connection struct {
	ID        string
	UserID    string
	Service   string
	APIKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore persists users.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrUsernameExists on a duplicate username.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	// UpdateUserPassword sets the password hash; an empty hash disables password login.
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	RecordUserLogin(ctx context.Context, id string, at time.Time) error
}

// PasskeyStore persists WebAuthn credentials.
type PasskeyStore interface {
	// CreatePasskey inserts a credential. Returns ErrCredentialExists when the
	// credential id is already stored for any user, active or not.
	CreatePasskey(ctx context.Context, pk *Passkey) error
	GetPasskey(ctx context.Context, id string) (*Passkey, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*Passkey, error)
	CredentialIDExists(ctx context.Context, credentialID []byte) (bool, error)
	// ListActivePasskeys returns the user's active passkeys, oldest first.
	ListActivePasskeys(ctx context.Context, userID string) ([]*Passkey, error)
	CountActivePasskeys(ctx context.Context, userID string) (int, error)
	UpdatePasskeyUsage(ctx context.Context, id string, signCount uint32, flags uint8, usedAt time.Time) error
	DeactivatePasskey(ctx context.Context, id string) error
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes sessions that expired before the given time.
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// ConnectionStore persists per-user external API keys.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, service string) (*Connection, error)
	// SaveConnection inserts or replaces the key for (UserID, Service).
	SaveConnection(ctx context.Context, conn *Connection) error
	ListConnections(ctx context.Context, userID string) ([]*Connection, error)
}

// AuditStore persists the per-user account activity log.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	// ListAuditLog returns entries for f.UserID, newest first.
	ListAuditLog(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
}

// Store is the full persistence contract.
type Store interface {
	UserStore
	PasskeyStore
	SessionStore
	ConnectionStore
	AuditStore

	// WithTx runs fn against a Store bound to a single transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	// Nested calls reuse the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
