// ABOUTME: Auth service: password and passkey flows plus the auth-method policy gate
// ABOUTME: Every multi-row mutation runs in one store transaction; failures become *Error

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/passkey"
	"github.com/2389/keyport/internal/password"
	"github.com/2389/keyport/internal/session"
	"github.com/2389/keyport/internal/store"
)

// MaxUsernameBytes bounds usernames after trimming.
const MaxUsernameBytes = 64

// Config holds the service's session lifetimes.
type Config struct {
	PasswordSessionTTL time.Duration
	PasskeySessionTTL  time.Duration
}

// Identity is the immutable result of resolving a bearer token.
type Identity struct {
	UserID    string
	Username  string
	SessionID string
}

// Result is a successful login or registration that minted a session.
type Result struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
	Passkey   *store.Passkey
}

// Profile describes the caller's account and sign-in methods.
type Profile struct {
	User         *store.User
	HasPassword  bool
	PasskeyCount int
}

// Service implements every auth operation.
type Service struct {
	store      store.Store
	hasher     *password.Hasher
	challenges *challenge.Service
	passkeys   *passkey.Authenticator
	sessions   *session.Issuer
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the auth service. Zero TTLs select the session package defaults.
func NewService(st store.Store, hasher *password.Hasher, challenges *challenge.Service, passkeys *passkey.Authenticator, sessions *session.Issuer, cfg Config) *Service {
	if cfg.PasswordSessionTTL <= 0 {
		cfg.PasswordSessionTTL = session.PasswordTTL
	}
	if cfg.PasskeySessionTTL <= 0 {
		cfg.PasskeySessionTTL = session.PasskeyTTL
	}
	return &Service{
		store:      st,
		hasher:     hasher,
		challenges: challenges,
		passkeys:   passkeys,
		sessions:   sessions,
		cfg:        cfg,
		now:        time.Now,
		logger:     slog.Default().With("component", "auth"),
	}
}

// normalizeUsername trims whitespace and enforces presence and length.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}
	if len(username) > MaxUsernameBytes {
		return "", ErrValidationFailed.with(fmt.Sprintf("username exceeds %d bytes", MaxUsernameBytes), nil)
	}
	return username, nil
}

func (s *Service) hashPassword(pw string) (string, error) {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return "", internal(err)
	}
	return hash, nil
}

// RegisterPassword creates a user who signs in with a password.
func (s *Service) RegisterPassword(ctx context.Context, username, pw string) (*store.User, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, ErrPasswordRequired
	}

	hash, err := s.hashPassword(pw)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &store.User{
		ID:           newID(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return audit(ctx, tx, user.ID, store.AuditUserRegistered, nil, map[string]any{"method": "password"})
	})
	if err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			return nil, ErrUsernameAlreadyExists
		}
		return nil, internal(err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "method", "password")
	return user, nil
}

// UsernameExists reports whether username is taken.
func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return false, err
	}
	exists, err := s.store.UsernameExists(ctx, username)
	if err != nil {
		return false, internal(err)
	}
	return exists, nil
}

// LoginPassword verifies a password and mints a password-login session.
// Accounts without a password fail with ErrPasskeyRequired.
func (s *Service) LoginPassword(ctx context.Context, username, pw string) (*Result, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, ErrPasswordRequired
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		s.hasher.VerifyDummy(pw)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, internal(err)
	}
	if !user.HasPassword() {
		return nil, ErrPasskeyRequired
	}

	ok, needsRehash := s.hasher.Verify(user.PasswordHash, pw)
	if !ok {
		s.logger.Info("password login failed", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	var rehash string
	if needsRehash {
		if rehash, err = s.hasher.Hash(pw); err != nil {
			s.logger.Warn("rehashing password", "user_id", user.ID, "error", err)
			rehash = ""
		}
	}

	now := s.now().UTC()
	var issued *session.Issued
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if rehash != "" {
			if err := tx.UpdateUserPassword(ctx, user.ID, rehash); err != nil {
				return err
			}
		}
		if err := tx.RecordUserLogin(ctx, user.ID, now); err != nil {
			return err
		}
		var err error
		if issued, err = s.sessions.WithStore(tx).Issue(ctx, user.ID, s.cfg.PasswordSessionTTL); err != nil {
			return err
		}
		return audit(ctx, tx, user.ID, store.AuditLogin, nil, map[string]any{"method": "password"})
	})
	if err != nil {
		return nil, internal(err)
	}
	if rehash != "" {
		s.logger.Info("password rehashed", "user_id", user.ID, "algorithm", s.hasher.Algorithm())
	}

	user.LastLoginAt = &now
	s.logger.Info("password login", "user_id", user.ID, "session_id", issued.Session.ID)
	return &Result{Token: issued.Token, ExpiresAt: issued.Session.ExpiresAt, User: user}, nil
}

// CreatePassword sets a password for an account that has none.
func (s *Service) CreatePassword(ctx context.Context, id Identity, pw string) error {
	if pw == "" {
		return ErrPasswordRequired
	}
	hash, err := s.hashPassword(pw)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		user, err := tx.GetUser(ctx, id.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthenticated
		}
		if err != nil {
			return err
		}
		if user.HasPassword() {
			return ErrPasswordAlreadyExists
		}
		if err := tx.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return err
		}
		return audit(ctx, tx, user.ID, store.AuditPasswordSet, nil, nil)
	})
	if err != nil {
		return s.fail(err)
	}

	s.logger.Info("password created", "user_id", id.UserID)
	return nil
}

// RemovePassword clears the caller's password. The caller must keep at
// least one active passkey.
func (s *Service) RemovePassword(ctx context.Context, id Identity) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetUser(ctx, id.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnauthenticated
			}
			return err
		}
		n, err := tx.CountActivePasskeys(ctx, id.UserID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCannotRemovePasswordWithoutPasskey
		}
		if err := tx.UpdateUserPassword(ctx, id.UserID, ""); err != nil {
			return err
		}
		return audit(ctx, tx, id.UserID, store.AuditPasswordRemoved, nil, nil)
	})
	if err != nil {
		return s.fail(err)
	}

	s.logger.Info("password removed", "user_id", id.UserID)
	return nil
}

// Logout revokes the caller's current session.
func (s *Service) Logout(ctx context.Context, id Identity) error {
	if err := s.sessions.Revoke(ctx, id.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return internal(err)
	}
	s.auditAfter(ctx, id.UserID, store.AuditLogout, nil, map[string]any{"session_id": id.SessionID})
	return nil
}

// Resolve turns a raw bearer token into an Identity, or nil when the token
// does not name a live session.
func (s *Service) Resolve(ctx context.Context, rawToken string) (*Identity, error) {
	resolved, err := s.sessions.Resolve(ctx, rawToken)
	if err != nil {
		return nil, internal(err)
	}
	if resolved == nil {
		return nil, nil
	}
	return &Identity{
		UserID:    resolved.User.ID,
		Username:  resolved.User.Username,
		SessionID: resolved.Session.ID,
	}, nil
}

// Profile returns the caller's account summary.
func (s *Service) Profile(ctx context.Context, id Identity) (*Profile, error) {
	user, err := s.store.GetUser(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, internal(err)
	}
	n, err := s.store.CountActivePasskeys(ctx, id.UserID)
	if err != nil {
		return nil, internal(err)
	}
	return &Profile{User: user, HasPassword: user.HasPassword(), PasskeyCount: n}, nil
}

// fail converts err to an *Error, logging unexpected causes.
func (s *Service) fail(err error) error {
	aerr := AsError(err)
	if aerr.Code == CodeUnknown {
		s.logger.Error("auth operation failed", "error", err)
	}
	return aerr
}
