// ABOUTME: Passkey flows: challenge issue, new-user registration, enrollment, login, list and delete
// ABOUTME: Maps passkey ceremony errors onto stable auth codes and logs their reasons

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/passkey"
	"github.com/2389/keyport/internal/session"
	"github.com/2389/keyport/internal/store"
)

func newID() string {
	return uuid.New().String()
}

// Attestation is a client's passkey creation response.
type Attestation struct {
	CredentialID      []byte
	AttestationObject []byte
	ClientDataJSON    []byte
	Transports        []string
	DeviceName        string
	UserAgent         string
}

// IssueChallenge returns a fresh single-use challenge. id may be nil; it
// never scopes the challenge.
func (s *Service) IssueChallenge(ctx context.Context, id *Identity) ([]byte, error) {
	var userID string
	if id != nil {
		userID = id.UserID
	}
	ch, err := s.challenges.Issue(ctx, userID)
	if err != nil {
		return nil, s.fail(err)
	}
	return ch, nil
}

// consumeChallenge validates the challenge the client signed. Registration
// requires this before the ceremony runs.
func (s *Service) consumeChallenge(ctx context.Context, clientDataJSON []byte) ([]byte, error) {
	if len(clientDataJSON) == 0 {
		return nil, ErrValidationFailed.with("clientDataJSON is required", nil)
	}
	if len(clientDataJSON) > s.passkeys.MaxBlobBytes() {
		return nil, ErrValidationFailed.with("clientDataJSON too large", nil)
	}
	ch := challenge.ExtractFromClientData(clientDataJSON)
	if ch == nil || !s.challenges.Validate(ctx, ch) {
		return nil, ErrInvalidOrExpiredChallenge
	}
	return ch, nil
}

func (a Attestation) input(ch []byte) passkey.RegistrationInput {
	return passkey.RegistrationInput{
		CredentialID:      a.CredentialID,
		AttestationObject: a.AttestationObject,
		ClientDataJSON:    a.ClientDataJSON,
		Transports:        a.Transports,
		DeviceName:        a.DeviceName,
		UserAgent:         a.UserAgent,
		Challenge:         ch,
	}
}

// RegisterWithPasskey creates a passwordless user, their first passkey and
// a session. The user, passkey and session are written in one transaction,
// so a failed ceremony leaves no account behind.
func (s *Service) RegisterWithPasskey(ctx context.Context, username string, att Attestation) (*Result, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	ch, err := s.consumeChallenge(ctx, att.ClientDataJSON)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &store.User{ID: newID(), Username: username, CreatedAt: now, UpdatedAt: now}

	var (
		pk     *store.Passkey
		issued *session.Issued
	)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		var err error
		if pk, err = s.passkeys.WithStore(tx).Register(ctx, user, att.input(ch)); err != nil {
			return err
		}
		if err := tx.RecordUserLogin(ctx, user.ID, now); err != nil {
			return err
		}
		if issued, err = s.sessions.WithStore(tx).Issue(ctx, user.ID, s.cfg.PasskeySessionTTL); err != nil {
			return err
		}
		if err := audit(ctx, tx, user.ID, store.AuditUserRegistered, pk, map[string]any{"method": "passkey"}); err != nil {
			return err
		}
		return audit(ctx, tx, user.ID, store.AuditPasskeyEnrolled, pk, map[string]any{"device_name": pk.DeviceName})
	})
	if err != nil {
		return nil, s.ceremonyFailed(err, "register", http.StatusBadRequest)
	}

	user.LastLoginAt = &now
	s.logger.Info("user registered", "user_id", user.ID, "method", "passkey", "passkey_id", pk.ID)
	return &Result{Token: issued.Token, ExpiresAt: issued.Session.ExpiresAt, User: user, Passkey: pk}, nil
}

// EnrollPasskey adds a passkey to the caller's account.
func (s *Service) EnrollPasskey(ctx context.Context, id Identity, att Attestation) (*store.Passkey, error) {
	ch, err := s.consumeChallenge(ctx, att.ClientDataJSON)
	if err != nil {
		return nil, err
	}

	var pk *store.Passkey
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		user, err := tx.GetUser(ctx, id.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthenticated
		}
		if err != nil {
			return err
		}
		if pk, err = s.passkeys.WithStore(tx).Register(ctx, user, att.input(ch)); err != nil {
			return err
		}
		return audit(ctx, tx, user.ID, store.AuditPasskeyEnrolled, pk, map[string]any{"device_name": pk.DeviceName})
	})
	if err != nil {
		return nil, s.ceremonyFailed(err, "enroll", http.StatusBadRequest)
	}
	s.logger.Info("passkey enrolled", "user_id", id.UserID, "passkey_id", pk.ID)
	return pk, nil
}

// LoginWithPasskey verifies an assertion and returns a passkey session.
func (s *Service) LoginWithPasskey(ctx context.Context, in passkey.AssertionInput) (*Result, error) {
	login, err := s.passkeys.Authenticate(ctx, in)
	if err != nil {
		return nil, s.ceremonyFailed(err, "login", http.StatusUnauthorized)
	}
	s.auditAfter(ctx, login.User.ID, store.AuditLogin, login.Passkey, map[string]any{"method": "passkey"})
	return &Result{
		Token:     login.Session.Token,
		ExpiresAt: login.Session.Session.ExpiresAt,
		User:      login.User,
		Passkey:   login.Passkey,
	}, nil
}

// ListPasskeys returns the caller's active passkeys, oldest first.
func (s *Service) ListPasskeys(ctx context.Context, id Identity) ([]*store.Passkey, error) {
	pks, err := s.store.ListActivePasskeys(ctx, id.UserID)
	if err != nil {
		return nil, s.fail(err)
	}
	return pks, nil
}

// DeletePasskey deactivates one of the caller's passkeys. The caller must
// keep a password or another active passkey.
func (s *Service) DeletePasskey(ctx context.Context, id Identity, passkeyID string) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		pk, err := tx.GetPasskey(ctx, passkeyID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !pk.Active {
			return ErrNotFound
		}
		if pk.UserID != id.UserID {
			return ErrForbidden
		}

		user, err := tx.GetUser(ctx, id.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthenticated
		}
		if err != nil {
			return err
		}
		if !user.HasPassword() {
			n, err := tx.CountActivePasskeys(ctx, id.UserID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return ErrCannotRemoveLastAuthMethod
			}
		}
		if err := tx.DeactivatePasskey(ctx, pk.ID); err != nil {
			return err
		}
		return audit(ctx, tx, id.UserID, store.AuditPasskeyRemoved, pk, nil)
	})
	if err != nil {
		return s.fail(err)
	}

	s.logger.Info("passkey removed", "user_id", id.UserID, "passkey_id", passkeyID)
	return nil
}

// ceremonyFailed maps passkey and store errors to auth errors. Ceremony
// failures during login report unauthorized.
func (s *Service) ceremonyFailed(err error, ceremony string, status int) error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}

	var reason string
	var cerr *passkey.CeremonyError
	if errors.As(err, &cerr) {
		reason = cerr.Reason
	}

	var mapped *Error
	switch {
	case errors.Is(err, store.ErrUsernameExists):
		mapped = ErrUsernameAlreadyExists
	case errors.Is(err, passkey.ErrCredentialAlreadyRegistered), errors.Is(err, store.ErrCredentialExists):
		mapped = ErrCredentialAlreadyRegistered
	case errors.Is(err, passkey.ErrChallengeRequired):
		mapped = ErrChallengeRequired
	case errors.Is(err, passkey.ErrRegistrationFailed):
		mapped = ErrRegistrationFailed.with(reason, err)
	case errors.Is(err, passkey.ErrCredentialNotFound):
		mapped = ErrCredentialNotFound
	case errors.Is(err, passkey.ErrInvalidOrExpiredChallenge):
		mapped = ErrInvalidOrExpiredChallenge.withStatus(status)
	case errors.Is(err, passkey.ErrAuthenticationFailed):
		mapped = ErrPasskeyAuthenticationFailed.with(reason, err)
	case errors.Is(err, passkey.ErrPayloadTooLarge), errors.Is(err, passkey.ErrMissingField):
		mapped = ErrValidationFailed.with(reason, err)
	default:
		return s.fail(err)
	}

	if mapped.Reason != "" {
		s.logger.Warn("passkey ceremony rejected", "ceremony", ceremony, "code", mapped.Code, "reason", mapped.Reason)
	}
	return mapped
}
