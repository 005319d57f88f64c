// ABOUTME: Passkey assertion ceremony: verify a signature and mint a long-lived session
// ABOUTME: Counter regression is rejected; usage and session writes share one transaction

package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/session"
	"github.com/2389/keyport/internal/store"
)

// AssertionInput is a client's assertion response.
type AssertionInput struct {
	CredentialID      []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
	UserHandle        []byte
}

// Login is the outcome of a successful assertion.
type Login struct {
	User    *store.User
	Passkey *store.Passkey
	Session *session.Issued
}

// Authenticate verifies an assertion, consumes its challenge, advances the
// credential's counter and mints a session.
func (a *Authenticator) Authenticate(ctx context.Context, in AssertionInput) (*Login, error) {
	if len(in.CredentialID) == 0 || len(in.AuthenticatorData) == 0 || len(in.ClientDataJSON) == 0 || len(in.Signature) == 0 {
		return nil, fail(ErrMissingField, "credential id, authenticator data, client data and signature are required")
	}
	if len(in.CredentialID) > MaxCredentialIDBytes {
		return nil, fail(ErrPayloadTooLarge, fmt.Sprintf("credential id exceeds %d bytes", MaxCredentialIDBytes))
	}
	if err := a.checkSizes(map[string][]byte{
		"authenticatorData": in.AuthenticatorData,
		"clientDataJSON":    in.ClientDataJSON,
		"signature":         in.Signature,
		"userHandle":        in.UserHandle,
	}); err != nil {
		return nil, err
	}

	pk, err := a.store.GetPasskeyByCredentialID(ctx, in.CredentialID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}
	if !pk.Active {
		return nil, ErrCredentialNotFound
	}

	if !a.challenges.Validate(ctx, challenge.ExtractFromClientData(in.ClientDataJSON)) {
		return nil, ErrInvalidOrExpiredChallenge
	}

	owner, err := a.store.GetUser(ctx, pk.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential owner: %w", err)
	}

	if len(in.UserHandle) > 0 && !bytes.Equal(in.UserHandle, UserHandle(owner)) {
		return nil, fail(ErrAuthenticationFailed, "user handle does not match credential owner")
	}

	parsed, err := protocol.CredentialAssertionResponse{
		PublicKeyCredential: protocol.PublicKeyCredential{
			Credential: protocol.Credential{
				ID:   base64.RawURLEncoding.EncodeToString(in.CredentialID),
				Type: string(protocol.PublicKeyCredentialType),
			},
			RawID: in.CredentialID,
		},
		AssertionResponse: protocol.AuthenticatorAssertionResponse{
			AuthenticatorResponse: protocol.AuthenticatorResponse{ClientDataJSON: in.ClientDataJSON},
			AuthenticatorData:     in.AuthenticatorData,
			Signature:             in.Signature,
			UserHandle:            in.UserHandle,
		},
	}.Parse()
	if err != nil {
		return nil, failWith(ErrAuthenticationFailed, err)
	}

	waUser := &webAuthnUser{user: owner, creds: []*store.Passkey{pk}}
	sess := webauthn.SessionData{
		Challenge:            parsed.Response.CollectedClientData.Challenge,
		RelyingPartyID:       a.rpID,
		UserID:               waUser.WebAuthnID(),
		AllowedCredentialIDs: [][]byte{pk.CredentialID},
		UserVerification:     protocol.VerificationPreferred,
	}

	cred, err := a.verifier.ValidateLogin(waUser, sess, parsed)
	if err != nil {
		return nil, failWith(ErrAuthenticationFailed, err)
	}
	if cred.Authenticator.CloneWarning {
		a.logger.Warn("signature counter did not advance",
			"passkey_id", pk.ID,
			"stored", pk.SignCount,
			"received", parsed.Response.AuthenticatorData.Counter,
		)
		return nil, fail(ErrAuthenticationFailed, "signature counter did not advance")
	}

	now := a.now().UTC()
	var issued *session.Issued
	err = a.store.WithTx(ctx, func(tx store.Store) error {
		flags := uint8(parsed.Response.AuthenticatorData.Flags)
		if err := tx.UpdatePasskeyUsage(ctx, pk.ID, cred.Authenticator.SignCount, flags, now); err != nil {
			return fmt.Errorf("recording passkey usage: %w", err)
		}
		if err := tx.RecordUserLogin(ctx, owner.ID, now); err != nil {
			return fmt.Errorf("recording login: %w", err)
		}
		var err error
		issued, err = a.sessions.WithStore(tx).Issue(ctx, owner.ID, a.sessionTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	pk.SignCount = cred.Authenticator.SignCount
	pk.Flags = uint8(parsed.Response.AuthenticatorData.Flags)
	pk.LastUsedAt = &now

	a.logger.Info("passkey login", "user_id", owner.ID, "passkey_id", pk.ID)
	return &Login{User: owner, Passkey: pk, Session: issued}, nil
}

// RequestOptions returns the options a browser passes to
// navigator.credentials.get. allowed may be empty for discoverable credentials.
func (a *Authenticator) RequestOptions(challengeBytes []byte, timeoutMillis int, allowed []*store.Passkey) protocol.PublicKeyCredentialRequestOptions {
	descriptors := make([]protocol.CredentialDescriptor, 0, len(allowed))
	for _, pk := range allowed {
		cred := toCredential(pk)
		descriptors = append(descriptors, cred.Descriptor())
	}
	return protocol.PublicKeyCredentialRequestOptions{
		Challenge:          challengeBytes,
		Timeout:            timeoutMillis,
		RelyingPartyID:     a.rpID,
		AllowedCredentials: descriptors,
		UserVerification:   protocol.VerificationPreferred,
	}
}
