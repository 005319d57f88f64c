// ABOUTME: Passkey registration ceremony: verify an attestation and persist the credential
// ABOUTME: The caller validates the challenge; this binds it to the client data and verifies the rest

package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/store"
)

// RegistrationInput is a client's attestation response plus its context.
type RegistrationInput struct {
	CredentialID      []byte
	AttestationObject []byte
	ClientDataJSON    []byte
	Transports        []string
	DeviceName        string
	UserAgent         string
	// Challenge must already have been validated by the caller.
	Challenge []byte
}

// Register verifies an attestation for user and stores the new passkey.
// Callers must consume the challenge before calling Register.
func (a *Authenticator) Register(ctx context.Context, user *store.User, in RegistrationInput) (*store.Passkey, error) {
	if len(in.CredentialID) == 0 || len(in.AttestationObject) == 0 || len(in.ClientDataJSON) == 0 {
		return nil, fail(ErrMissingField, "credential id, attestation object and client data are required")
	}
	if len(in.CredentialID) > MaxCredentialIDBytes {
		return nil, fail(ErrPayloadTooLarge, fmt.Sprintf("credential id exceeds %d bytes", MaxCredentialIDBytes))
	}
	if err := a.checkSizes(map[string][]byte{
		"attestationObject": in.AttestationObject,
		"clientDataJSON":    in.ClientDataJSON,
	}); err != nil {
		return nil, err
	}

	exists, err := a.store.CredentialIDExists(ctx, in.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("checking credential: %w", err)
	}
	if exists {
		return nil, ErrCredentialAlreadyRegistered
	}

	if len(in.Challenge) == 0 {
		return nil, ErrChallengeRequired
	}
	if !bytes.Equal(challenge.ExtractFromClientData(in.ClientDataJSON), in.Challenge) {
		return nil, fail(ErrRegistrationFailed, "client data challenge does not match")
	}

	parsed, err := protocol.CredentialCreationResponse{
		PublicKeyCredential: protocol.PublicKeyCredential{
			Credential: protocol.Credential{
				ID:   base64.RawURLEncoding.EncodeToString(in.CredentialID),
				Type: string(protocol.PublicKeyCredentialType),
			},
			RawID: in.CredentialID,
		},
		AttestationResponse: protocol.AuthenticatorAttestationResponse{
			AuthenticatorResponse: protocol.AuthenticatorResponse{ClientDataJSON: in.ClientDataJSON},
			AttestationObject:     in.AttestationObject,
			Transports:            in.Transports,
		},
	}.Parse()
	if err != nil {
		return nil, failWith(ErrRegistrationFailed, err)
	}

	waUser := &webAuthnUser{user: user}
	sess := webauthn.SessionData{
		Challenge:        parsed.Response.CollectedClientData.Challenge,
		RelyingPartyID:   a.rpID,
		UserID:           waUser.WebAuthnID(),
		UserVerification: protocol.VerificationPreferred,
		CredParams:       webauthn.CredentialParametersRecommendedL3(),
	}

	cred, err := a.verifier.CreateCredential(waUser, sess, parsed)
	if err != nil {
		return nil, failWith(ErrRegistrationFailed, err)
	}
	if !bytes.Equal(cred.ID, in.CredentialID) {
		return nil, fail(ErrRegistrationFailed, "attested credential id does not match")
	}

	transports := make([]string, len(cred.Transport))
	for i, t := range cred.Transport {
		transports[i] = string(t)
	}

	pk := &store.Passkey{
		ID:              uuid.New().String(),
		UserID:          user.ID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		AAGUID:          cred.Authenticator.AAGUID,
		Flags:           uint8(parsed.Response.AttestationObject.AuthData.Flags),
		SignCount:       cred.Authenticator.SignCount,
		DeviceName:      DeviceName(in.DeviceName, in.UserAgent),
		UserAgent:       in.UserAgent,
		Active:          true,
		CreatedAt:       a.now().UTC(),
	}
	if err := a.store.CreatePasskey(ctx, pk); err != nil {
		if errors.Is(err, store.ErrCredentialExists) {
			return nil, ErrCredentialAlreadyRegistered
		}
		return nil, fmt.Errorf("storing passkey: %w", err)
	}

	a.logger.Info("passkey registered",
		"user_id", user.ID,
		"passkey_id", pk.ID,
		"attestation", pk.AttestationType,
		"device", pk.DeviceName,
	)
	return pk, nil
}

// CreationOptions returns the options a browser passes to
// navigator.credentials.create for user with challenge.
func (a *Authenticator) CreationOptions(username string, challengeBytes []byte, timeoutMillis int) protocol.PublicKeyCredentialCreationOptions {
	return protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: a.rpID},
			ID:               a.rpID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: username},
			DisplayName:      username,
			ID:               protocol.URLEncodedBase64(username),
		},
		Challenge:  challengeBytes,
		Parameters: webauthn.CredentialParametersRecommendedL3(),
		Timeout:    timeoutMillis,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationPreferred,
		},
		Attestation: protocol.PreferNoAttestation,
	}
}
