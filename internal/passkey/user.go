// ABOUTME: Adapts store users and passkeys to the go-webauthn User and Credential types
// ABOUTME: The WebAuthn user handle is the username encoded as bytes

package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/keyport/internal/store"
)

// webAuthnUser wraps a store.User to implement webauthn.User.
type webAuthnUser struct {
	user  *store.User
	creds []*store.Passkey
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return UserHandle(u.user)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, pk := range u.creds {
		creds[i] = toCredential(pk)
	}
	return creds
}

// UserHandle is the WebAuthn user handle for a user.
func UserHandle(u *store.User) []byte {
	return []byte(u.Username)
}

func toCredential(pk *store.Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, len(pk.Transports))
	for i, t := range pk.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}

	return webauthn.Credential{
		ID:              pk.CredentialID,
		PublicKey:       pk.PublicKey,
		AttestationType: pk.AttestationType,
		Transport:       transports,
		Flags:           webauthn.NewCredentialFlags(protocol.AuthenticatorFlags(pk.Flags)),
		Authenticator: webauthn.Authenticator{
			AAGUID:    pk.AAGUID,
			SignCount: pk.SignCount,
		},
	}
}
