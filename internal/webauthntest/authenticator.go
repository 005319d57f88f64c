// ABOUTME: Software WebAuthn authenticator for tests: ES256 keys, none or packed attestation
// ABOUTME: Produces byte-exact authenticator data, attestation objects and assertion signatures

package webauthntest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator data flag bits.
const (
	FlagUserPresent    byte = 0x01
	FlagUserVerified   byte = 0x04
	FlagBackupEligible byte = 0x08
	FlagBackupState    byte = 0x10
	FlagAttestedData   byte = 0x40
)

const (
	coseAlgES256  = -7
	coseKeyEC2    = 2
	coseCurveP256 = 1
)

// Format selects the attestation statement format.
type Format string

const (
	FormatNone   Format = "none"
	FormatPacked Format = "packed"
)

// Credential is a key pair held by the authenticator.
type Credential struct {
	ID         []byte
	Key        *ecdsa.PrivateKey
	UserHandle []byte
	SignCount  uint32
}

// Authenticator emulates a platform authenticator bound to one origin.
type Authenticator struct {
	RPID   string
	Origin string
	AAGUID []byte
	// Flags are OR-ed into every authenticator data this device produces.
	Flags byte
	// CounterStep is added to a credential's counter on each assertion. Zero
	// emulates an authenticator without a signature counter.
	CounterStep uint32

	enc cbor.EncMode
}

// New returns an authenticator for rpID that reports origin in client data.
func New(rpID, origin string) *Authenticator {
	enc, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("webauthntest: cbor enc mode: %v", err))
	}
	return &Authenticator{
		RPID:        rpID,
		Origin:      origin,
		AAGUID:      make([]byte, 16),
		Flags:       FlagUserPresent | FlagUserVerified,
		CounterStep: 1,
		enc:         enc,
	}
}

// Attestation is the client-visible output of navigator.credentials.create.
type Attestation struct {
	CredentialID      []byte
	AttestationObject []byte
	ClientDataJSON    []byte
	Transports        []string
	Credential        *Credential
}

// Assertion is the client-visible output of navigator.credentials.get.
type Assertion struct {
	CredentialID      []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
	UserHandle        []byte
}

// Create makes a new credential for userHandle over challenge.
func (a *Authenticator) Create(challenge, userHandle []byte, format Format) (*Attestation, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}
	cred := &Credential{ID: credID, Key: key, UserHandle: userHandle}

	clientData, err := a.ClientData("webauthn.create", challenge)
	if err != nil {
		return nil, err
	}

	pubKey, err := a.coseKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	authData := a.authData(a.Flags|FlagAttestedData, 0)
	authData = append(authData, a.AAGUID...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(credID)))
	authData = append(authData, credID...)
	authData = append(authData, pubKey...)

	attStmt := map[string]any{}
	if format == FormatPacked {
		sig, err := sign(key, authData, clientData)
		if err != nil {
			return nil, err
		}
		attStmt = map[string]any{"alg": coseAlgES256, "sig": sig}
	}

	attObj, err := a.enc.Marshal(map[string]any{
		"fmt":      string(format),
		"attStmt":  attStmt,
		"authData": authData,
	})
	if err != nil {
		return nil, err
	}

	return &Attestation{
		CredentialID:      credID,
		AttestationObject: attObj,
		ClientDataJSON:    clientData,
		Transports:        []string{"internal", "hybrid"},
		Credential:        cred,
	}, nil
}

// Get signs challenge with cred, advancing its counter by CounterStep.
func (a *Authenticator) Get(cred *Credential, challenge []byte) (*Assertion, error) {
	cred.SignCount += a.CounterStep
	return a.GetWithCounter(cred, challenge, cred.SignCount)
}

// GetWithCounter signs challenge reporting an explicit counter value.
func (a *Authenticator) GetWithCounter(cred *Credential, challenge []byte, counter uint32) (*Assertion, error) {
	clientData, err := a.ClientData("webauthn.get", challenge)
	if err != nil {
		return nil, err
	}
	authData := a.authData(a.Flags, counter)

	sig, err := sign(cred.Key, authData, clientData)
	if err != nil {
		return nil, err
	}

	return &Assertion{
		CredentialID:      cred.ID,
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
		UserHandle:        cred.UserHandle,
	}, nil
}

// ClientData renders collected client data the way browsers do.
func (a *Authenticator) ClientData(ceremony string, challenge []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":        ceremony,
		"challenge":   base64.RawURLEncoding.EncodeToString(challenge),
		"origin":      a.Origin,
		"crossOrigin": false,
	})
}

func (a *Authenticator) authData(flags byte, counter uint32) []byte {
	rpHash := sha256.Sum256([]byte(a.RPID))
	out := make([]byte, 0, 37)
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	return binary.BigEndian.AppendUint32(out, counter)
}

func (a *Authenticator) coseKey(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdh, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	// Uncompressed point: 0x04 || X || Y.
	point := ecdh.Bytes()
	return a.enc.Marshal(map[int]any{
		1:  coseKeyEC2,
		3:  coseAlgES256,
		-1: coseCurveP256,
		-2: point[1:33],
		-3: point[33:65],
	})
}

func sign(key *ecdsa.PrivateKey, authData, clientData []byte) ([]byte, error) {
	clientHash := sha256.Sum256(clientData)
	signed := make([]byte, 0, len(authData)+len(clientHash))
	signed = append(signed, authData...)
	signed = append(signed, clientHash[:]...)
	digest := sha256.Sum256(signed)
	return ecdsa.SignASN1(rand.Reader, key, digest[:])
}
