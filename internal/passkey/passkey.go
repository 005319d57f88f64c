// ABOUTME: Passkey authenticator: WebAuthn registration and assertion against the store
// ABOUTME: Protocol verification is delegated to go-webauthn behind the Verifier interface

package passkey

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/session"
	"github.com/2389/keyport/internal/store"
)

const (
	// DefaultMaxBlobBytes caps every binary field a client submits.
	DefaultMaxBlobBytes = 16 * 1024
	// MaxCredentialIDBytes is the WebAuthn upper bound on credential ID length.
	MaxCredentialIDBytes = 1023
)

// Config describes the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	MaxBlobBytes  int
	// SessionTTL is the lifetime of sessions minted by assertion; zero selects session.PasskeyTTL.
	SessionTTL time.Duration
}

// Verifier performs WebAuthn protocol verification. *webauthn.WebAuthn
// satisfies it; tests may substitute fakes.
type Verifier interface {
	CreateCredential(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// NewWebAuthn builds the go-webauthn relying party for cfg.
func NewWebAuthn(cfg Config) (*webauthn.WebAuthn, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPDisplayName,
		RPOrigins:             cfg.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationPreferred,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	return wa, nil
}

// DeriveRelyingParty returns the RP ID and allowed origins for a public
// base URL. An empty base URL yields localhost defaults; both schemes of the
// configured host are accepted so TLS-terminating proxies work.
func DeriveRelyingParty(baseURL string) (rpID string, origins []string, err error) {
	if baseURL == "" {
		return "localhost", []string{"http://localhost", "https://localhost"}, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Hostname() == "" {
		return "", nil, fmt.Errorf("base url %q has no host", baseURL)
	}

	rpID = u.Hostname()
	origin := u.Scheme + "://" + u.Host
	origins = []string{origin}
	switch u.Scheme {
	case "https":
		origins = append(origins, "http://"+u.Host)
	case "http":
		origins = append(origins, "https://"+u.Host)
	}
	return rpID, origins, nil
}

// Authenticator runs passkey ceremonies.
type Authenticator struct {
	store      store.Store
	verifier   Verifier
	challenges *challenge.Service
	sessions   *session.Issuer
	rpID       string
	maxBlob    int
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an Authenticator. challenges validates assertion challenges
// and sessions mints the session returned by a successful assertion.
func New(st store.Store, cfg Config, verifier Verifier, challenges *challenge.Service, sessions *session.Issuer) *Authenticator {
	maxBlob := cfg.MaxBlobBytes
	if maxBlob <= 0 {
		maxBlob = DefaultMaxBlobBytes
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = session.PasskeyTTL
	}
	return &Authenticator{
		store:      st,
		verifier:   verifier,
		challenges: challenges,
		sessions:   sessions,
		rpID:       cfg.RPID,
		maxBlob:    maxBlob,
		sessionTTL: sessionTTL,
		now:        time.Now,
		logger:     slog.Default().With("component", "passkey"),
	}
}

// WithStore returns a copy bound to st, typically a transaction-scoped store.
func (a *Authenticator) WithStore(st store.Store) *Authenticator {
	cp := *a
	cp.store = st
	cp.sessions = a.sessions.WithStore(st)
	return &cp
}

// WithClock returns a copy that reads time from now.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	cp := *a
	cp.now = now
	cp.sessions = a.sessions.WithClock(now)
	return &cp
}

// RPID is the relying party identifier ceremonies are bound to.
func (a *Authenticator) RPID() string {
	return a.rpID
}

// MaxBlobBytes is the cap applied to each binary field.
func (a *Authenticator) MaxBlobBytes() int {
	return a.maxBlob
}

func (a *Authenticator) checkSizes(fields map[string][]byte) error {
	for name, b := range fields {
		if len(b) > a.maxBlob {
			return fail(ErrPayloadTooLarge, fmt.Sprintf("%s exceeds %d bytes", name, a.maxBlob))
		}
	}
	return nil
}
