// ABOUTME: Sentinel errors for passkey registration and assertion ceremonies
// ABOUTME: CeremonyError keeps the verifier's reason for logs without leaking it to clients

package passkey

import (
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
)

var (
	ErrCredentialAlreadyRegistered = errors.New("credential already registered")
	ErrChallengeRequired           = errors.New("challenge required")
	ErrRegistrationFailed          = errors.New("passkey registration failed")
	ErrCredentialNotFound          = errors.New("credential not found")
	ErrInvalidOrExpiredChallenge   = errors.New("invalid or expired challenge")
	ErrAuthenticationFailed        = errors.New("passkey authentication failed")
	ErrPayloadTooLarge             = errors.New("payload too large")
	ErrMissingField                = errors.New("missing required field")
)

// CeremonyError is a ceremony failure of a given kind with a diagnostic reason.
type CeremonyError struct {
	Kind   error
	Reason string
}

func (e *CeremonyError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *CeremonyError) Unwrap() error {
	return e.Kind
}

func fail(kind error, reason string) error {
	return &CeremonyError{Kind: kind, Reason: reason}
}

// failWith wraps a verifier error, preferring the library's developer info.
func failWith(kind error, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		reason := perr.Details
		if perr.DevInfo != "" {
			reason += " (" + perr.DevInfo + ")"
		}
		return fail(kind, reason)
	}
	return fail(kind, err.Error())
}
