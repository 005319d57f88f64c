// ABOUTME: Stable machine-readable error codes for every auth failure
// ABOUTME: Error carries the code, a human message and the HTTP status for the boundary

package auth

import (
	"errors"
	"net/http"
)

// Code is a stable machine-readable error kind. Clients branch on it, never on messages.
type Code string

const (
	CodeValidationFailed                   Code = "ValidationFailed"
	CodeUsernameRequired                   Code = "UsernameRequired"
	CodePasswordRequired                   Code = "PasswordRequired"
	CodeUsernameAlreadyExists              Code = "UsernameAlreadyExists"
	CodeInvalidCredentials                 Code = "InvalidCredentials"
	CodePasskeyRequired                    Code = "PasskeyRequired"
	CodeInvalidOrExpiredChallenge          Code = "InvalidOrExpiredChallenge"
	CodeUnauthenticated                    Code = "Unauthenticated"
	CodePasskeyAuthenticationFailed        Code = "PasskeyAuthenticationFailed"
	CodeCredentialNotFound                 Code = "CredentialNotFound"
	CodeNotFound                           Code = "NotFound"
	CodeForbidden                          Code = "Forbidden"
	CodePasswordAlreadyExists              Code = "PasswordAlreadyExists"
	CodeCredentialAlreadyRegistered        Code = "CredentialAlreadyRegistered"
	CodeChallengeRequired                  Code = "ChallengeRequired"
	CodeRegistrationFailed                 Code = "RegistrationFailed"
	CodeCannotRemovePasswordWithoutPasskey Code = "CannotRemovePasswordWithoutPasskey"
	CodeCannotRemoveLastAuthMethod         Code = "CannotRemoveLastAuthMethod"
	CodeUnknownService                     Code = "UnknownService"
	CodeUnknown                            Code = "Unknown"
)

// Error is an auth failure safe to show to clients. Reason holds diagnostic
// detail for logs only; Cause is the wrapped internal error, if any.
type Error struct {
	Code    Code
	Message string
	Status  int
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return string(e.Code) + ": " + e.Message + " (" + e.Reason + ")"
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so errors.Is(err, ErrX) works
// regardless of message, status or reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, status int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// with returns a copy carrying a reason and cause.
func (e *Error) with(reason string, cause error) *Error {
	cp := *e
	cp.Reason = reason
	cp.Cause = cause
	return &cp
}

// WithReason returns a copy carrying a diagnostic reason.
func (e *Error) WithReason(reason string) *Error {
	return e.with(reason, nil)
}

// withStatus returns a copy reporting a different HTTP status.
func (e *Error) withStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

var (
	ErrValidationFailed                   = newError(CodeValidationFailed, http.StatusBadRequest, "request validation failed")
	ErrUsernameRequired                   = newError(CodeUsernameRequired, http.StatusBadRequest, "username is required")
	ErrPasswordRequired                   = newError(CodePasswordRequired, http.StatusBadRequest, "password is required")
	ErrUsernameAlreadyExists              = newError(CodeUsernameAlreadyExists, http.StatusBadRequest, "username is already taken")
	ErrInvalidCredentials                 = newError(CodeInvalidCredentials, http.StatusUnauthorized, "invalid username or password")
	ErrPasskeyRequired                    = newError(CodePasskeyRequired, http.StatusUnauthorized, "this account signs in with a passkey")
	ErrInvalidOrExpiredChallenge          = newError(CodeInvalidOrExpiredChallenge, http.StatusBadRequest, "challenge is invalid or expired")
	ErrUnauthenticated                    = newError(CodeUnauthenticated, http.StatusUnauthorized, "authentication required")
	ErrPasskeyAuthenticationFailed        = newError(CodePasskeyAuthenticationFailed, http.StatusUnauthorized, "passkey authentication failed")
	ErrCredentialNotFound                 = newError(CodeCredentialNotFound, http.StatusUnauthorized, "passkey not recognized")
	ErrNotFound                           = newError(CodeNotFound, http.StatusNotFound, "not found")
	ErrForbidden                          = newError(CodeForbidden, http.StatusForbidden, "not allowed")
	ErrPasswordAlreadyExists              = newError(CodePasswordAlreadyExists, http.StatusBadRequest, "a password is already set")
	ErrCredentialAlreadyRegistered        = newError(CodeCredentialAlreadyRegistered, http.StatusBadRequest, "this passkey is already registered")
	ErrChallengeRequired                  = newError(CodeChallengeRequired, http.StatusBadRequest, "challenge is required")
	ErrRegistrationFailed                 = newError(CodeRegistrationFailed, http.StatusBadRequest, "passkey registration failed")
	ErrCannotRemovePasswordWithoutPasskey = newError(CodeCannotRemovePasswordWithoutPasskey, http.StatusBadRequest, "add a passkey before removing your password")
	ErrCannotRemoveLastAuthMethod         = newError(CodeCannotRemoveLastAuthMethod, http.StatusBadRequest, "cannot remove your last sign-in method")
	ErrUnknownService                     = newError(CodeUnknownService, http.StatusBadRequest, "unknown service")
	ErrUnknown                            = newError(CodeUnknown, http.StatusInternalServerError, "internal error")
)

// AsError converts any error into an *Error. Errors that are not already an
// *Error become ErrUnknown with err as the cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}
	return ErrUnknown.with("", err)
}

// internal wraps an unexpected store or crypto failure.
func internal(err error) error {
	return ErrUnknown.with("", err)
}
