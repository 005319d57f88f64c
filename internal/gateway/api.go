// ABOUTME: JSON HTTP API handlers for password, passkey, session and connection operations
// ABOUTME: Decodes and validates request bodies, calls the auth services and writes JSON responses

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/2389/keyport/internal/auth"
	"github.com/2389/keyport/internal/connections"
	"github.com/2389/keyport/internal/passkey"
	"github.com/2389/keyport/internal/store"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 64 * 1024

// API serves the keyport JSON endpoints.
type API struct {
	auth        *auth.Service
	passkeys    *passkey.Authenticator
	connections *connections.Service
	validate    *validator.Validate
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAPI creates the HTTP API. challengeTTL is advertised to browsers as
// the ceremony timeout.
func NewAPI(authSvc *auth.Service, passkeys *passkey.Authenticator, conns *connections.Service, challengeTTL time.Duration) *API {
	return &API{
		auth:        authSvc,
		passkeys:    passkeys,
		connections: conns,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		timeout:     challengeTTL,
		logger:      slog.Default().With("component", "api"),
	}
}

// Request bodies. Binary WebAuthn fields are base64url with optional padding.

// PasswordCredentialsRequest is the body of POST /api/auth/register and /api/auth/login.
type PasswordCredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetPasswordRequest is the body of POST /api/auth/password.
type SetPasswordRequest struct {
	Password string `json:"password"`
}

// AttestationRequest is the body of POST /api/webauthn/register and /api/webauthn/enroll.
type AttestationRequest struct {
	Username          string                    `json:"username,omitempty"`
	CredentialID      protocol.URLEncodedBase64 `json:"credentialId" validate:"required,min=1"`
	AttestationObject protocol.URLEncodedBase64 `json:"attestationObject" validate:"required,min=1"`
	ClientDataJSON    protocol.URLEncodedBase64 `json:"clientDataJSON" validate:"required,min=1"`
	Transports        []string                  `json:"transports,omitempty" validate:"max=8,dive,max=32"`
	DeviceName        string                    `json:"deviceName,omitempty" validate:"max=100"`
}

// AssertionRequest is the body of POST /api/webauthn/login.
type AssertionRequest struct {
	CredentialID      protocol.URLEncodedBase64 `json:"credentialId" validate:"required,min=1"`
	AuthenticatorData protocol.URLEncodedBase64 `json:"authenticatorData" validate:"required,min=1"`
	ClientDataJSON    protocol.URLEncodedBase64 `json:"clientDataJSON" validate:"required,min=1"`
	Signature         protocol.URLEncodedBase64 `json:"signature" validate:"required,min=1"`
	UserHandle        protocol.URLEncodedBase64 `json:"userHandle,omitempty"`
}

// SaveConnectionRequest is the body of PUT /api/connections/{service}.
type SaveConnectionRequest struct {
	APIKey string `json:"apiKey"`
}

// Response bodies.

// UserResponse is the public view of a user.
type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// PasskeyResponse is the public view of an enrolled passkey.
type PasskeyResponse struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"deviceName"`
	Transports []string   `json:"transports,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// ActivityResponse is one entry of the caller's account activity.
type ActivityResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// SessionResponse is returned by every endpoint that signs the caller in.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
	PasskeyID string       `json:"passkeyId,omitempty"`
}

// ChallengeResponse carries a fresh challenge. Challenge is standard
// base64; PublicKey holds ready-made browser options when a ceremony was named.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
	ExpiresIn int    `json:"expiresIn"`
	RPID      string `json:"rpId"`
	PublicKey any    `json:"publicKey,omitempty"`
}

// ProfileResponse is the body of GET /api/auth/me.
type ProfileResponse struct {
	User         UserResponse `json:"user"`
	HasPassword  bool         `json:"hasPassword"`
	PasskeyCount int          `json:"passkeyCount"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt, LastLoginAt: u.LastLoginAt}
}

func toPasskeyResponse(pk *store.Passkey) PasskeyResponse {
	return PasskeyResponse{
		ID:         pk.ID,
		DeviceName: pk.DeviceName,
		Transports: pk.Transports,
		CreatedAt:  pk.CreatedAt,
		LastUsedAt: pk.LastUsedAt,
	}
}

func toSessionResponse(res *auth.Result) SessionResponse {
	out := SessionResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: toUserResponse(res.User)}
	if res.Passkey != nil {
		out.PasskeyID = res.Passkey.ID
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body capped at MaxBodyBytes and validates its struct tags.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return auth.ErrValidationFailed.WithReason("request body too large")
		}
		return auth.ErrValidationFailed.WithReason("malformed JSON body: " + err.Error())
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return auth.ErrValidationFailed.WithReason(verrs[0].Field() + " failed " + verrs[0].Tag())
		}
		return auth.ErrValidationFailed.WithReason(err.Error())
	}
	return nil
}

// fail writes err, logging rejected requests at debug with their reason.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	aerr := auth.AsError(err)
	if aerr.Reason != "" {
		a.logger.Debug("request rejected", "path", r.URL.Path, "code", aerr.Code, "reason", aerr.Reason)
	}
	auth.WriteError(w, aerr)
}

func (a *API) handleRegisterPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordCredentialsRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.auth.RegisterPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]UserResponse{"user": toUserResponse(user)})
}

func (a *API) handleUsernameExists(w http.ResponseWriter, r *http.Request) {
	exists, err := a.auth.UsernameExists(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (a *API) handleLoginPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordCredentialsRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.auth.LoginPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := a.auth.Logout(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	p, err := a.auth.Profile(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		User:         toUserResponse(p.User),
		HasPassword:  p.HasPassword,
		PasskeyCount: p.PasskeyCount,
	})
}

// handleChallenge issues a challenge. The optional ceremony query parameter
// ("registration" or "authentication") adds browser options built around it.
func (a *API) handleChallenge(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	ch, err := a.auth.IssueChallenge(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	timeoutMillis := int(a.timeout / time.Millisecond)
	resp := ChallengeResponse{
		Challenge: base64.StdEncoding.EncodeToString(ch),
		ExpiresIn: int(a.timeout / time.Second),
		RPID:      a.passkeys.RPID(),
	}

	q := r.URL.Query()
	switch strings.ToLower(q.Get("ceremony")) {
	case "":
	case "registration":
		username := strings.TrimSpace(q.Get("username"))
		if id != nil {
			username = id.Username
		}
		if username == "" {
			a.fail(w, r, auth.ErrUsernameRequired)
			return
		}
		resp.PublicKey = a.passkeys.CreationOptions(username, ch, timeoutMillis)
	case "authentication":
		resp.PublicKey = a.passkeys.RequestOptions(ch, timeoutMillis, nil)
	default:
		a.fail(w, r, auth.ErrValidationFailed.WithReason("unknown ceremony "+q.Get("ceremony")))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (req AttestationRequest) attestation(r *http.Request) auth.Attestation {
	return auth.Attestation{
		CredentialID:      req.CredentialID,
		AttestationObject: req.AttestationObject,
		ClientDataJSON:    req.ClientDataJSON,
		Transports:        req.Transports,
		DeviceName:        req.DeviceName,
		UserAgent:         r.UserAgent(),
	}
}

func (a *API) handleRegisterPasskey(w http.ResponseWriter, r *http.Request) {
	var req AttestationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.auth.RegisterWithPasskey(r.Context(), req.Username, req.attestation(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(res))
}

func (a *API) handleEnrollPasskey(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req AttestationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pk, err := a.auth.EnrollPasskey(r.Context(), id, req.attestation(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passkeyId": pk.ID, "passkey": toPasskeyResponse(pk)})
}

func (a *API) handleLoginPasskey(w http.ResponseWriter, r *http.Request) {
	var req AssertionRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.auth.LoginWithPasskey(r.Context(), passkey.AssertionInput{
		CredentialID:      req.CredentialID,
		AuthenticatorData: req.AuthenticatorData,
		ClientDataJSON:    req.ClientDataJSON,
		Signature:         req.Signature,
		UserHandle:        req.UserHandle,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(res))
}

func (a *API) handleListPasskeys(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	pks, err := a.auth.ListPasskeys(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]PasskeyResponse, 0, len(pks))
	for _, pk := range pks {
		out = append(out, toPasskeyResponse(pk))
	}
	writeJSON(w, http.StatusOK, map[string][]PasskeyResponse{"passkeys": out})
}

// maxActivityLimit caps the ?limit= query parameter on the activity endpoint.
const maxActivityLimit = 200

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	q := r.URL.Query()
	var filter auth.ActivityFilter
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			a.fail(w, r, auth.ErrValidationFailed.WithReason("limit must be between 1 and "+strconv.Itoa(maxActivityLimit)))
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.fail(w, r, auth.ErrValidationFailed.WithReason("since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = &since
	}
	filter.Action = store.AuditAction(q.Get("action"))

	entries, err := a.auth.ListActivity(r.Context(), id, filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityResponse{
			ID:         e.ID,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			UserAgent:  e.UserAgent,
			Timestamp:  e.Timestamp,
			Detail:     e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]ActivityResponse{"activity": out})
}

func (a *API) handleDeletePasskey(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := a.auth.DeletePasskey(r.Context(), id, r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleCreatePassword(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req SetPasswordRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.auth.CreatePassword(r.Context(), id, req.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleRemovePassword(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := a.auth.RemovePassword(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]connections.ServiceInfo{"services": a.connections.Registry().List()})
}

func (a *API) handleListConnections(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	views, err := a.connections.List(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*connections.View{"connections": views})
}

func (a *API) handleGetConnection(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	view, err := a.connections.Get(r.Context(), id, r.PathValue("service"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSaveConnection(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req SaveConnectionRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.connections.Save(r.Context(), id, r.PathValue("service"), req.APIKey)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
