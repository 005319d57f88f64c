// ABOUTME: End-to-end tests for the JSON HTTP API
// ABOUTME: Drives password and passkey flows through the full handler with a software authenticator

package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/keyport/internal/auth"
	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/config"
	"github.com/2389/keyport/internal/store"
	"github.com/2389/keyport/internal/webauthntest"
)

const safariUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15"

type apiHarness struct {
	handler http.Handler
	device  *webauthntest.Authenticator
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Auth.BcryptCost = bcrypt.MinCost

	st, err := store.NewSQLiteStore(context.Background(), cfg.Database.Path)
	require.NoError(t, err)
	cache := challenge.NewMemoryCache(100)

	gw, err := assemble(cfg, st, cache, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &apiHarness{
		handler: gw.Handler(),
		device:  webauthntest.New("localhost", "http://localhost"),
	}
}

type apiResponse struct {
	status int
	body   []byte
}

func (r apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), "body: %s", r.body)
}

func (r apiResponse) code(t *testing.T) auth.Code {
	t.Helper()
	var body auth.ErrorBody
	r.decode(t, &body)
	return body.Code
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", safariUA)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return apiResponse{status: rec.Code, body: rec.Body.Bytes()}
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// challenge fetches a fresh challenge over HTTP and decodes it.
func (h *apiHarness) challenge(t *testing.T, token string) []byte {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/webauthn/challenge", token, nil)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var body ChallengeResponse
	resp.decode(t, &body)
	ch, err := base64.StdEncoding.DecodeString(body.Challenge)
	require.NoError(t, err)
	require.Len(t, ch, challenge.Size)
	return ch
}

func attestationBody(username string, att *webauthntest.Attestation) map[string]any {
	body := map[string]any{
		"credentialId":      b64url(att.CredentialID),
		"attestationObject": b64url(att.AttestationObject),
		"clientDataJSON":    b64url(att.ClientDataJSON),
		"transports":        att.Transports,
	}
	if username != "" {
		body["username"] = username
	}
	return body
}

// registerPasskeyUser signs up username with a new passkey.
func (h *apiHarness) registerPasskeyUser(t *testing.T, username string) (SessionResponse, *webauthntest.Attestation) {
	t.Helper()
	ch := h.challenge(t, "")
	att, err := h.device.Create(ch, []byte(username), webauthntest.FormatNone)
	require.NoError(t, err)

	resp := h.do(t, http.MethodPost, "/api/webauthn/register", "", attestationBody(username, att))
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var sess SessionResponse
	resp.decode(t, &sess)
	return sess, att
}

func (h *apiHarness) registerPassword(t *testing.T, username, pw string) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/auth/register", "", PasswordCredentialsRequest{Username: username, Password: pw})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
}

func (h *apiHarness) loginPassword(t *testing.T, username, pw string) apiResponse {
	t.Helper()
	return h.do(t, http.MethodPost, "/api/auth/login", "", PasswordCredentialsRequest{Username: username, Password: pw})
}

func TestScenarioA_PasswordRegisterAndLogin(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/auth/register", "", PasswordCredentialsRequest{Username: "alice", Password: "Secret1!"})
	require.Equal(t, http.StatusOK, resp.status)
	var reg map[string]UserResponse
	resp.decode(t, &reg)
	assert.Equal(t, "alice", reg["user"].Username)
	assert.NotEmpty(t, reg["user"].ID)

	resp = h.loginPassword(t, "alice", "Secret1!")
	require.Equal(t, http.StatusOK, resp.status)
	var sess SessionResponse
	resp.decode(t, &sess)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "alice", sess.User.Username)
	assert.Empty(t, sess.PasskeyID)

	resp = h.loginPassword(t, "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.CodeInvalidCredentials, resp.code(t))
}

func TestScenarioB_PasskeyRegistrationAndReplay(t *testing.T) {
	h := newAPIHarness(t)

	ch := h.challenge(t, "")
	att, err := h.device.Create(ch, []byte("bob"), webauthntest.FormatNone)
	require.NoError(t, err)

	resp := h.do(t, http.MethodPost, "/api/webauthn/register", "", attestationBody("bob", att))
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var sess SessionResponse
	resp.decode(t, &sess)
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.PasskeyID)
	assert.Equal(t, "bob", sess.User.Username)

	// Same challenge, fresh credential.
	replay, err := h.device.Create(ch, []byte("carol"), webauthntest.FormatNone)
	require.NoError(t, err)
	resp = h.do(t, http.MethodPost, "/api/webauthn/register", "", attestationBody("carol", replay))
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeInvalidOrExpiredChallenge, resp.code(t))

	exists := h.do(t, http.MethodGet, "/api/auth/username-exists?username=carol", "", nil)
	require.Equal(t, http.StatusOK, exists.status)
	var body map[string]bool
	exists.decode(t, &body)
	assert.False(t, body["exists"])
}

func TestScenarioC_PasskeyOnlyUserPasswordLogin(t *testing.T) {
	h := newAPIHarness(t)
	h.registerPasskeyUser(t, "bob")

	resp := h.loginPassword(t, "bob", "anything")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.CodePasskeyRequired, resp.code(t))
}

func TestScenarioD_LastAuthMethodProtection(t *testing.T) {
	h := newAPIHarness(t)
	sess, _ := h.registerPasskeyUser(t, "bob")

	resp := h.do(t, http.MethodDelete, "/api/passkeys/"+sess.PasskeyID, sess.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeCannotRemoveLastAuthMethod, resp.code(t))

	resp = h.do(t, http.MethodPost, "/api/auth/password", sess.Token, SetPasswordRequest{Password: "Secret1!"})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	resp = h.do(t, http.MethodDelete, "/api/passkeys/"+sess.PasskeyID, sess.Token, nil)
	assert.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	resp = h.do(t, http.MethodGet, "/api/passkeys", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var list map[string][]PasskeyResponse
	resp.decode(t, &list)
	assert.Empty(t, list["passkeys"])

	// The password now works and is the only method left.
	assert.Equal(t, http.StatusOK, h.loginPassword(t, "bob", "Secret1!").status)
	resp = h.do(t, http.MethodDelete, "/api/auth/password", sess.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeCannotRemovePasswordWithoutPasskey, resp.code(t))
}

func TestPasskeyLoginOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	_, att := h.registerPasskeyUser(t, "bob")

	ch := h.challenge(t, "")
	a, err := h.device.Get(att.Credential, ch)
	require.NoError(t, err)

	body := map[string]string{
		"credentialId":      b64url(a.CredentialID),
		"authenticatorData": b64url(a.AuthenticatorData),
		"clientDataJSON":    b64url(a.ClientDataJSON),
		"signature":         b64url(a.Signature),
		"userHandle":        b64url(a.UserHandle),
	}
	resp := h.do(t, http.MethodPost, "/api/webauthn/login", "", body)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var sess SessionResponse
	resp.decode(t, &sess)
	assert.Equal(t, "bob", sess.User.Username)

	me := h.do(t, http.MethodGet, "/api/auth/me", sess.Token, nil)
	require.Equal(t, http.StatusOK, me.status)
	var profile ProfileResponse
	me.decode(t, &profile)
	assert.Equal(t, "bob", profile.User.Username)
	assert.False(t, profile.HasPassword)
	assert.Equal(t, 1, profile.PasskeyCount)

	// Replaying the same assertion fails on the consumed challenge.
	resp = h.do(t, http.MethodPost, "/api/webauthn/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.CodeInvalidOrExpiredChallenge, resp.code(t))
}

func TestPasskeyLogin_PaddedBase64Accepted(t *testing.T) {
	h := newAPIHarness(t)
	_, att := h.registerPasskeyUser(t, "bob")

	ch := h.challenge(t, "")
	a, err := h.device.Get(att.Credential, ch)
	require.NoError(t, err)

	padded := base64.URLEncoding.EncodeToString
	body := map[string]string{
		"credentialId":      padded(a.CredentialID),
		"authenticatorData": padded(a.AuthenticatorData),
		"clientDataJSON":    padded(a.ClientDataJSON),
		"signature":         padded(a.Signature),
	}
	resp := h.do(t, http.MethodPost, "/api/webauthn/login", "", body)
	assert.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
}

func TestEnrollPasskey(t *testing.T) {
	h := newAPIHarness(t)
	h.registerPassword(t, "alice", "Secret1!")

	var sess SessionResponse
	h.loginPassword(t, "alice", "Secret1!").decode(t, &sess)

	ch := h.challenge(t, sess.Token)
	att, err := h.device.Create(ch, []byte("alice"), webauthntest.FormatPacked)
	require.NoError(t, err)

	body := attestationBody("", att)
	body["deviceName"] = "Work laptop"

	unauth := h.do(t, http.MethodPost, "/api/webauthn/enroll", "", body)
	assert.Equal(t, http.StatusUnauthorized, unauth.status)
	assert.Equal(t, auth.CodeUnauthenticated, unauth.code(t))

	resp := h.do(t, http.MethodPost, "/api/webauthn/enroll", sess.Token, body)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var enrolled struct {
		PasskeyID string          `json:"passkeyId"`
		Passkey   PasskeyResponse `json:"passkey"`
	}
	resp.decode(t, &enrolled)
	assert.NotEmpty(t, enrolled.PasskeyID)
	assert.Equal(t, "Work laptop", enrolled.Passkey.DeviceName)

	list := h.do(t, http.MethodGet, "/api/passkeys", sess.Token, nil)
	var pks map[string][]PasskeyResponse
	list.decode(t, &pks)
	require.Len(t, pks["passkeys"], 1)
	assert.Equal(t, enrolled.PasskeyID, pks["passkeys"][0].ID)

	// Enrolling the same credential again is a conflict.
	again := attestationBody("", att)
	ch2 := h.challenge(t, sess.Token)
	att2, err := h.device.Create(ch2, []byte("alice"), webauthntest.FormatNone)
	require.NoError(t, err)
	again["clientDataJSON"] = b64url(att2.ClientDataJSON)
	resp = h.do(t, http.MethodPost, "/api/webauthn/enroll", sess.Token, again)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeCredentialAlreadyRegistered, resp.code(t))
}

func TestDeletePasskey_OtherUsersPasskey(t *testing.T) {
	h := newAPIHarness(t)
	bob, _ := h.registerPasskeyUser(t, "bob")
	carol, _ := h.registerPasskeyUser(t, "carol")

	resp := h.do(t, http.MethodDelete, "/api/passkeys/"+bob.PasskeyID, carol.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, auth.CodeForbidden, resp.code(t))

	resp = h.do(t, http.MethodDelete, "/api/passkeys/no-such-passkey", carol.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, auth.CodeNotFound, resp.code(t))
}

func TestLogout(t *testing.T) {
	h := newAPIHarness(t)
	h.registerPassword(t, "alice", "Secret1!")
	var sess SessionResponse
	h.loginPassword(t, "alice", "Secret1!").decode(t, &sess)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/auth/me", sess.Token, nil).status)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/auth/logout", sess.Token, nil).status)

	resp := h.do(t, http.MethodGet, "/api/auth/me", sess.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.CodeUnauthenticated, resp.code(t))
}

func TestPasswordEndpoints_Validation(t *testing.T) {
	h := newAPIHarness(t)
	h.registerPassword(t, "alice", "Secret1!")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   auth.Code
	}{
		{"register without username", http.MethodPost, "/api/auth/register", PasswordCredentialsRequest{Password: "x"}, http.StatusBadRequest, auth.CodeUsernameRequired},
		{"register without password", http.MethodPost, "/api/auth/register", PasswordCredentialsRequest{Username: "bob"}, http.StatusBadRequest, auth.CodePasswordRequired},
		{"register taken username", http.MethodPost, "/api/auth/register", PasswordCredentialsRequest{Username: "alice", Password: "x"}, http.StatusBadRequest, auth.CodeUsernameAlreadyExists},
		{"login unknown user", http.MethodPost, "/api/auth/login", PasswordCredentialsRequest{Username: "nobody", Password: "x"}, http.StatusUnauthorized, auth.CodeInvalidCredentials},
		{"malformed json", http.MethodPost, "/api/auth/login", "{not json", http.StatusBadRequest, auth.CodeValidationFailed},
		{"username exists without username", http.MethodGet, "/api/auth/username-exists", nil, http.StatusBadRequest, auth.CodeUsernameRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.status, resp.status, "body: %s", resp.body)
			assert.Equal(t, tt.code, resp.code(t))
		})
	}
}

func TestPasskeyEndpoints_Validation(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		path string
		body any
		code auth.Code
	}{
		{"register missing attestation", "/api/webauthn/register", map[string]string{"username": "bob", "credentialId": "AAAA", "clientDataJSON": "AAAA"}, auth.CodeValidationFailed},
		{"register bad base64", "/api/webauthn/register", map[string]string{"username": "bob", "credentialId": "!!!", "attestationObject": "AAAA", "clientDataJSON": "AAAA"}, auth.CodeValidationFailed},
		{"register garbage client data", "/api/webauthn/register", map[string]string{"username": "bob", "credentialId": "AAAA", "attestationObject": "AAAA", "clientDataJSON": "AAAA"}, auth.CodeInvalidOrExpiredChallenge},
		{"login missing signature", "/api/webauthn/login", map[string]string{"credentialId": "AAAA", "authenticatorData": "AAAA", "clientDataJSON": "AAAA"}, auth.CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.status, "body: %s", resp.body)
			assert.Equal(t, tt.code, resp.code(t))
		})
	}

	resp := h.do(t, http.MethodPost, "/api/webauthn/login", "", map[string]string{
		"credentialId": "AAAA", "authenticatorData": "AAAA", "clientDataJSON": "AAAA", "signature": "AAAA",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, auth.CodeCredentialNotFound, resp.code(t))
}

func TestRequestBodyTooLarge(t *testing.T) {
	h := newAPIHarness(t)

	big := `{"username":"bob","password":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	resp := h.do(t, http.MethodPost, "/api/auth/register", "", big)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeValidationFailed, resp.code(t))
}

func TestChallengeOptions(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/webauthn/challenge?ceremony=registration", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeUsernameRequired, resp.code(t))

	resp = h.do(t, http.MethodPost, "/api/webauthn/challenge?ceremony=registration&username=bob", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	var reg struct {
		Challenge string `json:"challenge"`
		ExpiresIn int    `json:"expiresIn"`
		RPID      string `json:"rpId"`
		PublicKey struct {
			RP struct {
				ID string `json:"id"`
			} `json:"rp"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
			Timeout int `json:"timeout"`
		} `json:"publicKey"`
	}
	resp.decode(t, &reg)
	assert.Equal(t, "localhost", reg.RPID)
	assert.Equal(t, 300, reg.ExpiresIn)
	assert.Equal(t, "localhost", reg.PublicKey.RP.ID)
	assert.Equal(t, "bob", reg.PublicKey.User.Name)
	assert.Equal(t, 300000, reg.PublicKey.Timeout)

	resp = h.do(t, http.MethodPost, "/api/webauthn/challenge?ceremony=authentication", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	var login struct {
		PublicKey struct {
			RPID string `json:"rpId"`
		} `json:"publicKey"`
	}
	resp.decode(t, &login)
	assert.Equal(t, "localhost", login.PublicKey.RPID)

	resp = h.do(t, http.MethodPost, "/api/webauthn/challenge?ceremony=dance", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeValidationFailed, resp.code(t))
}

func TestIdentityRequiredRoutes(t *testing.T) {
	h := newAPIHarness(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/auth/password"},
		{http.MethodDelete, "/api/auth/password"},
		{http.MethodGet, "/api/auth/activity"},
		{http.MethodPost, "/api/webauthn/enroll"},
		{http.MethodGet, "/api/passkeys"},
		{http.MethodDelete, "/api/passkeys/abc"},
		{http.MethodGet, "/api/connections"},
		{http.MethodGet, "/api/connections/openai"},
		{http.MethodPut, "/api/connections/openai"},
	}
	for _, rt := range routes {
		for _, token := range []string{"", "not-a-real-token"} {
			resp := h.do(t, rt.method, rt.path, token, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.status, "%s %s token=%q", rt.method, rt.path, token)
		}
	}
}

func TestActivity(t *testing.T) {
	h := newAPIHarness(t)
	sess, _ := h.registerPasskeyUser(t, "quinn")

	resp := h.do(t, http.MethodPost, "/api/auth/password", sess.Token, SetPasswordRequest{Password: "Secret1!"})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	resp = h.do(t, http.MethodGet, "/api/auth/activity", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var body map[string][]ActivityResponse
	resp.decode(t, &body)
	require.Len(t, body["activity"], 3)
	assert.Equal(t, "password_set", body["activity"][0].Action)

	var enrolled *ActivityResponse
	for i := range body["activity"] {
		if body["activity"][i].Action == "passkey_enrolled" {
			enrolled = &body["activity"][i]
		}
	}
	require.NotNil(t, enrolled)
	assert.Equal(t, "passkey", enrolled.TargetType)
	assert.Equal(t, sess.PasskeyID, enrolled.TargetID)
	assert.Equal(t, safariUA, enrolled.UserAgent)

	resp = h.do(t, http.MethodGet, "/api/auth/activity?limit=1", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &body)
	assert.Len(t, body["activity"], 1)

	resp = h.do(t, http.MethodGet, "/api/auth/activity?action=passkey_enrolled", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	resp.decode(t, &body)
	require.Len(t, body["activity"], 1)
	assert.Equal(t, "passkey_enrolled", body["activity"][0].Action)

	since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp = h.do(t, http.MethodGet, "/api/auth/activity?since="+since, sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	resp.decode(t, &body)
	assert.Empty(t, body["activity"])

	for _, bad := range []string{"limit=0", "limit=-1", "limit=abc", "limit=1000", "since=yesterday", "action=reboot"} {
		resp = h.do(t, http.MethodGet, "/api/auth/activity?"+bad, sess.Token, nil)
		assert.Equal(t, http.StatusBadRequest, resp.status, bad)
		assert.Equal(t, auth.CodeValidationFailed, resp.code(t))
	}
}

func TestConnections(t *testing.T) {
	h := newAPIHarness(t)
	h.registerPassword(t, "alice", "Secret1!")
	var sess SessionResponse
	h.loginPassword(t, "alice", "Secret1!").decode(t, &sess)

	resp := h.do(t, http.MethodGet, "/api/services", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	var services map[string][]map[string]any
	resp.decode(t, &services)
	assert.Len(t, services["services"], 4)

	resp = h.do(t, http.MethodGet, "/api/connections/openai", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var view map[string]any
	resp.decode(t, &view)
	assert.Equal(t, false, view["connected"])

	resp = h.do(t, http.MethodPut, "/api/connections/openai", sess.Token, SaveConnectionRequest{APIKey: "sk-test-abcdef1234"})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	resp.decode(t, &view)
	assert.Equal(t, true, view["connected"])
	assert.Equal(t, "********1234", view["maskedKey"])
	assert.NotContains(t, string(resp.body), "sk-test")

	resp = h.do(t, http.MethodPut, "/api/connections/openai", sess.Token, SaveConnectionRequest{APIKey: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeValidationFailed, resp.code(t))

	resp = h.do(t, http.MethodPut, "/api/connections/myspace", sess.Token, SaveConnectionRequest{APIKey: "k"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeUnknownService, resp.code(t))

	resp = h.do(t, http.MethodGet, "/api/connections", sess.Token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var all map[string][]map[string]any
	resp.decode(t, &all)
	assert.Len(t, all["connections"], 4)
}

func TestHealthRoute(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "OK", string(resp.body))
}
