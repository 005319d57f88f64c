// ABOUTME: Route table for the keyport HTTP API
// ABOUTME: Binds method patterns to handlers and wraps them in identity and logging middleware

package gateway

import (
	"net/http"

	"github.com/2389/keyport/internal/auth"
)

// Handler returns the full HTTP handler: routes, bearer resolution and
// request middleware.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return chain(mux, recoverPanic(a.logger), logRequests(a.logger), auth.Middleware(a.auth))
}

// RegisterRoutes adds every API route to mux. Identity-gated routes rely on
// auth.Middleware running first.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Health - no auth
	mux.HandleFunc("GET /health", handleHealth)

	// Password auth
	mux.HandleFunc("POST /api/auth/register", a.handleRegisterPassword)
	mux.HandleFunc("GET /api/auth/username-exists", a.handleUsernameExists)
	mux.HandleFunc("POST /api/auth/login", a.handleLoginPassword)
	mux.Handle("POST /api/auth/logout", auth.RequireIdentity(a.handleLogout))
	mux.Handle("GET /api/auth/me", auth.RequireIdentity(a.handleMe))
	mux.Handle("POST /api/auth/password", auth.RequireIdentity(a.handleCreatePassword))
	mux.Handle("DELETE /api/auth/password", auth.RequireIdentity(a.handleRemovePassword))
	mux.Handle("GET /api/auth/activity", auth.RequireIdentity(a.handleActivity))

	// Passkey ceremonies
	mux.Handle("POST /api/webauthn/challenge", auth.OptionalIdentity(a.handleChallenge))
	mux.HandleFunc("POST /api/webauthn/register", a.handleRegisterPasskey)
	mux.Handle("POST /api/webauthn/enroll", auth.RequireIdentity(a.handleEnrollPasskey))
	mux.HandleFunc("POST /api/webauthn/login", a.handleLoginPasskey)

	// Passkey management
	mux.Handle("GET /api/passkeys", auth.RequireIdentity(a.handleListPasskeys))
	mux.Handle("DELETE /api/passkeys/{id}", auth.RequireIdentity(a.handleDeletePasskey))

	// External service connections
	mux.HandleFunc("GET /api/services", a.handleListServices)
	mux.Handle("GET /api/connections", auth.RequireIdentity(a.handleListConnections))
	mux.Handle("GET /api/connections/{service}", auth.RequireIdentity(a.handleGetConnection))
	mux.Handle("PUT /api/connections/{service}", auth.RequireIdentity(a.handleSaveConnection))
}

// handleHealth returns 200 OK if the server is alive.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
