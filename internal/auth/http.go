// ABOUTME: HTTP middleware that resolves opaque bearer tokens into an Identity
// ABOUTME: Anonymous requests pass through; RequireIdentity gates handlers that need a caller

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Resolver turns a raw bearer token into an Identity. A nil Identity with a
// nil error means the token names no live session.
type Resolver interface {
	Resolve(ctx context.Context, rawToken string) (*Identity, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// ok is false when the header is absent or not a bearer credential.
func extractBearerToken(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// Middleware resolves the bearer token once per request. A missing or
// invalid token leaves the request anonymous; each handler decides whether
// that is acceptable. Store failures are reported as 500.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				logger.Error("resolving session", "error", err)
				WriteError(w, err)
				return
			}
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}

// HandlerFunc is an HTTP handler for an authenticated caller.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, id Identity)

// RequireIdentity rejects anonymous requests with 401 Unauthenticated and
// passes the caller's Identity to h. Must be used after Middleware.
func RequireIdentity(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			WriteError(w, ErrUnauthenticated)
			return
		}
		h(w, r, id)
	})
}

// OptionalIdentity passes the caller's Identity to h, or nil for anonymous requests.
func OptionalIdentity(h func(w http.ResponseWriter, r *http.Request, id *Identity)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := FromContext(r.Context()); ok {
			h(w, r, &id)
			return
		}
		h(w, r, nil)
	})
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// WriteError writes err as a JSON error body with its status.
func WriteError(w http.ResponseWriter, err error) {
	aerr := AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.Status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: aerr.Message, Code: aerr.Code})
}
