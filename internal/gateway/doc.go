// Package gateway runs the keyport HTTP server.
//
// # Overview
//
// The gateway package wires every keyport component from configuration: the
// SQLite store, the challenge cache (memory or Redis), the password hasher,
// the WebAuthn relying party, the auth and connections services, and the
// JSON API in front of them.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run also starts the expired-session purger. On cancellation the HTTP
// server is drained within server.shutdown_timeout, then the cache and store
// are closed.
//
// # HTTP API
//
// Bearer tokens are resolved once per request by auth.Middleware; routes that
// need a caller are wrapped in auth.RequireIdentity. Errors are always
//
//	{"error": "<message>", "code": "<Code>"}
//
// with the status carried by the auth error.
//
//	POST   /api/auth/register           {username,password}
//	GET    /api/auth/username-exists    ?username=
//	POST   /api/auth/login              {username,password}
//	POST   /api/auth/logout             (auth)
//	GET    /api/auth/me                 (auth)
//	POST   /api/auth/password           (auth) {password}
//	DELETE /api/auth/password           (auth)
//	POST   /api/webauthn/challenge      (optional auth) ?ceremony=registration|authentication
//	POST   /api/webauthn/register       {username,credentialId,attestationObject,clientDataJSON}
//	POST   /api/webauthn/enroll         (auth) {credentialId,attestationObject,clientDataJSON}
//	POST   /api/webauthn/login          {credentialId,authenticatorData,clientDataJSON,signature}
//	GET    /api/passkeys                (auth)
//	DELETE /api/passkeys/{id}           (auth)
//	GET    /api/services
//	GET    /api/connections             (auth)
//	GET    /api/connections/{service}   (auth)
//	PUT    /api/connections/{service}   (auth) {apiKey}
//	GET    /health
//
// Binary WebAuthn fields are base64url, padded or not. Bodies are limited to
// MaxBodyBytes.
package gateway
