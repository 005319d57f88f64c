// Package auth implements keyport's sign-in flows and the rules that keep
// every account reachable.
//
// # Sign-in Methods
//
// A user signs in with a password, with one or more passkeys, or with both:
//
//   - Password: bcrypt (or argon2id) hashes via internal/password. Login
//     against an account without a password fails with PasskeyRequired.
//
//   - Passkey: WebAuthn registration and assertion via internal/passkey.
//     Every ceremony consumes a single-use challenge from internal/challenge.
//
// Successful logins mint opaque bearer sessions (internal/session): seven
// days for password login, thirty days for passkey ceremonies.
//
// # Policy
//
// An account must always keep at least one sign-in method:
//
//   - RemovePassword requires an active passkey.
//   - CreatePassword only applies to accounts without a password.
//   - DeletePasskey requires a password or another active passkey, and only
//     deactivates the passkey so its credential id can never be reused.
//
// Each rule runs inside one store transaction.
//
// # Activity
//
// Registrations, logins, password changes, passkey changes and logouts are
// appended to the user's audit log. Mutations write their entry in the same
// transaction, so a rejected change leaves no record. ListActivity returns
// the log newest first.
//
// # Errors
//
// Every failure is an *Error with a stable Code. The HTTP layer renders it
// as {"error": message, "code": code} with the error's status:
//
//	if err := svc.RemovePassword(ctx, id); err != nil {
//		auth.WriteError(w, err)
//	}
//
// # HTTP
//
// Middleware resolves the Authorization bearer token once per request.
// RequireIdentity hands the resolved Identity to handlers as an argument.
package auth
