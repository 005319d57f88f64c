// Package store provides persistent storage for keyport using SQLite.
//
// # Architecture
//
// Persistence is split into small interfaces that the auth components
// depend on:
//
//   - UserStore: users and their optional password hash
//   - PasskeyStore: WebAuthn credentials, soft-deleted via is_active
//   - SessionStore: sessions keyed by the SHA-256 of the bearer token
//   - ConnectionStore: per-user API keys for external services
//   - AuditStore: the per-user account activity log
//
// Store embeds all of them and adds WithTx. SQLiteStore implements Store.
//
// # Transactions
//
// WithTx hands fn a Store bound to one transaction. Code running inside fn
// must use that Store and never the outer one: the pool holds a single
// connection, so reaching for the outer store from inside a transaction
// blocks until the context expires.
//
// # SQLite Configuration
//
// The store opens the database with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Schema changes live in migrations/ as goose SQL files and are applied
// on open. Timestamps are stored as fixed-width UTC text so they sort
// lexically.
//
// # Errors
//
// Lookups return ErrNotFound for missing rows. CreateUser returns
// ErrUsernameExists and CreatePasskey returns ErrCredentialExists on
// uniqueness violations.
package store
