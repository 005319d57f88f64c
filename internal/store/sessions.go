// ABOUTME: SQLite persistence for bearer-token sessions
// ABOUTME: Sessions are looked up by token hash; the raw token never reaches the database

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession inserts a new session
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, is_active, created_at, expires_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		boolToInt(session.Active),
		formatTime(session.CreatedAt),
		formatTime(session.ExpiresAt),
		nullTime(session.LastAccessedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID, "expires_at", session.ExpiresAt)
	return nil
}

// GetSessionByTokenHash retrieves a session by the hash of its bearer token.
// Validity is not checked here.
func (s *SQLiteStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT id, user_id, token_hash, is_active, created_at, expires_at, last_accessed_at
		FROM sessions WHERE token_hash = ?
	`

	var session Session
	var active int
	var createdAt, expiresAt string
	var lastAccessed sql.NullString

	err := s.q.QueryRowContext(ctx, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&active,
		&createdAt,
		&expiresAt,
		&lastAccessed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.Active = active == 1
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if session.LastAccessedAt, err = parseNullTime(lastAccessed); err != nil {
		return nil, fmt.Errorf("parsing last_accessed_at: %w", err)
	}

	return &session, nil
}

// TouchSession sets last_accessed_at
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.q.ExecContext(ctx, `UPDATE sessions SET last_accessed_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRowAffected(result)
}

// DeactivateSession flips the active flag off
func (s *SQLiteStore) DeactivateSession(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteExpiredSessions removes every session whose expiry is before the given time
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("deleted expired sessions", "count", n)
	}
	return n, nil
}
