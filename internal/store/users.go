// ABOUTME: SQLite persistence for users and their password hashes
// ABOUTME: Maps the users.username unique index to ErrUsernameExists

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, password_hash, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
		nullTime(user.LastLoginAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "users.username") {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, username, password_hash, created_at, updated_at, last_login_at
		FROM users WHERE id = ?
	`
	return s.scanUser(s.q.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by exact (case-sensitive) username
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, created_at, updated_at, last_login_at
		FROM users WHERE username = ?
	`
	return s.scanUser(s.q.QueryRowContext(ctx, query, username))
}

// UsernameExists reports whether a user with this exact username exists
func (s *SQLiteStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}
	return n > 0, nil
}

// UpdateUserPassword replaces the password hash. An empty hash disables password login.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`

	result, err := s.q.ExecContext(ctx, query, passwordHash, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	s.logger.Info("updated user password", "id", id, "password_set", passwordHash != "")
	return nil
}

// RecordUserLogin sets last_login_at
func (s *SQLiteStore) RecordUserLogin(ctx context.Context, id string, at time.Time) error {
	result, err := s.q.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return requireRowAffected(result)
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAt, updatedAt string
	var lastLogin sql.NullString

	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt, &updatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if user.LastLoginAt, err = parseNullTime(lastLogin); err != nil {
		return nil, fmt.Errorf("parsing last_login_at: %w", err)
	}

	return &user, nil
}

func requireRowAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
