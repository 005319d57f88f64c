// ABOUTME: SQLite persistence for per-user external API key connections
// ABOUTME: One row per (user, service); saving again replaces the key

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetConnection retrieves the user's connection for a service
func (s *SQLiteStore) GetConnection(ctx context.Context, userID, service string) (*Connection, error) {
	query := `
		SELECT id, user_id, service, api_key, created_at, updated_at
		FROM connections WHERE user_id = ? AND service = ?
	`
	conn, err := scanConnection(s.q.QueryRowContext(ctx, query, userID, service))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conn, err
}

// SaveConnection upserts the key for (UserID, Service). On conflict the
// existing row keeps its ID and CreatedAt.
func (s *SQLiteStore) SaveConnection(ctx context.Context, conn *Connection) error {
	query := `
		INSERT INTO connections (id, user_id, service, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, service) DO UPDATE SET
			api_key = excluded.api_key,
			updated_at = excluded.updated_at
	`

	_, err := s.q.ExecContext(ctx, query,
		conn.ID,
		conn.UserID,
		conn.Service,
		conn.APIKey,
		formatTime(conn.CreatedAt),
		formatTime(conn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving connection: %w", err)
	}

	s.logger.Info("saved connection", "user_id", conn.UserID, "service", conn.Service)
	return nil
}

// ListConnections returns every connection the user has saved
func (s *SQLiteStore) ListConnections(ctx context.Context, userID string) ([]*Connection, error) {
	query := `
		SELECT id, user_id, service, api_key, created_at, updated_at
		FROM connections WHERE user_id = ?
		ORDER BY service ASC
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connections: %w", err)
	}

	return conns, nil
}

func scanConnection(row rowScanner) (*Connection, error) {
	var conn Connection
	var createdAt, updatedAt string

	if err := row.Scan(&conn.ID, &conn.UserID, &conn.Service, &conn.APIKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if conn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conn, nil
}
