// ABOUTME: SQLite persistence for WebAuthn passkey credentials
// ABOUTME: Credential ids are globally unique; removal is a soft deactivate

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const passkeyColumns = `id, user_id, credential_id, public_key, attestation_type, transports, aaguid,
		flags, sign_count, device_name, user_agent, is_active, created_at, last_used_at`

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// CreatePasskey inserts a new credential
func (s *SQLiteStore) CreatePasskey(ctx context.Context, pk *Passkey) error {
	transports, err := json.Marshal(nonNilStrings(pk.Transports))
	if err != nil {
		return fmt.Errorf("encoding transports: %w", err)
	}

	query := `
		INSERT INTO passkeys (` + passkeyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.q.ExecContext(ctx, query,
		pk.ID,
		pk.UserID,
		pk.CredentialID,
		pk.PublicKey,
		pk.AttestationType,
		string(transports),
		pk.AAGUID,
		pk.Flags,
		pk.SignCount,
		pk.DeviceName,
		pk.UserAgent,
		boolToInt(pk.Active),
		formatTime(pk.CreatedAt),
		nullTime(pk.LastUsedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "passkeys.credential_id") {
			return ErrCredentialExists
		}
		return fmt.Errorf("inserting passkey: %w", err)
	}

	s.logger.Info("created passkey", "id", pk.ID, "user_id", pk.UserID, "device", pk.DeviceName)
	return nil
}

// GetPasskey retrieves a passkey by its row ID, active or not
func (s *SQLiteStore) GetPasskey(ctx context.Context, id string) (*Passkey, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+passkeyColumns+` FROM passkeys WHERE id = ?`, id)
	return scanPasskey(row)
}

// GetPasskeyByCredentialID retrieves a passkey by its WebAuthn credential id, active or not
func (s *SQLiteStore) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*Passkey, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+passkeyColumns+` FROM passkeys WHERE credential_id = ?`, credentialID)
	return scanPasskey(row)
}

// CredentialIDExists reports whether any passkey, including deactivated ones, holds this credential id
func (s *SQLiteStore) CredentialIDExists(ctx context.Context, credentialID []byte) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM passkeys WHERE credential_id = ?`, credentialID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting credentials: %w", err)
	}
	return n > 0, nil
}

// ListActivePasskeys returns the user's active passkeys ordered by creation time
func (s *SQLiteStore) ListActivePasskeys(ctx context.Context, userID string) ([]*Passkey, error) {
	query := `SELECT ` + passkeyColumns + `
		FROM passkeys
		WHERE user_id = ? AND is_active = 1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying passkeys: %w", err)
	}
	defer rows.Close()

	var passkeys []*Passkey
	for rows.Next() {
		pk, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		passkeys = append(passkeys, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passkeys: %w", err)
	}

	return passkeys, nil
}

// CountActivePasskeys returns the number of active passkeys the user owns
func (s *SQLiteStore) CountActivePasskeys(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passkeys WHERE user_id = ? AND is_active = 1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting passkeys: %w", err)
	}
	return n, nil
}

// UpdatePasskeyUsage records a successful assertion
func (s *SQLiteStore) UpdatePasskeyUsage(ctx context.Context, id string, signCount uint32, flags uint8, usedAt time.Time) error {
	query := `UPDATE passkeys SET sign_count = ?, flags = ?, last_used_at = ? WHERE id = ?`

	result, err := s.q.ExecContext(ctx, query, signCount, flags, formatTime(usedAt), id)
	if err != nil {
		return fmt.Errorf("updating passkey usage: %w", err)
	}
	return requireRowAffected(result)
}

// DeactivatePasskey soft-deletes a passkey. The row, and with it the
// credential id, stays in place.
func (s *SQLiteStore) DeactivatePasskey(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE passkeys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating passkey: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	s.logger.Info("deactivated passkey", "id", id)
	return nil
}

func scanPasskey(row rowScanner) (*Passkey, error) {
	var pk Passkey
	var transports string
	var active int
	var createdAt string
	var lastUsed sql.NullString

	err := row.Scan(
		&pk.ID,
		&pk.UserID,
		&pk.CredentialID,
		&pk.PublicKey,
		&pk.AttestationType,
		&transports,
		&pk.AAGUID,
		&pk.Flags,
		&pk.SignCount,
		&pk.DeviceName,
		&pk.UserAgent,
		&active,
		&createdAt,
		&lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning passkey: %w", err)
	}

	pk.Active = active == 1
	if err := json.Unmarshal([]byte(transports), &pk.Transports); err != nil {
		return nil, fmt.Errorf("decoding transports: %w", err)
	}
	if pk.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if pk.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}

	return &pk, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
