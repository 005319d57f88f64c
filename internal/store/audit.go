// ABOUTME: Per-user security audit log of account events
// ABOUTME: Records registrations, logins, credential changes and logouts for the account activity view

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable account event.
type AuditAction string

const (
	AuditUserRegistered  AuditAction = "user_registered"
	AuditLogin           AuditAction = "login"
	AuditLogout          AuditAction = "logout"
	AuditPasswordSet     AuditAction = "password_set"
	AuditPasswordRemoved AuditAction = "password_removed"
	AuditPasskeyEnrolled AuditAction = "passkey_enrolled"
	AuditPasskeyRemoved  AuditAction = "passkey_removed"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditUserRegistered,
	AuditLogin,
	AuditLogout,
	AuditPasswordSet,
	AuditPasswordRemoved,
	AuditPasskeyEnrolled,
	AuditPasskeyRemoved,
}

// IsValidAuditAction reports whether a is one of ValidAuditActions.
func IsValidAuditAction(a AuditAction) bool {
	for _, v := range ValidAuditActions {
		if v == a {
			return true
		}
	}
	return false
}

// AuditEntry is a single event on a user's account.
type AuditEntry struct {
	ID         string
	UserID     string
	Action     AuditAction
	TargetType string // "passkey", "session" or empty
	TargetID   string
	UserAgent  string
	Timestamp  time.Time
	Detail     map[string]any
}

// AuditFilter narrows ListAuditLog. UserID is required.
type AuditFilter struct {
	UserID string
	Since  *time.Time
	Action *AuditAction
	Limit  int // default 50, max 500
}

// AppendAuditLog appends an entry, filling in ID and Timestamp when unset.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (id, user_id, action, target_type, target_id, user_agent, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		e.UserAgent,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"user_id", e.UserID,
		"action", e.Action,
	)
	return nil
}

func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (*AuditEntry, error) {
	var e AuditEntry
	var action, ts string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.UserID,
		&action,
		&e.TargetType,
		&e.TargetID,
		&e.UserAgent,
		&ts,
		&detailJSON,
	); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(action)
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return &e, nil
}

const auditLogQuery = `
	SELECT id, user_id, action, target_type, target_id, user_agent, ts, detail_json
	FROM audit_log
	WHERE user_id = ?
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns the user's entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	var since, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.q.QueryContext(ctx, auditLogQuery,
		f.UserID,
		since, since,
		action, action,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
