// ABOUTME: Account activity: audit records for auth events and the caller's activity listing
// ABOUTME: Mutating flows append their record inside the same transaction as the change

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/keyport/internal/store"
)

// DefaultActivityLimit is used when ListActivity is called with limit <= 0.
const DefaultActivityLimit = 50

// audit appends an entry through st, which is normally the caller's
// transaction-bound store.
func audit(ctx context.Context, st store.AuditStore, userID string, action store.AuditAction, pk *store.Passkey, detail map[string]any) error {
	e := &store.AuditEntry{
		UserID: userID,
		Action: action,
		Detail: detail,
	}
	if pk != nil {
		e.TargetType = "passkey"
		e.TargetID = pk.ID
		e.UserAgent = pk.UserAgent
	}
	return st.AppendAuditLog(ctx, e)
}

// auditAfter records an event that already committed. A failure is logged
// and does not undo the operation.
func (s *Service) auditAfter(ctx context.Context, userID string, action store.AuditAction, pk *store.Passkey, detail map[string]any) {
	if err := audit(ctx, s.store, userID, action, pk, detail); err != nil {
		s.logger.Warn("appending audit log", "user_id", userID, "action", action, "error", err)
	}
}

// ActivityFilter narrows ListActivity. Zero fields do not filter.
type ActivityFilter struct {
	Action store.AuditAction
	Since  *time.Time
	Limit  int
}

// ListActivity returns the caller's most recent account events, newest first.
func (s *Service) ListActivity(ctx context.Context, id Identity, f ActivityFilter) ([]*store.AuditEntry, error) {
	q := store.AuditFilter{UserID: id.UserID, Since: f.Since, Limit: f.Limit}
	if q.Limit <= 0 {
		q.Limit = DefaultActivityLimit
	}
	if f.Action != "" {
		if !store.IsValidAuditAction(f.Action) {
			return nil, ErrValidationFailed.with(fmt.Sprintf("unknown activity action %q", f.Action), nil)
		}
		q.Action = &f.Action
	}

	entries, err := s.store.ListAuditLog(ctx, q)
	if err != nil {
		return nil, s.fail(err)
	}
	return entries, nil
}
