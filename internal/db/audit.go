package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Audit action tags.
const (
	AuditSystemInitialized        = "SYSTEM_INITIALIZED"
	AuditUserCreated              = "USER_CREATED"
	AuditUserCreatedByAdmin       = "USER_CREATED_BY_ADMIN"
	AuditCreditsUpdated           = "CREDITS_UPDATED"
	AuditRuleCreated              = "RULE_CREATED"
	AuditRuleConflictWarning      = "RULE_CONFLICT_WARNING"
	AuditCommandRejected          = "COMMAND_REJECTED"
	AuditCommandPendingApproval   = "COMMAND_PENDING_APPROVAL"
	AuditCommandExecuted          = "COMMAND_EXECUTED"
	AuditCommandRejectedByAdmin   = "COMMAND_REJECTED_BY_ADMIN"
	AuditCommandApprovedExecuted  = "COMMAND_APPROVED_EXECUTED"
	AuditCommandPartiallyApproved = "COMMAND_PARTIALLY_APPROVED"
	AuditCommandNoCredits         = "COMMAND_REJECTED_INSUFFICIENT_CREDITS"
)

// RecordAudit appends an audit entry. actorID may be nil for system events.
func (db *DB) RecordAudit(ctx context.Context, actorID *int64, action, details string) error {
	var actor any
	if actorID != nil {
		actor = *actorID
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, details, created_at) VALUES (?, ?, ?, ?)
	`, actor, action, details, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (db *DB) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT a.id, a.user_id, COALESCE(u.name, ''), a.action, a.details, a.created_at
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		ORDER BY a.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var actor sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &actor, &e.ActorName, &e.Action, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if actor.Valid {
			id := actor.Int64
			e.ActorID = &id
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log: %w", err)
	}
	return out, nil
}
