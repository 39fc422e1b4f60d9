package db

import (
	"context"
	"fmt"
	"time"
)

// InsertVote appends an approval vote inside the transaction.
func (tx *Tx) InsertVote(ctx context.Context, v *ApprovalVote) error {
	v.CreatedAt = time.Now().UTC()
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO approvals (command_id, admin_id, approved, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, v.CommandID, v.AdminID, boolToInt(v.Approved), v.Reason, formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting vote: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting vote id: %w", err)
	}
	v.ID = id
	return nil
}

// CountApprovals counts approving votes recorded for a command.
func (tx *Tx) CountApprovals(ctx context.Context, commandID int64) (int, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approvals WHERE command_id = ? AND approved = 1
	`, commandID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting approvals: %w", err)
	}
	return n, nil
}

// HasVoted reports whether an admin already voted on a command.
func (tx *Tx) HasVoted(ctx context.Context, commandID, adminID int64) (bool, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approvals WHERE command_id = ? AND admin_id = ?
	`, commandID, adminID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking existing vote: %w", err)
	}
	return n > 0, nil
}

// ListVotes returns all votes on a command in the order they were cast.
func (db *DB) ListVotes(ctx context.Context, commandID int64) ([]*ApprovalVote, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, command_id, admin_id, approved, reason, created_at
		FROM approvals WHERE command_id = ?
		ORDER BY id ASC
	`, commandID)
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var votes []*ApprovalVote
	for rows.Next() {
		v := &ApprovalVote{}
		var approved int
		var createdAt string
		if err := rows.Scan(&v.ID, &v.CommandID, &v.AdminID, &approved, &v.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		v.Approved = approved == 1
		if v.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating votes: %w", err)
	}
	return votes, nil
}
