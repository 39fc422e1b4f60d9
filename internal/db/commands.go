package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const commandColumns = `id, user_id, command_text, status, matched_rule_id, risk_score, risk_analysis,
	approval_count, required_approvals, credits_deducted, created_at, updated_at`

// InsertCommand records a new command inside the transaction.
func (tx *Tx) InsertCommand(ctx context.Context, c *Command) error {
	if c.Text == "" {
		return fmt.Errorf("command_text is required")
	}
	if c.RequiredApprovals <= 0 {
		c.RequiredApprovals = 2
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	var matched any
	if c.MatchedRuleID != nil {
		matched = *c.MatchedRuleID
	}
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO commands (user_id, command_text, status, matched_rule_id, risk_score, risk_analysis,
			approval_count, required_approvals, credits_deducted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.UserID, c.Text, string(c.Status), matched, c.RiskScore, c.RiskAnalysis,
		c.ApprovalCount, c.RequiredApprovals, boolToInt(c.CreditsDeducted),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting command id: %w", err)
	}
	c.ID = id
	return nil
}

// GetCommand retrieves a command by ID.
func (db *DB) GetCommand(ctx context.Context, id int64) (*Command, error) {
	return getCommand(ctx, db.DB, id)
}

// GetCommand retrieves a command by ID inside the transaction.
func (tx *Tx) GetCommand(ctx context.Context, id int64) (*Command, error) {
	return getCommand(ctx, tx.q, id)
}

func getCommand(ctx context.Context, q querier, id int64) (*Command, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	return scanCommand(row)
}

// ListUserCommands returns a user's most recent commands, newest first.
func (db *DB) ListUserCommands(ctx context.Context, userID int64, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying user commands: %w", err)
	}
	defer rows.Close()
	return scanCommands(rows)
}

// ListPendingCommands returns commands awaiting approval, oldest first, with
// the submitter's name.
func (db *DB) ListPendingCommands(ctx context.Context) ([]*PendingCommand, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.command_text, c.status, c.matched_rule_id, c.risk_score, c.risk_analysis,
			c.approval_count, c.required_approvals, c.credits_deducted, c.created_at, c.updated_at, u.name
		FROM commands c
		JOIN users u ON u.id = c.user_id
		WHERE c.status = ?
		ORDER BY c.id ASC
	`, string(StatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close()

	var out []*PendingCommand
	for rows.Next() {
		p := &PendingCommand{}
		if err := scanCommandInto(rows, &p.Command, &p.UserName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending commands: %w", err)
	}
	return out, nil
}

// UpdateCommandStatus moves a command from one status to another. The update
// is guarded by the expected current status; ErrStatusChanged is returned
// when the row is no longer in that state. Moving to EXECUTED marks the
// credit as deducted.
func (tx *Tx) UpdateCommandStatus(ctx context.Context, id int64, from, to CommandStatus) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE commands
		SET status = ?, credits_deducted = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), boolToInt(to == StatusExecuted), formatTime(time.Now().UTC()), id, string(from))
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusChanged
	}
	return nil
}

// SetApprovalCount stores the current tally of approving votes.
func (tx *Tx) SetApprovalCount(ctx context.Context, id int64, count int) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE commands SET approval_count = ?, updated_at = ? WHERE id = ?
	`, count, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating approval count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrCommandNotFound
	}
	return nil
}

func scanCommand(row rowScanner) (*Command, error) {
	c := &Command{}
	if err := scanCommandInto(row, c); err != nil {
		return nil, err
	}
	return c, nil
}

func scanCommands(rows *sql.Rows) ([]*Command, error) {
	var out []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return out, nil
}

func scanCommandInto(row rowScanner, c *Command, extra ...any) error {
	var status, createdAt, updatedAt string
	var matched sql.NullInt64
	var deducted int
	dest := []any{&c.ID, &c.UserID, &c.Text, &status, &matched, &c.RiskScore, &c.RiskAnalysis,
		&c.ApprovalCount, &c.RequiredApprovals, &deducted, &createdAt, &updatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCommandNotFound
		}
		return fmt.Errorf("scanning command: %w", err)
	}
	c.Status = CommandStatus(status)
	c.CreditsDeducted = deducted == 1
	if matched.Valid {
		id := matched.Int64
		c.MatchedRuleID = &id
	}
	var err error
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return err
	}
	return nil
}
