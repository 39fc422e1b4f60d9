package db

import (
	"context"
	"fmt"
	"time"
)

// DailyStats summarizes command traffic since a point in time.
type DailyStats struct {
	Total       int   `json:"total_commands"`
	Executed    int   `json:"executed_commands"`
	Rejected    int   `json:"rejected_commands"`
	Pending     int   `json:"pending_commands"`
	CreditsUsed int64 `json:"total_credits_used"`
}

// CommandCount is one row of the top-commands report.
type CommandCount struct {
	Text   string        `json:"command_text"`
	Status CommandStatus `json:"status"`
	Count  int           `json:"count"`
}

// UserActivity is one row of the per-user activity report.
type UserActivity struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Count  int    `json:"command_count"`
}

// Analytics bundles the three reports.
type Analytics struct {
	Since        time.Time       `json:"since"`
	Daily        DailyStats      `json:"daily_stats"`
	TopCommands  []*CommandCount `json:"top_commands"`
	UserActivity []*UserActivity `json:"user_activity"`
}

// Analytics computes traffic reports for commands created at or after since.
func (db *DB) Analytics(ctx context.Context, since time.Time, topN int) (*Analytics, error) {
	if topN <= 0 {
		topN = 10
	}
	cutoff := formatTime(since)
	out := &Analytics{Since: since.UTC()}

	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'EXECUTED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'REJECTED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'PENDING_APPROVAL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(credits_deducted), 0)
		FROM commands WHERE created_at >= ?
	`, cutoff).Scan(&out.Daily.Total, &out.Daily.Executed, &out.Daily.Rejected, &out.Daily.Pending, &out.Daily.CreditsUsed)
	if err != nil {
		return nil, fmt.Errorf("querying daily stats: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT command_text, status, COUNT(*) AS n
		FROM commands WHERE created_at >= ?
		GROUP BY command_text, status
		ORDER BY n DESC, command_text ASC
		LIMIT ?
	`, cutoff, topN)
	if err != nil {
		return nil, fmt.Errorf("querying top commands: %w", err)
	}
	for rows.Next() {
		c := &CommandCount{}
		var status string
		if err := rows.Scan(&c.Text, &status, &c.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning top command: %w", err)
		}
		c.Status = CommandStatus(status)
		out.TopCommands = append(out.TopCommands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top commands: %w", err)
	}

	rows, err = db.QueryContext(ctx, `
		SELECT u.id, u.name, COUNT(c.id) AS n
		FROM users u
		LEFT JOIN commands c ON c.user_id = u.id AND c.created_at >= ?
		GROUP BY u.id, u.name
		ORDER BY n DESC, u.id ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying user activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a := &UserActivity{}
		if err := rows.Scan(&a.UserID, &a.Name, &a.Count); err != nil {
			return nil, fmt.Errorf("scanning user activity: %w", err)
		}
		out.UserActivity = append(out.UserActivity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user activity: %w", err)
	}
	return out, nil
}
