package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const ruleColumns = `id, pattern, action, order_index, created_by, created_at`

// CreateRule appends r to the end of the policy. The order index is assigned
// as MAX(order_index)+1 inside one write transaction.
func (db *DB) CreateRule(ctx context.Context, r *Rule) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		return tx.CreateRule(ctx, r)
	})
}

// CreateRule appends r to the end of the policy inside the transaction.
func (tx *Tx) CreateRule(ctx context.Context, r *Rule) error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}

	var next int64
	if err := tx.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_index), 0) + 1 FROM rules`).Scan(&next); err != nil {
		return fmt.Errorf("computing order index: %w", err)
	}
	r.OrderIndex = next
	r.CreatedAt = time.Now().UTC()

	var createdBy any
	if r.CreatedBy != nil {
		createdBy = *r.CreatedBy
	}
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO rules (pattern, action, order_index, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.Pattern, string(r.Action), r.OrderIndex, createdBy, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting rule id: %w", err)
	}
	r.ID = id
	return nil
}

// GetRule retrieves a rule by ID.
func (db *DB) GetRule(ctx context.Context, id int64) (*Rule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// ListRulesOrdered returns the policy in ascending order index.
func (db *DB) ListRulesOrdered(ctx context.Context) ([]*Rule, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY order_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// CountRules returns the number of rules in the policy.
func (db *DB) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rules: %w", err)
	}
	return n, nil
}

func scanRule(row rowScanner) (*Rule, error) {
	r := &Rule{}
	var action, createdAt string
	var createdBy sql.NullInt64
	if err := row.Scan(&r.ID, &r.Pattern, &action, &r.OrderIndex, &createdBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("scanning rule: %w", err)
	}
	r.Action = RuleAction(action)
	if createdBy.Valid {
		id := createdBy.Int64
		r.CreatedBy = &id
	}
	var err error
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return r, nil
}
