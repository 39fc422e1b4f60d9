package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, name, role, api_key, credits, created_at`

// GenerateAPIKey returns 32 random bytes, hex encoded.
func GenerateAPIKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// CreateUser inserts u, generating an API key when none is set.
// Returns ErrUserExists when the name or key is already taken.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	return createUser(ctx, db.DB, u)
}

func createUser(ctx context.Context, q querier, u *User) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if u.Credits < 0 {
		return fmt.Errorf("credits must be non-negative")
	}
	if u.APIKey == "" {
		key, err := GenerateAPIKey()
		if err != nil {
			return err
		}
		u.APIKey = key
	}
	u.CreatedAt = time.Now().UTC()

	res, err := q.ExecContext(ctx, `
		INSERT INTO users (name, role, api_key, credits, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.Name, string(u.Role), u.APIKey, u.Credits, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	return getUser(ctx, db.DB, id)
}

// GetUser retrieves a user by ID inside the transaction.
func (tx *Tx) GetUser(ctx context.Context, id int64) (*User, error) {
	return getUser(ctx, tx.q, id)
}

func getUser(ctx context.Context, q querier, id int64) (*User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByAPIKey resolves an API key to its user.
func (db *DB) GetUserByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	if apiKey == "" {
		return nil, ErrUserNotFound
	}
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE api_key = ?`, apiKey)
	return scanUser(row)
}

// GetUserByName retrieves a user by unique name.
func (db *DB) GetUserByName(ctx context.Context, name string) (*User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE name = ?`, name)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (db *DB) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// SetCredits overwrites a user's balance inside the transaction.
func (tx *Tx) SetCredits(ctx context.Context, userID, credits int64) error {
	return setCredits(ctx, tx.q, userID, credits)
}

func setCredits(ctx context.Context, q querier, userID, credits int64) error {
	if credits < 0 {
		return fmt.Errorf("credits must be non-negative")
	}
	res, err := q.ExecContext(ctx, `UPDATE users SET credits = ? WHERE id = ?`, credits, userID)
	if err != nil {
		return fmt.Errorf("setting credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetCredits reads a user's balance inside the transaction.
func (tx *Tx) GetCredits(ctx context.Context, userID int64) (int64, error) {
	var credits int64
	err := tx.q.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("reading credits: %w", err)
	}
	return credits, nil
}

// DebitCredit takes one credit from the user when the balance is positive.
// The check and the decrement are one statement; no affected row means the
// balance was zero (ErrInsufficientCredits). The new balance is returned.
func (tx *Tx) DebitCredit(ctx context.Context, userID int64) (int64, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE users SET credits = credits - 1 WHERE id = ? AND credits > 0
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("debiting credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrInsufficientCredits
	}
	return tx.GetCredits(ctx, userID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var role, createdAt string
	if err := row.Scan(&u.ID, &u.Name, &role, &u.APIKey, &u.Credits, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	var err error
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return u, nil
}
