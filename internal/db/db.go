// Package db provides the SQLite-backed state store for cmdgate.
//
// All mutating operations that must be atomic with each other (credit debit,
// command status transitions, approval tallies) run inside a write transaction
// obtained through WithTx. Write transactions open with BEGIN IMMEDIATE so two
// concurrent check-and-decrement sequences serialize on the database lock.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps a *sql.DB with cmdgate's store operations.
type DB struct {
	*sql.DB
	path string
}

// OpenOptions control how the database is opened.
type OpenOptions struct {
	// BusyTimeoutMs is how long SQLite waits on a locked database.
	BusyTimeoutMs int
	// CreateDir creates the parent directory when missing.
	CreateDir bool
	// ReadOnly opens the database read-only (no migrations are run).
	ReadOnly bool
}

// DefaultOpenOptions returns the options used by Open.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{BusyTimeoutMs: 5000, CreateDir: true}
}

// Open opens the database at path without running migrations.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOpenOptions())
}

// OpenWithOptions opens the database at path.
func OpenWithOptions(path string, opts OpenOptions) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != MemoryPath && opts.CreateDir {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == MemoryPath {
		// Every new connection to :memory: is a fresh database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// OpenAndMigrate opens the database at path and applies the schema.
func OpenAndMigrate(path string) (*DB, error) {
	database, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(context.Background()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// Wrap adapts an existing *sql.DB. No pragmas or migrations are applied.
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

func dsn(path string, opts OpenOptions) string {
	busy := opts.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "foreign_keys(1)")
	if path != MemoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	if opts.ReadOnly {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode()
}

// Migrate creates tables and indexes when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx exposes the store operations that must share a write transaction.
type Tx struct {
	q querier
}

// WithTx runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
