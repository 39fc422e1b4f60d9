package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// NewTestDB returns a temporary, migrated SQLite database for tests.
//
// The caller does not need to close it; cleanup is registered on t.Cleanup.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "cmdgate.db")
	return NewTestDBAtPath(t, path)
}

// NewTestDBAtPath creates a migrated SQLite database at a specific path.
func NewTestDBAtPath(t *testing.T, path string) *db.DB {
	t.Helper()

	if path == "" {
		t.Fatalf("NewTestDBAtPath: path is required")
	}

	database, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// NewMemoryDB returns a migrated in-memory database. It is cheaper than
// NewTestDB and suits property tests that need a fresh store per run.
func NewMemoryDB() (*db.DB, error) {
	database, err := db.Open(db.MemoryPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(context.Background()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
