package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if db.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, db.Path())
	}

	// Verify file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database with nested path: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Error("Nested directories were not created")
	}
}

func TestSchema_TablesExist(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	var name string
	err := db.QueryRowContext(context.Background(), "SELECT name FROM sqlite_master WHERE type='table' AND name=?", "quota_snapshots").Scan(&name)
	if err != nil {
		t.Errorf("Table quota_snapshots does not exist: %v", err)
	}

	indexes := []string{
		"idx_snapshots_account",
		"idx_snapshots_provider",
		"idx_snapshots_timestamp",
		"idx_snapshots_name",
		"idx_snapshots_hour",
	}

	for _, index := range indexes {
		err := db.QueryRowContext(context.Background(), "SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		if err != nil {
			t.Errorf("Index %s does not exist: %v", index, err)
		}
	}
}

func TestNew_ReopenExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	first, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	second, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer second.Close()
}

func TestVacuum(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.Vacuum(context.Background()); err != nil {
		t.Errorf("Vacuum failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	db := newTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Verify database is closed by trying to query
	_, err := db.QueryContext(context.Background(), "SELECT 1")
	if err == nil {
		t.Error("Expected error querying closed database")
	}
}

// Helper to create a test database
func newTestDB(t *testing.T) *DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	return db
}
