package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/vouch/db"
)

// CreateTestDB creates a migrated SQLite test database in a temp
// directory. File-backed so connection pooling and WAL behave as in
// production. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
