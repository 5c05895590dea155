// Package storagetest opens throwaway SQLite stores for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// New opens a migrated SQLite store in a temp dir, closed on cleanup.
func New(tb testing.TB) *storage.SQLiteStorage {
	tb.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(tb.TempDir(), "blazealert-test.db"))
	if err := store.Open(); err != nil {
		tb.Fatalf("open database: %v", err)
	}
	tb.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		tb.Fatalf("migrate database: %v", err)
	}
	return store
}
