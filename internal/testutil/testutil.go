package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/exportlens/eventd/internal/store"
)

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}

func OpenTestStore(t *testing.T) (*store.SQLite, func()) {
	t.Helper()
	db, closeFn := OpenTestDB(t)
	return store.NewSQLite(db), closeFn
}
