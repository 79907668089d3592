package testutil

import (
	"database/sql"
	"log/slog"
	"testing"

	"github.com/alexanderramin/dayplan/internal/db"
	"github.com/alexanderramin/dayplan/internal/kvstore"
)

// NewTestDB creates an in-memory SQLite database with all migrations applied.
// The database is closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// NewTestBackend returns a SQLite backend over a fresh in-memory database.
func NewTestBackend(t *testing.T) *kvstore.SQLiteBackend {
	t.Helper()
	return kvstore.NewSQLiteBackend(NewTestDB(t), 0)
}

// NewTestStore wraps backend in a Store with logging discarded.
func NewTestStore(backend kvstore.Backend) *kvstore.Store {
	return kvstore.NewStore(backend, DiscardLogger())
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewTestBadger opens an in-memory Badger backend closed at test end.
func NewTestBadger(t *testing.T) *kvstore.BadgerBackend {
	t.Helper()
	b, err := kvstore.OpenBadger(kvstore.BadgerConfig{})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
	})
	return b
}
