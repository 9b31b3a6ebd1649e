package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/course-scheduler/internal/persistence/sqlite"
	"github.com/example/course-scheduler/internal/persistence/sqlite/migration"
)

// NewSQLiteStore opens a migrated SQLite document store in a temporary
// directory. The store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB, opts ...sqlite.Option) *sqlite.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	config := migration.DefaultSQLiteConfig(path)
	config.Synchronous = "OFF"

	opts = append([]sqlite.Option{sqlite.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	store, err := sqlite.Open(config, opts...)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	return store
}
