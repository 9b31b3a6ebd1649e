package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestFileScanner_ScanMigrations(t *testing.T) {
	tests := []struct {
		name          string
		files         fstest.MapFS
		expectedOrder []string
		expectErr     error
	}{
		{
			name: "orders by numeric version",
			files: fstest.MapFS{
				"migrations/010_audit.sql":     {Data: []byte("CREATE TABLE a (id TEXT);")},
				"migrations/002_documents.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
				"migrations/001_init.sql":      {Data: []byte("CREATE TABLE c (id TEXT);")},
			},
			expectedOrder: []string{"001", "002", "010"},
		},
		{
			name: "ignores non-SQL files",
			files: fstest.MapFS{
				"migrations/001_init.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
				"migrations/README.md":    {Data: []byte("# notes")},
			},
			expectedOrder: []string{"001"},
		},
		{
			name: "rejects invalid names",
			files: fstest.MapFS{
				"migrations/init.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
			},
			expectErr: ErrInvalidMigrationFile,
		},
		{
			name: "rejects duplicate versions",
			files: fstest.MapFS{
				"migrations/001_init.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
				"migrations/1_again.sql":  {Data: []byte("CREATE TABLE d (id TEXT);")},
			},
			expectErr: ErrDuplicateVersion,
		},
		{
			name: "rejects comment-only files",
			files: fstest.MapFS{
				"migrations/001_init.sql": {Data: []byte("-- nothing here\n")},
			},
			expectErr: ErrInvalidMigrationFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			migrations, err := NewFileScanner(tt.files).ScanMigrations("migrations")
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Fatalf("expected %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScanMigrations failed: %v", err)
			}
			if len(migrations) != len(tt.expectedOrder) {
				t.Fatalf("expected %d migrations, got %d", len(tt.expectedOrder), len(migrations))
			}
			for i, version := range tt.expectedOrder {
				if migrations[i].Version != version {
					t.Fatalf("position %d: expected version %s, got %s", i, version, migrations[i].Version)
				}
				if migrations[i].Checksum == "" {
					t.Fatalf("expected checksum for %s", version)
				}
			}
		})
	}
}

func TestFileScanner_Description(t *testing.T) {
	files := fstest.MapFS{
		"m/001_document_store.sql": {Data: []byte("-- Description: Document tables\nCREATE TABLE a (id TEXT);")},
		"m/002_audit_log.sql":      {Data: []byte("CREATE TABLE b (id TEXT);")},
	}

	migrations, err := NewFileScanner(files).ScanMigrations("m")
	if err != nil {
		t.Fatalf("ScanMigrations failed: %v", err)
	}
	if migrations[0].Description != "Document tables" {
		t.Fatalf("unexpected description from comment: %q", migrations[0].Description)
	}
	if migrations[1].Description != "audit log" {
		t.Fatalf("unexpected description from filename: %q", migrations[1].Description)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `
-- leading comment
CREATE TABLE a (id TEXT);
-- between
CREATE INDEX idx_a ON a(id);
;
`
	statements := splitStatements(sql)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[1] != "CREATE INDEX idx_a ON a(id)" {
		t.Fatalf("unexpected second statement %q", statements[1])
	}
}
