package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestRunMigrationsFreshDB(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if err := runMigrations(ctx, db); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}

	// Verify schema_migrations was populated.
	var version int
	var name string
	if err := db.QueryRowContext(ctx,
		"SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&version, &name); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if version != 1 || name != "init" {
		t.Fatalf("latest migration = (%d, %q), want (1, %q)", version, name, "init")
	}

	// Spot-check that every domain table exists.
	for _, table := range []string{"checks", "pings", "ping_idempotency", "flips", "channels", "check_channels", "notifications"} {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&n); err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if err := runMigrations(ctx, db); err != nil {
		t.Fatalf("first runMigrations: %v", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		t.Fatalf("second runMigrations: %v", err)
	}

	// Only one row in schema_migrations.
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", count)
	}
}

func TestRunMigrationsExistingDB(t *testing.T) {
	t.Parallel()

	// Simulate a pre-migration DB: create the checks table manually with
	// the same shape the migration would produce, then run migrations.
	// The IF NOT EXISTS DDL should be a no-op and the row should survive.
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE checks (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		schedule_kind TEXT NOT NULL DEFAULT 'simple',
		timeout_seconds REAL NOT NULL DEFAULT 0,
		schedule TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		grace_seconds REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		last_ping TEXT,
		last_start TEXT,
		alert_after TEXT,
		n_pings INTEGER NOT NULL DEFAULT 0,
		last_duration_seconds REAL NOT NULL DEFAULT 0,
		manual_resume INTEGER NOT NULL DEFAULT 0,
		filter_subject_regex TEXT NOT NULL DEFAULT '',
		filter_body_regex TEXT NOT NULL DEFAULT '',
		filter_success_keywords TEXT NOT NULL DEFAULT '',
		filter_start_keywords TEXT NOT NULL DEFAULT '',
		filter_failure_keywords TEXT NOT NULL DEFAULT '',
		filter_allowed_methods TEXT NOT NULL DEFAULT '',
		locked_by TEXT NOT NULL DEFAULT '',
		locked_at TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`)
	if err != nil {
		t.Fatalf("create legacy checks: %v", err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO checks (id, code, name, status) VALUES ('c1', 'abc123', 'legacy check', 'up')")
	if err != nil {
		t.Fatalf("insert legacy check: %v", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		t.Fatalf("runMigrations on existing DB: %v", err)
	}

	var name string
	if err := db.QueryRowContext(ctx, "SELECT name FROM checks WHERE id='c1'").Scan(&name); err != nil {
		t.Fatalf("read check after migration: %v", err)
	}
	if name != "legacy check" {
		t.Fatalf("name = %q, want %q", name, "legacy check")
	}
}

func TestLoadMigrationsOrdering(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations found")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Fatalf("migrations not sorted: version %d <= %d",
				migrations[i].version, migrations[i-1].version)
		}
	}
}

func TestParseMigrationFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input       string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"000001_init.sql", 1, "init", false},
		{"000042_add_column.sql", 42, "add_column", false},
		{"bad.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			version, name, err := parseMigrationFilename(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMigrationFilename(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil {
				if version != tt.wantVersion || name != tt.wantName {
					t.Fatalf("parseMigrationFilename(%q) = (%d, %q), want (%d, %q)",
						tt.input, version, name, tt.wantVersion, tt.wantName)
				}
			}
		})
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
