package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestBootstrapHistoryCreatesTables(t *testing.T) {
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "nested", "tallercheck.db")
	if err := BootstrapHistory(ctx, dbPath); err != nil {
		t.Fatalf("bootstrap history: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open history db: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"history_metadata", "runs", "results"} {
		var name string
		err := db.QueryRowContext(
			ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table,
		).Scan(&name)
		if err != nil {
			t.Fatalf("table %q not found: %v", table, err)
		}
	}

	var version string
	if err := db.QueryRowContext(ctx, `SELECT value FROM history_metadata WHERE key = 'schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != historySchemaVersion {
		t.Fatalf("expected schema version %s, got %s", historySchemaVersion, version)
	}
}

func TestBootstrapHistoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tallercheck.db")

	for i := 0; i < 2; i++ {
		if err := BootstrapHistory(ctx, dbPath); err != nil {
			t.Fatalf("bootstrap history (pass %d): %v", i+1, err)
		}
	}
}

func TestApplyWidensSchema1Timestamps(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tallercheck.db")
	if err := BootstrapHistory(ctx, dbPath); err != nil {
		t.Fatalf("bootstrap history: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open history db: %v", err)
	}
	defer db.Close()

	rows := map[string]string{
		"whole":    "2026-10-01T00:00:00Z",
		"fraction": "2026-10-01T00:00:00.3Z",
		"current":  "2026-10-01T00:00:00.123456789Z",
	}
	for id, ts := range rows {
		if _, err := db.ExecContext(ctx, `INSERT INTO runs(id, target, started_at, finished_at) VALUES (?, 't', ?, ?)`, id, ts, ts); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	if err := Apply(ctx, db); err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := map[string]string{
		"whole":    "2026-10-01T00:00:00.000000000Z",
		"fraction": "2026-10-01T00:00:00.300000000Z",
		"current":  "2026-10-01T00:00:00.123456789Z",
	}
	for id, expected := range want {
		var started, finished string
		if err := db.QueryRowContext(ctx, `SELECT started_at, finished_at FROM runs WHERE id = ?`, id).Scan(&started, &finished); err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if started != expected || finished != expected {
			t.Errorf("%s: got %s / %s, want %s", id, started, finished, expected)
		}
	}
}
