package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	historySchemaVersion = "2"
)

// BootstrapHistory prepares the run history database.
func BootstrapHistory(ctx context.Context, dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer db.Close()

	return Apply(ctx, db)
}

// Apply creates the history schema on an open database.
func Apply(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS history_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			passed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			suite TEXT NOT NULL,
			step TEXT NOT NULL,
			outcome TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			duration_ms REAL NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_outcome ON results(run_id, outcome);`,
		widenTimestamps("runs", "started_at"),
		widenTimestamps("runs", "finished_at"),
		widenTimestamps("results", "recorded_at"),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history schema: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO history_metadata(key, value, updated_at)
		 VALUES ('schema_version', ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		historySchemaVersion,
		now,
	)
	if err != nil {
		return fmt.Errorf("set history schema version: %w", err)
	}

	return nil
}

// widenTimestamps pads schema 1 timestamps (RFC 3339 UTC with trailing
// zeros trimmed) to nine fractional digits, the width schema 2 writes.
func widenTimestamps(table, column string) string {
	return fmt.Sprintf(`UPDATE %[1]s SET %[2]s = CASE
			WHEN instr(%[2]s, '.') = 20
				THEN substr(%[2]s, 1, 20) || substr(substr(%[2]s, 21, length(%[2]s) - 21) || '000000000', 1, 9) || 'Z'
			ELSE substr(%[2]s, 1, 19) || '.000000000Z'
		END
		WHERE length(%[2]s) <> 30 AND substr(%[2]s, -1) = 'Z';`, table, column)
}
