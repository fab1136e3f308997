// Package history stores finished runs and their results in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/migrations"
	"github.com/tionis/tallercheck/internal/report"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is a stored run summary.
type Run struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (and bootstraps) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a report and its results in one transaction.
func (s *Store) SaveRun(ctx context.Context, r *report.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs(id, target, started_at, finished_at, passed, failed, skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			target = excluded.target,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped`,
		r.RunID,
		r.Target,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Passed,
		r.Failed,
		r.Skipped,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO results(run_id, seq, suite, step, outcome, method, path, status, detail, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare results: %w", err)
	}
	defer stmt.Close()

	for i, res := range r.Results {
		seq := res.Seq
		if seq == 0 {
			seq = i + 1
		}
		_, err := stmt.ExecContext(
			ctx,
			r.RunID,
			seq,
			res.Suite,
			res.Step,
			string(res.Outcome),
			res.Method,
			res.Path,
			res.Status,
			res.Detail,
			float64(res.Duration.Microseconds())/1000.0,
			formatTime(res.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, target, started_at, finished_at, passed, failed, skipped
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Latest returns the most recent run.
func (s *Store) Latest(ctx context.Context) (*report.Report, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return s.GetRun(ctx, runs[0].ID)
}

// GetRun loads a run with all its results.
func (s *Store) GetRun(ctx context.Context, id string) (*report.Report, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, target, started_at, finished_at, passed, failed, skipped FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, suite, step, outcome, method, path, status, detail, duration_ms, recorded_at
		 FROM results WHERE run_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()

	var results []check.Result
	for rows.Next() {
		var (
			res        check.Result
			outcome    string
			durationMS float64
			recorded   string
		)
		if err := rows.Scan(&res.Seq, &res.Suite, &res.Step, &outcome, &res.Method, &res.Path, &res.Status, &res.Detail, &durationMS, &recorded); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Outcome = check.Outcome(outcome)
		res.Duration = time.Duration(durationMS * float64(time.Millisecond))
		res.RecordedAt = parseTime(recorded)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	r := report.Build(run.ID, run.Target, results, run.StartedAt, run.FinishedAt)
	return r, nil
}

// Prune deletes runs started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	if err := row.Scan(&run.ID, &run.Target, &started, &finished, &run.Passed, &run.Failed, &run.Skipped); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

// timeLayout is fixed width so stored timestamps compare and sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
