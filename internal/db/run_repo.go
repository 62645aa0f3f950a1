package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, name, program, args, dir, cols, rows, raw_mode, pid, status, exit_code, signal_name, error, trace_bytes, started_at, finished_at`

func (r *RunRepo) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = nowUTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	args, err := encodeStringSlice(run.Args)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO runs (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.Name, run.Program, args, nullIfEmpty(run.Dir), run.Cols, run.Rows, boolToInt(run.RawMode), run.PID,
		run.Status, run.ExitCode, run.SignalName, run.Error, int64(run.TraceBytes),
		formatTimestamp(run.StartedAt), formatTimestampOrEmpty(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Finish records the terminal state of a run.
func (r *RunRepo) Finish(ctx context.Context, id string, result RunResult) error {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = nowUTC()
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, exit_code = ?, signal_name = ?, error = ?, trace_bytes = ?, finished_at = ?
WHERE id = ?
`, result.Status, result.ExitCode, result.SignalName, result.Error, int64(result.TraceBytes), formatTimestamp(result.FinishedAt), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %q: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %q: %w", id, err)
	}
	return run, nil
}

// List returns runs newest first.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	where := []string{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	result := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var argsRaw, startedAtRaw, finishedAtRaw string
	var dir sql.NullString
	var rawMode int
	var traceBytes int64

	if err := row.Scan(&run.ID, &run.Name, &run.Program, &argsRaw, &dir, &run.Cols, &run.Rows, &rawMode, &run.PID,
		&run.Status, &run.ExitCode, &run.SignalName, &run.Error, &traceBytes, &startedAtRaw, &finishedAtRaw); err != nil {
		return nil, err
	}

	var err error
	run.Dir = dir.String
	run.RawMode = rawMode != 0
	run.TraceBytes = uint64(traceBytes)
	if run.Args, err = decodeStringSlice(argsRaw); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseTimestampOrZero(finishedAtRaw); err != nil {
		return nil, err
	}
	return &run, nil
}
