package db

import (
	"context"
	"database/sql"
	"fmt"
)

type UsageRepo struct {
	db *sql.DB
}

func NewUsageRepo(db *sql.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

func (r *UsageRepo) Insert(ctx context.Context, sample *UsageSample) error {
	if sample.SampledAt.IsZero() {
		sample.SampledAt = nowUTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO usage_samples (trace_bytes, output_bytes, active_processes, live_sessions, sampled_at)
VALUES (?, ?, ?, ?, ?)
`, int64(sample.TraceBytes), int64(sample.OutputBytes), sample.ActiveProcesses, sample.LiveSessions, formatTimestamp(sample.SampledAt))
	if err != nil {
		return fmt.Errorf("failed to insert usage sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("usage sample id: %w", err)
	}
	sample.ID = id
	return nil
}

// ListRecent returns up to limit samples, newest first.
func (r *UsageRepo) ListRecent(ctx context.Context, limit int) ([]*UsageSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, trace_bytes, output_bytes, active_processes, live_sessions, sampled_at
FROM usage_samples
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage samples: %w", err)
	}
	defer rows.Close()

	result := make([]*UsageSample, 0)
	for rows.Next() {
		var s UsageSample
		var trace, output int64
		var sampledAtRaw string
		if err := rows.Scan(&s.ID, &trace, &output, &s.ActiveProcesses, &s.LiveSessions, &sampledAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan usage sample: %w", err)
		}
		s.TraceBytes = uint64(trace)
		s.OutputBytes = uint64(output)
		if s.SampledAt, err = parseTimestamp(sampledAtRaw); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage samples: %w", err)
	}
	return result, nil
}

// Prune keeps the newest keep samples and deletes the rest.
func (r *UsageRepo) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM usage_samples
WHERE id NOT IN (SELECT id FROM usage_samples ORDER BY id DESC LIMIT ?)
`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}
