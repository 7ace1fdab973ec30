package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
)

var (
	_ check.Sink   = (*ResultRepo)(nil)
	_ check.Reader = (*ResultRepo)(nil)
)

type ResultRepo struct{ db *DB }

func NewResultRepo(db *DB) *ResultRepo { return &ResultRepo{db: db} }

const (
	qResultInsert = `
INSERT INTO check_results (service_id, ts, status, latency_seconds, status_code, error)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, ''));
`
	qResultsPurge = `
DELETE FROM check_results WHERE service_id = $1;
`
	qResultsExpire = `
DELETE FROM check_results WHERE service_id = $1 AND ts < $2;
`
	qResultsCap = `
DELETE FROM check_results
WHERE service_id = $1 AND id NOT IN (
    SELECT id FROM check_results WHERE service_id = $1 ORDER BY ts DESC, id DESC LIMIT $2
);
`
	qResultsByService = `
SELECT ts, status, latency_seconds, COALESCE(status_code, 0), COALESCE(error, '')
FROM check_results
WHERE service_id = $1
ORDER BY ts DESC
LIMIT $2;
`
)

func (r *ResultRepo) Append(ctx context.Context, serviceID string, res check.Result) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, qResultInsert,
		serviceID, res.Timestamp, string(res.Status), res.Latency, res.StatusCode, res.Error,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (r *ResultRepo) Purge(ctx context.Context, serviceID string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qResultsPurge, serviceID); err != nil {
		return fmt.Errorf("purge results: %w", err)
	}
	return nil
}

func (r *ResultRepo) Prune(ctx context.Context, serviceID string, before time.Time, keep int) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qResultsExpire, serviceID, before); err != nil {
		return fmt.Errorf("prune expired results: %w", err)
	}
	if keep <= 0 {
		return nil
	}
	if _, err := r.db.Pool.Exec(ctx, qResultsCap, serviceID, keep); err != nil {
		return fmt.Errorf("prune results over cap: %w", err)
	}
	return nil
}

func (r *ResultRepo) Recent(ctx context.Context, serviceID string, limit int) ([]check.Result, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qResultsByService, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]check.Result, 0, limit)
	for rows.Next() {
		var (
			res    check.Result
			status string
		)
		if err := rows.Scan(&res.Timestamp, &status, &res.Latency, &res.StatusCode, &res.Error); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = check.Status(status)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Close releases the pool; the sink owns it once handed over.
func (r *ResultRepo) Close() error {
	r.db.Close()
	return nil
}
