package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	_ "modernc.org/sqlite"
)

var (
	_ check.Sink   = (*ResultSink)(nil)
	_ check.Reader = (*ResultSink)(nil)
)

// tsLayout is fixed width so that text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// ResultSink mirrors check results into an embedded SQLite file.
// Accepted DSNs: "sqlite:///path/to/file.db", "sqlite://:memory:", a bare path or "file:..." URI.
type ResultSink struct {
	db *sql.DB
}

func NewResultSink(ctx context.Context, dsn string) (*ResultSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite dsn")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc serializes writers per connection; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &ResultSink{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ResultSink) ensureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS check_results(
	service_id      TEXT    NOT NULL,
	ts              TEXT    NOT NULL,
	status          TEXT    NOT NULL,
	latency_seconds REAL,
	status_code     INTEGER,
	error           TEXT
);
CREATE INDEX IF NOT EXISTS check_results_service_ts ON check_results(service_id, ts);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *ResultSink) Append(ctx context.Context, serviceID string, r check.Result) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO check_results(service_id, ts, status, latency_seconds, status_code, error)
VALUES(?, ?, ?, ?, ?, ?);`,
		serviceID,
		r.Timestamp.UTC().Format(tsLayout),
		string(r.Status),
		nullFloat(r.Latency),
		nullInt(r.StatusCode),
		nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *ResultSink) Purge(ctx context.Context, serviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE service_id = ?;`, serviceID); err != nil {
		return fmt.Errorf("purge results: %w", err)
	}
	return nil
}

// Prune applies the retention cutoff and then the size cap to one service.
func (s *ResultSink) Prune(ctx context.Context, serviceID string, before time.Time, keep int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE service_id = ? AND ts < ?;`,
		serviceID, before.UTC().Format(tsLayout)); err != nil {
		return fmt.Errorf("prune expired results: %w", err)
	}
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM check_results
WHERE service_id = ? AND rowid NOT IN (
	SELECT rowid FROM check_results WHERE service_id = ? ORDER BY ts DESC, rowid DESC LIMIT ?
);`, serviceID, serviceID, keep)
	if err != nil {
		return fmt.Errorf("prune results over cap: %w", err)
	}
	return nil
}

// Recent returns up to limit newest results for a service, newest first.
func (s *ResultSink) Recent(ctx context.Context, serviceID string, limit int) ([]check.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, status, latency_seconds, status_code, error
FROM check_results
WHERE service_id = ?
ORDER BY ts DESC
LIMIT ?;`, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]check.Result, 0, limit)
	for rows.Next() {
		var (
			ts      string
			status  string
			latency sql.NullFloat64
			code    sql.NullInt64
			msg     sql.NullString
		)
		if err := rows.Scan(&ts, &status, &latency, &code, &msg); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		at, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		r := check.Result{Timestamp: at, Status: check.Status(status), StatusCode: int(code.Int64), Error: msg.String}
		if latency.Valid {
			l := latency.Float64
			r.Latency = &l
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ResultSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
