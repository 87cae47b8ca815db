// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/platform/db"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Store persists pharmacy records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New constructs Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{reader: reader{q: tx}})
	})
	return wrap("tx", err)
}

// Snapshot executes the callback inside a read-only repeatable-read transaction.
func (s *Store) Snapshot(ctx context.Context, fn func(context.Context, store.Reader) error) error {
	err := db.WithSnapshot(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, reader{q: tx})
	})
	return wrap("snapshot", err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.pool.Ping(ctx))
}

// wrap maps driver errors onto the pharmacy taxonomy. Errors already in the
// taxonomy pass through untouched.
func wrap(op string, err error) error {
	if err == nil || pharmacy.IsTaxonomy(err) {
		return err
	}
	var rowErr *pharmacy.RowError
	if errors.As(err, &rowErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return pharmacy.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres: %s: %w: duplicate key on %s", op, pharmacy.ErrRuleViolation, pgErr.ConstraintName)
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, pharmacy.ErrStoreUnavailable, err)
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: pharmacy.Date(*t), Valid: true}
}

func fromDate(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func toInt8(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func fromInt8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// InsertRun stores a new run record.
func (s *Store) InsertRun(ctx context.Context, run pharmacy.PipelineRun) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO pipeline_runs (id, kind, status, started_at, finished_at, records_processed, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Kind), string(run.Status), run.StartedAt, run.FinishedAt, run.RecordsProcessed, nonNil(run.Errors))
	return wrap("insert run", err)
}

// UpdateRun replaces the mutable fields of a run record.
func (s *Store) UpdateRun(ctx context.Context, run pharmacy.PipelineRun) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pipeline_runs
SET status = $2, finished_at = $3, records_processed = $4, errors = $5
WHERE id = $1`,
		run.ID, string(run.Status), run.FinishedAt, run.RecordsProcessed, nonNil(run.Errors))
	if err != nil {
		return wrap("update run", err)
	}
	if tag.RowsAffected() == 0 {
		return pharmacy.ErrNotFound
	}
	return nil
}

const runColumns = `id, kind, status, started_at, finished_at, records_processed, errors`

func scanRun(row pgx.Row) (pharmacy.PipelineRun, error) {
	var run pharmacy.PipelineRun
	var kind, status string
	err := row.Scan(&run.ID, &kind, &status, &run.StartedAt, &run.FinishedAt, &run.RecordsProcessed, &run.Errors)
	run.Kind = pharmacy.RunKind(kind)
	run.Status = pharmacy.RunStatus(status)
	run.DurationMS = run.Duration().Milliseconds()
	if run.Errors == nil {
		run.Errors = []string{}
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (pharmacy.PipelineRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`))
	return run, wrap("latest run", err)
}

// ListRuns returns runs with the given status, or all runs when status is empty.
func (s *Store) ListRuns(ctx context.Context, status pharmacy.RunStatus) ([]pharmacy.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM pipeline_runs
WHERE ($1 = '' OR status = $1) ORDER BY started_at`, string(status))
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()
	var out []pharmacy.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, wrap("scan run", err)
		}
		out = append(out, run)
	}
	return out, wrap("list runs", rows.Err())
}

// ResolveQualityEntry marks a quality log entry as acknowledged. Resolving an
// already resolved entry keeps the first resolution.
func (s *Store) ResolveQualityEntry(ctx context.Context, id int64, actor string, at time.Time) (pharmacy.QualityLogEntry, error) {
	entry, err := scanQuality(s.pool.QueryRow(ctx, `UPDATE data_quality_log
SET resolved = TRUE,
    resolved_at = COALESCE(resolved_at, $2),
    resolved_by = CASE WHEN resolved THEN resolved_by ELSE $3 END
WHERE id = $1
RETURNING `+qualityColumns, id, at, actor))
	return entry, wrap("resolve quality entry", err)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
