// Package ingest normalises raw upstream rows, validates them and upserts them
// into the record store by natural key.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/medtrack/medtrack-analytics/internal/inventory"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// ErrUnknownKind indicates an entity kind outside the supported set.
var ErrUnknownKind = fmt.Errorf("%w: unknown entity kind", pharmacy.ErrInvalidArgument)

// Reject describes a row that was not loaded.
type Reject struct {
	Line   int                   `json:"line"`
	Key    string                `json:"key,omitempty"`
	Reason pharmacy.RejectReason `json:"reason"`
	Field  string                `json:"field,omitempty"`
	Detail string                `json:"detail"`
}

// BatchResult summarises one Load call.
type BatchResult struct {
	Kind      EntityKind `json:"kind"`
	Accepted  int        `json:"accepted"`
	Inserted  int        `json:"inserted"`
	Corrected int        `json:"corrected"`
	Unchanged int        `json:"unchanged"`
	Rejected  []Reject   `json:"rejected"`
}

// Processed returns the number of rows examined.
func (b BatchResult) Processed() int {
	return b.Accepted + len(b.Rejected)
}

// Options carries per-batch context.
type Options struct {
	RunID string
	Actor string
}

// Loader loads batches of raw rows inside a caller-owned store transaction.
type Loader struct {
	ledger   *inventory.Ledger
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewLoader constructs Loader. A nil clock defaults to time.Now in UTC.
func NewLoader(ledger *inventory.Ledger, logger *slog.Logger, now func() time.Time) *Loader {
	if ledger == nil {
		ledger = inventory.NewLedger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Loader{
		ledger:   ledger,
		validate: newValidator(),
		logger:   logger.With(slog.String("component", "ingest")),
		now:      now,
	}
}

// Load normalises, validates and upserts rows of the given kind. Rejected rows
// are reported in the result and never abort the batch; any other error is
// fatal and the caller must roll the transaction back.
func (l *Loader) Load(ctx context.Context, tx store.Tx, kind EntityKind, rows []Row, opts Options) (BatchResult, error) {
	strat, ok := strategies[kind]
	if !ok {
		return BatchResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if opts.Actor == "" {
		opts.Actor = "pipeline"
	}
	env := batchEnv{runID: opts.RunID, actor: opts.Actor}
	result := BatchResult{Kind: kind, Rejected: []Reject{}}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key, outcome, err := strat.load(ctx, l, tx, canonical(kind, row), env)
		if err != nil {
			var rowErr *pharmacy.RowError
			if !errors.As(err, &rowErr) {
				return result, fmt.Errorf("ingest: %s row %d: %w", kind, i+1, err)
			}
			result.Rejected = append(result.Rejected, Reject{
				Line:   i + 1,
				Key:    key,
				Reason: rowErr.Reason,
				Field:  rowErr.Field,
				Detail: rowErr.Detail,
			})
			continue
		}
		result.Accepted++
		switch outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeCorrected:
			result.Corrected++
		case OutcomeUnchanged:
			result.Unchanged++
		}
	}

	l.logger.Info("batch loaded",
		slog.String("kind", string(kind)),
		slog.String("run_id", opts.RunID),
		slog.Int("accepted", result.Accepted),
		slog.Int("rejected", len(result.Rejected)),
		slog.Int("corrected", result.Corrected),
	)
	return result, nil
}

// correction records an overwrite of an existing natural key.
func (l *Loader) correction(ctx context.Context, tx store.Tx, env batchEnv, kind EntityKind, key string, fields []string) error {
	l.logger.Warn("correcting existing record",
		slog.String("kind", string(kind)),
		slog.String("key", key),
		slog.Any("fields", fields),
		slog.String("run_id", env.runID),
	)
	return tx.RecordAudit(ctx, pharmacy.AuditLog{
		Actor:    env.actor,
		Action:   "ingest:correction",
		Entity:   string(kind),
		EntityID: key,
		Meta:     map[string]any{"fields": fields, "run_id": env.runID},
		At:       l.now(),
	})
}

func lookup[T any](v T, err error) (T, bool, error) {
	if errors.Is(err, pharmacy.ErrNotFound) {
		return v, false, nil
	}
	return v, err == nil, err
}
