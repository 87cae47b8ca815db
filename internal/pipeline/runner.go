// Package pipeline runs ingestion and quality checks under an exclusive run
// lease and records every run so failures survive the rollback of its writes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-analytics/internal/ingest"
	jobmetrics "github.com/medtrack/medtrack-analytics/internal/jobs"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/quality"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// AbandonedReason is recorded on runs found Running without a lease.
const AbandonedReason = "abandoned: run did not finish"

// Config tunes run control.
type Config struct {
	// RunBudget bounds a single run.
	RunBudget time.Duration
	// LeaseGrace is added to RunBudget for the lease TTL.
	LeaseGrace time.Duration
	// QualityWeights feeds the run quality summary.
	QualityWeights map[string]float64
}

// Deps bundles the collaborators of Runner.
type Deps struct {
	Store     store.Store
	Lease     Lease
	Loader    *ingest.Loader
	Validator *quality.Validator
	Source    ingest.Source
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Runner owns the run state machine.
type Runner struct {
	store     store.Store
	lease     Lease
	loader    *ingest.Loader
	validator *quality.Validator
	source    ingest.Source
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
}

// NewRunner wires the runner.
func NewRunner(deps Deps, cfg Config) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Lease == nil {
		deps.Lease = NewLocalLease(nil)
	}
	if deps.Loader == nil {
		deps.Loader = ingest.NewLoader(nil, deps.Logger, deps.Now)
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewValidator(quality.DefaultConfig(), deps.Now)
	}
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = 10 * time.Minute
	}
	if cfg.LeaseGrace < 0 {
		cfg.LeaseGrace = 0
	}
	return &Runner{
		store:     deps.Store,
		lease:     deps.Lease,
		loader:    deps.Loader,
		validator: deps.Validator,
		source:    deps.Source,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(slog.String("component", "pipeline")),
		now:       deps.Now,
		cfg:       cfg,
	}
}

// RunResult reports a finished pipeline run.
type RunResult struct {
	pharmacy.PipelineRun
	Batches []ingest.BatchResult       `json:"batches"`
	Skipped []ingest.EntityKind        `json:"skipped_kinds"`
	Quality []pharmacy.QualityLogEntry `json:"quality"`
	Summary *quality.Summary           `json:"quality_summary,omitempty"`
}

// Status is the runner state and the most recent run.
type Status struct {
	State   pharmacy.RunStatus    `json:"state"`
	Holder  string                `json:"holder,omitempty"`
	LastRun *pharmacy.PipelineRun `json:"last_run,omitempty"`
}

// work is the body of a run. It returns the number of records processed.
type work func(ctx context.Context, tx store.Tx, run *pharmacy.PipelineRun) (int, error)

// RunPipeline reads every kind from the source in reference order, loads it
// and runs all quality checks in one transaction. A run that fails is still
// returned, with status Failed and its errors; only failures to start a run
// are returned as errors.
func (r *Runner) RunPipeline(ctx context.Context) (RunResult, error) {
	if r.source == nil {
		return RunResult{}, fmt.Errorf("%w: no pipeline source configured", pharmacy.ErrInvalidArgument)
	}
	var res RunResult
	out, err := r.execute(ctx, pharmacy.RunPipeline, func(ctx context.Context, tx store.Tx, run *pharmacy.PipelineRun) (int, error) {
		res = RunResult{Batches: []ingest.BatchResult{}, Skipped: []ingest.EntityKind{}}
		processed := 0
		for _, kind := range ingest.Kinds {
			rows, err := r.source.Rows(ctx, kind)
			if errors.Is(err, ingest.ErrSourceMissing) {
				r.logger.Info("source missing, skipping kind", slog.String("kind", string(kind)), slog.String("run_id", run.ID))
				res.Skipped = append(res.Skipped, kind)
				continue
			}
			if err != nil {
				return processed, fmt.Errorf("pipeline: read %s: %w", kind, err)
			}
			batch, err := r.loader.Load(ctx, tx, kind, rows, ingest.Options{RunID: run.ID})
			processed += batch.Processed()
			if err != nil {
				return processed, err
			}
			res.Batches = append(res.Batches, batch)
		}
		entries, err := r.checkQuality(ctx, tx, run.ID, "")
		if err != nil {
			return processed, err
		}
		res.Quality = entries
		summary := quality.Summarize(entries, r.cfg.QualityWeights)
		res.Summary = &summary
		return processed, nil
	})
	if err != nil {
		return RunResult{}, err
	}
	res.PipelineRun = out.run
	if out.err == nil {
		r.publish(res.Batches, res.Summary)
	} else {
		res.Batches, res.Quality, res.Summary = nil, nil, nil
	}
	return res, nil
}

// Ingest loads one batch of rows under the run lease.
func (r *Runner) Ingest(ctx context.Context, kind ingest.EntityKind, rows []ingest.Row) (ingest.BatchResult, error) {
	kind, err := ingest.ParseKind(string(kind))
	if err != nil {
		return ingest.BatchResult{}, err
	}
	var batch ingest.BatchResult
	out, err := r.execute(ctx, pharmacy.RunIngest, func(ctx context.Context, tx store.Tx, run *pharmacy.PipelineRun) (int, error) {
		var err error
		batch, err = r.loader.Load(ctx, tx, kind, rows, ingest.Options{RunID: run.ID})
		return batch.Processed(), err
	})
	if err != nil {
		return ingest.BatchResult{}, err
	}
	if out.err != nil {
		return ingest.BatchResult{}, out.failure()
	}
	r.publish([]ingest.BatchResult{batch}, nil)
	return batch, nil
}

// RunQualityChecks computes and appends the checks for table, or for every
// table when table is empty.
func (r *Runner) RunQualityChecks(ctx context.Context, table string) ([]pharmacy.QualityLogEntry, error) {
	table, err := quality.ParseTable(table)
	if err != nil {
		return nil, err
	}
	var entries []pharmacy.QualityLogEntry
	out, err := r.execute(ctx, pharmacy.RunQuality, func(ctx context.Context, tx store.Tx, run *pharmacy.PipelineRun) (int, error) {
		var err error
		entries, err = r.checkQuality(ctx, tx, run.ID, table)
		return len(entries), err
	})
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, out.failure()
	}
	summary := quality.Summarize(entries, r.cfg.QualityWeights)
	r.publish(nil, &summary)
	return entries, nil
}

func (r *Runner) checkQuality(ctx context.Context, tx store.Tx, runID, table string) ([]pharmacy.QualityLogEntry, error) {
	entries, err := r.validator.Run(ctx, tx, table)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].RunID = runID
		id, err := tx.InsertQualityLog(ctx, entries[i])
		if err != nil {
			return nil, fmt.Errorf("pipeline: append quality log: %w", err)
		}
		entries[i].ID = id
	}
	return entries, nil
}

// outcome is a finished run and, when it failed, its taxonomy error.
type outcome struct {
	run pharmacy.PipelineRun
	err error
}

// failure wraps a failed run's error for single-result callers.
func (o outcome) failure() error {
	return fmt.Errorf("pipeline: run %s: %w", o.run.ID, o.err)
}

// execute acquires the lease, records the run and runs fn in a transaction
// bounded by the run budget. The returned error is non-nil only when the run
// could not start; the run's own outcome is carried by the returned outcome.
func (r *Runner) execute(ctx context.Context, kind pharmacy.RunKind, fn work) (outcome, error) {
	run := pharmacy.PipelineRun{ID: uuid.NewString(), Kind: kind, Status: pharmacy.RunIdle, Errors: []string{}}
	logger := r.logger.With(slog.String("run_id", run.ID), slog.String("kind", string(kind)))

	acquired, err := r.lease.Acquire(ctx, run.ID, r.cfg.RunBudget+r.cfg.LeaseGrace)
	if err != nil {
		logger.Error("acquire run lease", slog.Any("error", err))
		return outcome{}, pharmacy.ErrStoreUnavailable
	}
	if !acquired {
		return outcome{}, pharmacy.ErrRunConflict
	}
	// The lease and run record outlive a cancelled caller context.
	detached := context.WithoutCancel(ctx)
	defer func() {
		if err := r.lease.Release(detached, run.ID); err != nil {
			logger.Warn("release run lease", slog.Any("error", err))
		}
	}()

	if !run.Status.CanTransition(pharmacy.RunRunning) {
		return outcome{}, fmt.Errorf("pipeline: run %s cannot start from %s", run.ID, run.Status)
	}
	run.Status = pharmacy.RunRunning
	run.StartedAt = r.now()
	if err := r.store.InsertRun(ctx, run); err != nil {
		logger.Error("record run start", slog.Any("error", err))
		return outcome{}, pharmacy.MapError(err)
	}
	logger.Info("run started")

	tracker := r.metrics.Track(string(kind))
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunBudget)
	defer cancel()

	processed := 0
	runErr := r.store.WithTx(runCtx, func(ctx context.Context, tx store.Tx) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("pipeline: panic: %v", p)
			}
		}()
		processed, err = fn(ctx, tx, &run)
		return err
	})
	_ = tracker.End(runErr)

	out := outcome{err: pharmacy.MapError(runErr)}
	status := pharmacy.RunSucceeded
	var errs []string
	if runErr != nil {
		status = pharmacy.RunFailed
		errs = []string{out.err.Error()}
		logger.Error("run failed", slog.Any("error", runErr), slog.Int("processed", processed))
	}
	if err := run.Finish(status, r.now(), processed, errs); err != nil {
		return outcome{}, err
	}
	if err := r.store.UpdateRun(detached, run); err != nil {
		logger.Error("record run finish", slog.Any("error", err))
	}
	if status == pharmacy.RunSucceeded {
		logger.Info("run finished", slog.Int("processed", processed), slog.Duration("duration", run.Duration()))
	}
	out.run = run
	return out, nil
}

// publish reports a committed run's row counts and quality scores.
func (r *Runner) publish(batches []ingest.BatchResult, summary *quality.Summary) {
	for _, b := range batches {
		kind := string(b.Kind)
		r.metrics.AddRows(kind, string(ingest.OutcomeInserted), b.Inserted)
		r.metrics.AddRows(kind, string(ingest.OutcomeCorrected), b.Corrected)
		r.metrics.AddRows(kind, string(ingest.OutcomeUnchanged), b.Unchanged)
		r.metrics.AddRows(kind, "rejected", len(b.Rejected))
	}
	if summary == nil {
		return
	}
	for _, ts := range summary.Tables {
		r.metrics.SetQualityScore(ts.Table, ts.Score)
	}
}

// Status reports whether a run holds the lease and the most recent run.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	status := Status{State: pharmacy.RunIdle}
	holder, err := r.lease.Holder(ctx)
	if err != nil {
		r.logger.Error("read run lease", slog.Any("error", err))
		return Status{}, pharmacy.ErrStoreUnavailable
	}
	if holder != "" {
		status.State = pharmacy.RunRunning
		status.Holder = holder
	}
	last, err := r.store.LatestRun(ctx)
	switch {
	case errors.Is(err, pharmacy.ErrNotFound):
	case err != nil:
		r.logger.Error("read latest run", slog.Any("error", err))
		return Status{}, pharmacy.MapError(err)
	default:
		status.LastRun = &last
	}
	return status, nil
}

// Recover marks Running records whose lease is no longer held as Failed, so
// the system returns to Idle after a crash. It returns the number of runs
// marked.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	holder, err := r.lease.Holder(ctx)
	if err != nil {
		r.logger.Error("read run lease", slog.Any("error", err))
		return 0, pharmacy.ErrStoreUnavailable
	}
	running, err := r.store.ListRuns(ctx, pharmacy.RunRunning)
	if err != nil {
		r.logger.Error("list running runs", slog.Any("error", err))
		return 0, pharmacy.MapError(err)
	}
	recovered := 0
	for _, run := range running {
		if run.ID == holder {
			continue
		}
		if err := run.Finish(pharmacy.RunFailed, r.now(), run.RecordsProcessed, []string{AbandonedReason}); err != nil {
			return recovered, err
		}
		if err := r.store.UpdateRun(ctx, run); err != nil {
			r.logger.Error("mark run abandoned", slog.String("run_id", run.ID), slog.Any("error", err))
			return recovered, pharmacy.MapError(err)
		}
		r.logger.Warn("marked abandoned run failed", slog.String("run_id", run.ID), slog.Time("started_at", run.StartedAt))
		recovered++
	}
	return recovered, nil
}
