package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
)

// Reporting is the slice of the reporting service the jobs drive.
type Reporting interface {
	RunPipeline(ctx context.Context) (pipeline.RunResult, error)
	RunQualityChecks(ctx context.Context, table string) ([]pharmacy.QualityLogEntry, error)
	Warmup(ctx context.Context) error
}

// PipelineJob runs scheduled pipeline and quality tasks. Run metrics are
// recorded by the pipeline runner itself.
type PipelineJob struct {
	Service Reporting
	Logger  *slog.Logger
}

// NewPipelineJob wires dependencies for the pipeline handlers.
func NewPipelineJob(service Reporting, logger *slog.Logger) *PipelineJob {
	return &PipelineJob{Service: service, Logger: logger}
}

// HandleRun processes TaskPipelineRun tasks. A run that is already in
// progress is not retried; a run that failed is.
func (j *PipelineJob) HandleRun(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("pipeline job: handler not configured")
	}
	var payload PipelineRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger(TaskPipelineRun).With(slog.String("trigger", payload.Trigger))

	res, err := j.Service.RunPipeline(ctx)
	if err != nil {
		return skipOnConflict(logger, err)
	}
	if res.Status == pharmacy.RunFailed {
		logger.Warn("scheduled run failed", slog.String("run_id", res.ID), slog.Any("errors", res.Errors))
		return fmt.Errorf("pipeline job: run %s failed: %s", res.ID, strings.Join(res.Errors, "; "))
	}
	logger.Info("scheduled run completed", slog.String("run_id", res.ID), slog.Int("records", res.RecordsProcessed))
	return nil
}

// HandleQuality processes TaskQualityCheck tasks.
func (j *PipelineJob) HandleQuality(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("pipeline job: handler not configured")
	}
	var payload QualityCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger(TaskQualityCheck).With(slog.String("table", payload.Table))

	entries, err := j.Service.RunQualityChecks(ctx, payload.Table)
	if err != nil {
		if errors.Is(err, pharmacy.ErrInvalidArgument) {
			logger.Warn("quality check rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return skipOnConflict(logger, err)
	}
	logger.Info("quality checks recorded", slog.Int("entries", len(entries)))
	return nil
}

func skipOnConflict(logger *slog.Logger, err error) error {
	if errors.Is(err, pharmacy.ErrRunConflict) {
		logger.Info("run already in progress, skipping")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger.Error("job failed", slog.Any("error", err))
	return err
}

func (j *PipelineJob) logger(task string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}
