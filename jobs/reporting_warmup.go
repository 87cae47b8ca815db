package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/medtrack/medtrack-analytics/internal/jobs"
)

// DefaultWarmupTimeout bounds one warmup pass.
const DefaultWarmupTimeout = 2 * time.Minute

// WarmupJob pre-populates the report cache after scheduled loads.
type WarmupJob struct {
	Service Reporting
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
	clock   func() time.Time
}

// NewWarmupJob wires dependencies for the warmup handler.
func NewWarmupJob(service Reporting, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	return &WarmupJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		Timeout: DefaultWarmupTimeout,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskReportingWarmup tasks.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reporting warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskReportingWarmup)
	logger := j.logger()
	start := j.now()

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultWarmupTimeout
	}
	warmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := j.Service.Warmup(warmCtx); err != nil {
		logger.Error("warm reports", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("completed reporting warmup", slog.Duration("duration", j.now().Sub(start)))
	return tracker.End(nil)
}

func (j *WarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportingWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportingWarmup))
}

func (j *WarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
