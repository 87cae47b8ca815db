package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/medtrack/medtrack-analytics/internal/app"
	"github.com/medtrack/medtrack-analytics/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	if recovered, err := container.Runner.Recover(ctx); err != nil {
		logger.Warn("recover abandoned runs", slog.Any("error", err))
	} else if recovered > 0 {
		logger.Info("recovered abandoned runs", slog.Int("runs", recovered))
	}

	pipelineJob := jobs.NewPipelineJob(container.Reporting, logger)
	warmupJob := jobs.NewWarmupJob(container.Reporting, logger, container.Metrics.Jobs())

	cron, err := jobs.Schedule{
		PipelineRun:  cfg.CronPipelineRun,
		QualityCheck: cfg.CronQualityCheck,
		Warmup:       cfg.CronWarmup,
	}.CronEntries()
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    jobs.Handlers(pipelineJob, warmupJob),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
