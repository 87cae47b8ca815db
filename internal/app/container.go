package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/forecast"
	"github.com/medtrack/medtrack-analytics/internal/ingest"
	"github.com/medtrack/medtrack-analytics/internal/inventory"
	"github.com/medtrack/medtrack-analytics/internal/observability"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
	"github.com/medtrack/medtrack-analytics/internal/platform/cache"
	"github.com/medtrack/medtrack-analytics/internal/platform/db"
	"github.com/medtrack/medtrack-analytics/internal/quality"
	"github.com/medtrack/medtrack-analytics/internal/reporting"
	"github.com/medtrack/medtrack-analytics/internal/store"
	"github.com/medtrack/medtrack-analytics/internal/store/memory"
	"github.com/medtrack/medtrack-analytics/internal/store/postgres"
)

// Container holds the wired runtime shared by the server, worker and CLI.
type Container struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Store     store.Store
	Metrics   *observability.Metrics
	Runner    *pipeline.Runner
	Forecast  *forecast.Engine
	Reporting *reporting.Service
}

// Build connects the configured store and redis and wires the services.
// Redis is optional: without it reports are computed on every read and the
// run lease only guards this process.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	now := func() time.Time { return time.Now().UTC() }

	switch cfg.StoreDriver {
	case "memory":
		c.Store = memory.New()
	default:
		pool, err := db.New(ctx, cfg.Postgres("analytics"))
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		c.Store = postgres.New(pool)
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logger.Info("redis disabled, running without cache and with a local lease")
	case err != nil:
		logger.Warn("redis unavailable, running without cache and with a local lease", slog.Any("error", err))
	default:
		c.Redis = redisClient
	}

	tolerance, err := decimal.NewFromString(cfg.QualityTolerance)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("app: quality tolerance: %w", err)
	}
	validator := quality.NewValidator(quality.Config{
		WarnThreshold: cfg.QualityWarnThreshold,
		StaleAfter:    cfg.QualityStaleAfter,
		Tolerance:     tolerance,
		Weights:       cfg.QualityWeights,
	}, now)

	model, err := forecast.ModelByName(cfg.ForecastModel, cfg.ForecastEWMAAlpha)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Forecast = forecast.NewEngine(forecast.Config{
		LookbackDays:        cfg.ForecastLookbackDays,
		SafetyMarginDays:    cfg.ForecastSafetyMarginDays,
		DefaultLeadTimeDays: cfg.ForecastDefaultLeadTimeDays,
		Model:               model,
	})

	var lease pipeline.Lease = pipeline.NewLocalLease(now)
	if c.Redis != nil {
		lease = pipeline.NewRedisLease(c.Redis, pipeline.DefaultLeaseKey)
	}
	c.Runner = pipeline.NewRunner(pipeline.Deps{
		Store:     c.Store,
		Lease:     lease,
		Loader:    ingest.NewLoader(inventory.NewLedger(), logger, now),
		Validator: validator,
		Source:    ingest.NewDirSource(cfg.PipelineSourceDir),
		Metrics:   c.Metrics.Jobs(),
		Logger:    logger,
		Now:       now,
	}, pipeline.Config{
		RunBudget:      cfg.PipelineRunBudget,
		LeaseGrace:     cfg.PipelineLeaseGrace,
		QualityWeights: cfg.QualityWeights,
	})

	c.Reporting = reporting.NewService(
		c.Store,
		c.Runner,
		c.Forecast,
		reporting.NewCache(c.Redis, cfg.CacheTTL, logger),
		logger,
		now,
		reporting.Config{QualityWeights: cfg.QualityWeights},
	)
	return c, nil
}

// Close releases connections.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
