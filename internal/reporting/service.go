// Package reporting is the boundary service: it fronts the pipeline runner
// for writes and serves cached analytics, forecast and quality reports read
// from one store snapshot per call.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medtrack/medtrack-analytics/internal/analytics"
	"github.com/medtrack/medtrack-analytics/internal/forecast"
	"github.com/medtrack/medtrack-analytics/internal/ingest"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
	"github.com/medtrack/medtrack-analytics/internal/quality"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Config tunes report defaults.
type Config struct {
	QualityWeights map[string]float64
	ConditionLimit int
}

// Service implements the reporting boundary.
type Service struct {
	store    store.Store
	runner   *pipeline.Runner
	forecast *forecast.Engine
	cache    *Cache
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// NewService wires the boundary. A nil cache serves every read uncached and a
// nil forecast engine uses the defaults.
func NewService(st store.Store, runner *pipeline.Runner, engine *forecast.Engine, cache *Cache, logger *slog.Logger, now func() time.Time, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if engine == nil {
		engine = forecast.NewEngine(forecast.DefaultConfig())
	}
	if cache == nil {
		cache = NewCache(nil, 0, logger)
	}
	if cfg.ConditionLimit <= 0 {
		cfg.ConditionLimit = analytics.DefaultConditionLimit
	}
	return &Service{
		store:    st,
		runner:   runner,
		forecast: engine,
		cache:    cache,
		logger:   logger.With(slog.String("component", "reporting")),
		now:      now,
		cfg:      cfg,
	}
}

// Ingest loads one batch and invalidates cached reports.
func (s *Service) Ingest(ctx context.Context, kind ingest.EntityKind, rows []ingest.Row) (ingest.BatchResult, error) {
	batch, err := s.runner.Ingest(ctx, kind, rows)
	if err != nil {
		return ingest.BatchResult{}, err
	}
	if batch.Accepted > 0 {
		s.invalidate(ctx, "ingest")
	}
	return batch, nil
}

// RunQualityChecks appends fresh quality results for table, or every table
// when table is empty.
func (s *Service) RunQualityChecks(ctx context.Context, table string) ([]pharmacy.QualityLogEntry, error) {
	entries, err := s.runner.RunQualityChecks(ctx, table)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, "quality")
	return entries, nil
}

// RunPipeline runs a full load and quality pass. ErrRunConflict is returned
// while another run holds the lease.
func (s *Service) RunPipeline(ctx context.Context) (pipeline.RunResult, error) {
	res, err := s.runner.RunPipeline(ctx)
	if err != nil {
		return pipeline.RunResult{}, err
	}
	if res.Status == pharmacy.RunSucceeded {
		s.invalidate(ctx, "pipeline")
	}
	return res, nil
}

// GetPipelineStatus reports the runner state and the last run.
func (s *Service) GetPipelineStatus(ctx context.Context) (pipeline.Status, error) {
	return s.runner.Status(ctx)
}

// GetLowStockAlerts lists CRITICAL and LOW drugs. A zero multiplier selects
// analytics.DefaultLowMultiplier.
func (s *Service) GetLowStockAlerts(ctx context.Context, multiplier float64) ([]analytics.DrugStock, error) {
	if multiplier == 0 {
		multiplier = analytics.DefaultLowMultiplier
	}
	// Argument errors surface before the cache is consulted.
	if _, err := analytics.LowStock(nil, multiplier); err != nil {
		return nil, err
	}
	return cached(ctx, s, []string{"low_stock", strconv.FormatFloat(multiplier, 'f', -1, 64)},
		func(ctx context.Context, r store.Reader) ([]analytics.DrugStock, error) {
			drugs, err := r.ListDrugs(ctx)
			if err != nil {
				return nil, err
			}
			return analytics.LowStock(drugs, multiplier)
		})
}

// GetSalesSummary aggregates sales inside the inclusive window by period.
func (s *Service) GetSalesSummary(ctx context.Context, period string, start, end time.Time) ([]analytics.PeriodSummary, error) {
	p, err := analytics.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	w := analytics.Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, []string{"sales_summary", string(p), day(start), day(end)},
		func(ctx context.Context, r store.Reader) ([]analytics.PeriodSummary, error) {
			sales, err := r.ListSales(ctx, store.SaleFilter{From: start, To: end})
			if err != nil {
				return nil, err
			}
			return analytics.SalesSummary(sales, p, w)
		})
}

// GetTopDrugs ranks drugs sold inside the window by metric.
func (s *Service) GetTopDrugs(ctx context.Context, limit int, metric string, start, end time.Time) ([]analytics.RankedDrug, error) {
	m, err := analytics.ParseMetric(metric)
	if err != nil {
		return nil, err
	}
	w := analytics.Window{Start: start, End: end}
	if _, err := analytics.TopDrugs(nil, nil, limit, m, w); err != nil {
		return nil, err
	}
	return cached(ctx, s, []string{"top_drugs", string(m), strconv.Itoa(limit), day(start), day(end)},
		func(ctx context.Context, r store.Reader) ([]analytics.RankedDrug, error) {
			sales, err := r.ListSales(ctx, store.SaleFilter{From: start, To: end})
			if err != nil {
				return nil, err
			}
			drugs, err := r.ListDrugs(ctx)
			if err != nil {
				return nil, err
			}
			return analytics.TopDrugs(sales, drugs, limit, m, w)
		})
}

// GetDemographics summarises patients as of today.
func (s *Service) GetDemographics(ctx context.Context) (analytics.Demographics, error) {
	asOf := s.today()
	return cached(ctx, s, []string{"demographics", day(asOf), strconv.Itoa(s.cfg.ConditionLimit)},
		func(ctx context.Context, r store.Reader) (analytics.Demographics, error) {
			patients, err := r.ListPatients(ctx)
			if err != nil {
				return analytics.Demographics{}, err
			}
			return analytics.PatientDemographics(patients, asOf, s.cfg.ConditionLimit), nil
		})
}

// GetLowStockForecast projects stockouts within horizonDays of today.
func (s *Service) GetLowStockForecast(ctx context.Context, horizonDays int) (forecast.Result, error) {
	asOf := s.today()
	if _, err := s.forecast.LowStock(nil, nil, nil, asOf, horizonDays); err != nil {
		return forecast.Result{}, err
	}
	lookback := s.forecast.Config().LookbackDays
	return cached(ctx, s, []string{"forecast", day(asOf), strconv.Itoa(horizonDays)},
		func(ctx context.Context, r store.Reader) (forecast.Result, error) {
			drugs, err := r.ListDrugs(ctx)
			if err != nil {
				return forecast.Result{}, err
			}
			sales, err := r.ListSales(ctx, store.SaleFilter{From: asOf.AddDate(0, 0, -lookback), To: asOf})
			if err != nil {
				return forecast.Result{}, err
			}
			suppliers, err := r.ListSuppliers(ctx)
			if err != nil {
				return forecast.Result{}, err
			}
			return s.forecast.LowStock(drugs, sales, suppliers, asOf, horizonDays)
		})
}

// GetExpiringSoon lists drugs expiring within horizonDays of today and those
// already expired.
func (s *Service) GetExpiringSoon(ctx context.Context, horizonDays int) (analytics.ExpiryReport, error) {
	asOf := s.today()
	if _, err := analytics.Expiry(nil, asOf, horizonDays); err != nil {
		return analytics.ExpiryReport{}, err
	}
	return cached(ctx, s, []string{"expiry", day(asOf), strconv.Itoa(horizonDays)},
		func(ctx context.Context, r store.Reader) (analytics.ExpiryReport, error) {
			drugs, err := r.ListDrugs(ctx)
			if err != nil {
				return analytics.ExpiryReport{}, err
			}
			return analytics.Expiry(drugs, asOf, horizonDays)
		})
}

// GetPaymentBreakdown splits revenue inside the window by payment method.
func (s *Service) GetPaymentBreakdown(ctx context.Context, start, end time.Time) ([]analytics.PaymentShare, error) {
	w := analytics.Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, []string{"payments", day(start), day(end)},
		func(ctx context.Context, r store.Reader) ([]analytics.PaymentShare, error) {
			sales, err := r.ListSales(ctx, store.SaleFilter{From: start, To: end})
			if err != nil {
				return nil, err
			}
			return analytics.PaymentBreakdown(sales, w)
		})
}

// GetInventoryValuation values stock on hand by category.
func (s *Service) GetInventoryValuation(ctx context.Context) (analytics.Valuation, error) {
	return cached(ctx, s, []string{"valuation"},
		func(ctx context.Context, r store.Reader) (analytics.Valuation, error) {
			drugs, err := r.ListDrugs(ctx)
			if err != nil {
				return analytics.Valuation{}, err
			}
			return analytics.InventoryValuation(drugs), nil
		})
}

// GetStockMovements totals ledger movements inside the window by type.
func (s *Service) GetStockMovements(ctx context.Context, start, end time.Time) ([]analytics.MovementSummary, error) {
	w := analytics.Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, []string{"movements", day(start), day(end)},
		func(ctx context.Context, r store.Reader) ([]analytics.MovementSummary, error) {
			txns, err := r.ListInventoryTransactions(ctx, store.TransactionFilter{From: start, To: end})
			if err != nil {
				return nil, err
			}
			return analytics.StockMovements(txns, w)
		})
}

// GetDashboard builds the overview as of today.
func (s *Service) GetDashboard(ctx context.Context) (analytics.Dashboard, error) {
	asOf := s.today()
	return cached(ctx, s, []string{"dashboard", day(asOf)},
		func(ctx context.Context, r store.Reader) (analytics.Dashboard, error) {
			snap, err := analytics.LoadSnapshot(ctx, r)
			if err != nil {
				return analytics.Dashboard{}, err
			}
			return analytics.BuildDashboard(snap, asOf), nil
		})
}

// GetQualityScores scores the latest result of every check.
func (s *Service) GetQualityScores(ctx context.Context) (quality.Summary, error) {
	return cached(ctx, s, []string{"quality_scores"},
		func(ctx context.Context, r store.Reader) (quality.Summary, error) {
			entries, err := r.ListQualityLog(ctx, store.QualityFilter{})
			if err != nil {
				return quality.Summary{}, err
			}
			return quality.Summarize(entries, s.cfg.QualityWeights), nil
		})
}

// GetQualityLog lists quality log entries. It is not cached so
// acknowledgements show up at once.
func (s *Service) GetQualityLog(ctx context.Context, filter store.QualityFilter) ([]pharmacy.QualityLogEntry, error) {
	if filter.Table != "" {
		table, err := quality.ParseTable(filter.Table)
		if err != nil {
			return nil, err
		}
		filter.Table = table
	}
	var entries []pharmacy.QualityLogEntry
	err := s.store.Snapshot(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		entries, err = r.ListQualityLog(ctx, filter)
		return err
	})
	if err != nil {
		return nil, s.fail("quality_log", err)
	}
	if entries == nil {
		entries = []pharmacy.QualityLogEntry{}
	}
	return entries, nil
}

// AcknowledgeQuality marks a quality log entry resolved by actor.
func (s *Service) AcknowledgeQuality(ctx context.Context, id int64, actor string) (pharmacy.QualityLogEntry, error) {
	if id <= 0 {
		return pharmacy.QualityLogEntry{}, fmt.Errorf("%w: quality entry id must be positive, got %d", pharmacy.ErrInvalidArgument, id)
	}
	if actor == "" {
		actor = "system"
	}
	entry, err := s.store.ResolveQualityEntry(ctx, id, actor, s.now())
	if err != nil {
		return pharmacy.QualityLogEntry{}, s.fail("acknowledge_quality", err)
	}
	s.logger.Info("quality entry acknowledged", slog.Int64("id", id), slog.String("actor", actor))
	s.invalidate(ctx, "acknowledge")
	return entry, nil
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		s.logger.Error("invalidate cache", slog.Any("error", err))
		return pharmacy.ErrStoreUnavailable
	}
	s.logger.Debug("cache invalidated", slog.Int64("version", ver))
	return nil
}

// Warmup precomputes the default reports concurrently.
func (s *Service) Warmup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.GetLowStockAlerts(ctx, analytics.DefaultLowMultiplier)
		return err
	})
	g.Go(func() error {
		_, err := s.GetDashboard(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.GetDemographics(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.GetExpiringSoon(ctx, analytics.DefaultExpiryHorizonDays)
		return err
	})
	g.Go(func() error {
		_, err := s.GetLowStockForecast(ctx, DefaultForecastHorizonDays)
		return err
	})
	g.Go(func() error {
		_, err := s.GetQualityScores(ctx)
		return err
	})
	return g.Wait()
}

// DefaultForecastHorizonDays is the stockout horizon used when callers do not
// pick one.
const DefaultForecastHorizonDays = 30

func (s *Service) invalidate(ctx context.Context, reason string) {
	if err := s.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("cached reports may be stale", slog.String("after", reason))
	}
}

func (s *Service) today() time.Time {
	return pharmacy.Date(s.now())
}

// fail logs err and maps it into the published taxonomy. Caller mistakes are
// not logged as errors.
func (s *Service) fail(op string, err error) error {
	mapped := pharmacy.MapError(err)
	if !errors.Is(mapped, pharmacy.ErrInvalidArgument) && !errors.Is(mapped, pharmacy.ErrNotFound) {
		s.logger.Error("report failed", slog.String("op", op), slog.Any("error", err))
	}
	return mapped
}

// cached serves a report from the cache, computing it from one snapshot on a
// miss. Cache outages fall back to computing directly.
func cached[T any](ctx context.Context, s *Service, parts []string, load func(context.Context, store.Reader) (T, error)) (T, error) {
	var out T
	loader := func(ctx context.Context) (any, error) {
		var v T
		err := s.store.Snapshot(ctx, func(ctx context.Context, r store.Reader) error {
			var err error
			v, err = load(ctx, r)
			return err
		})
		return v, err
	}
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("cache unavailable, computing directly", slog.String("report", parts[0]), slog.Any("error", err))
		v, err := loader(ctx)
		if err != nil {
			return out, s.fail(parts[0], err)
		}
		return v.(T), nil
	}
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return out, s.fail(parts[0], err)
	}
	return out, nil
}

func day(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(time.DateOnly)
}
