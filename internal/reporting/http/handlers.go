// Package reportinghttp exposes the reporting boundary over JSON HTTP.
package reportinghttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medtrack/medtrack-analytics/internal/analytics"
	"github.com/medtrack/medtrack-analytics/internal/analytics/export"
	"github.com/medtrack/medtrack-analytics/internal/forecast"
	"github.com/medtrack/medtrack-analytics/internal/ingest"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
	"github.com/medtrack/medtrack-analytics/internal/platform/httpx"
	"github.com/medtrack/medtrack-analytics/internal/quality"
	"github.com/medtrack/medtrack-analytics/internal/reporting"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Service is the reporting boundary consumed by the handlers.
type Service interface {
	Ingest(ctx context.Context, kind ingest.EntityKind, rows []ingest.Row) (ingest.BatchResult, error)
	RunQualityChecks(ctx context.Context, table string) ([]pharmacy.QualityLogEntry, error)
	RunPipeline(ctx context.Context) (pipeline.RunResult, error)
	GetPipelineStatus(ctx context.Context) (pipeline.Status, error)
	GetLowStockAlerts(ctx context.Context, multiplier float64) ([]analytics.DrugStock, error)
	GetSalesSummary(ctx context.Context, period string, start, end time.Time) ([]analytics.PeriodSummary, error)
	GetTopDrugs(ctx context.Context, limit int, metric string, start, end time.Time) ([]analytics.RankedDrug, error)
	GetDemographics(ctx context.Context) (analytics.Demographics, error)
	GetLowStockForecast(ctx context.Context, horizonDays int) (forecast.Result, error)
	GetExpiringSoon(ctx context.Context, horizonDays int) (analytics.ExpiryReport, error)
	GetPaymentBreakdown(ctx context.Context, start, end time.Time) ([]analytics.PaymentShare, error)
	GetInventoryValuation(ctx context.Context) (analytics.Valuation, error)
	GetStockMovements(ctx context.Context, start, end time.Time) ([]analytics.MovementSummary, error)
	GetDashboard(ctx context.Context) (analytics.Dashboard, error)
	GetQualityScores(ctx context.Context) (quality.Summary, error)
	GetQualityLog(ctx context.Context, filter store.QualityFilter) ([]pharmacy.QualityLogEntry, error)
	AcknowledgeQuality(ctx context.Context, id int64, actor string) (pharmacy.QualityLogEntry, error)
	Invalidate(ctx context.Context) error
}

var _ Service = (*reporting.Service)(nil)

const defaultTopLimit = 10

// Handler serves the reporting API.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "reporting.http")), service: service}
}

type ingestRequest struct {
	Rows []ingest.Row `json:"rows"`
}

type ackRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	kind, err := ingest.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var rows []ingest.Row
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv":
		rows, err = ingest.ReadCSV(http.MaxBytesReader(w, r.Body, 32<<20))
		if err != nil {
			err = fmt.Errorf("%w: %v", pharmacy.ErrInvalidArgument, err)
		}
	default:
		var req ingestRequest
		err = httpx.DecodeJSON(w, r, &req)
		rows = req.Rows
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.service.Ingest(r.Context(), kind, rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunPipeline(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Status == pharmacy.RunFailed {
		status = http.StatusInternalServerError
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetPipelineStatus(r.Context())
	respond(h, w, r, status, err)
}

func (h *Handler) handleRunQuality(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.RunQualityChecks(r.Context(), r.URL.Query().Get("table"))
	respond(h, w, r, entries, err)
}

func (h *Handler) handleQualityScores(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetQualityScores(r.Context())
	respond(h, w, r, summary, err)
}

func (h *Handler) handleQualityLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.QualityFilter{Table: q.Get("table"), RunID: q.Get("run_id")}
	if raw := q.Get("unresolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, invalid("unresolved", raw))
			return
		}
		filter.UnresolvedOnly = v
	}
	entries, err := h.service.GetQualityLog(r.Context(), filter)
	respond(h, w, r, entries, err)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.fail(w, r, invalid("id", raw))
		return
	}
	var req ackRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	entry, err := h.service.AcknowledgeQuality(r.Context(), id, strings.TrimSpace(req.Actor))
	respond(h, w, r, entry, err)
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	multiplier := 0.0
	if raw := r.URL.Query().Get("multiplier"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.fail(w, r, invalid("multiplier", raw))
			return
		}
		multiplier = v
	}
	alerts, err := h.service.GetLowStockAlerts(r.Context(), multiplier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		h.csv(w, r, "low-stock.csv", func(out io.Writer) error { return export.WriteLowStockCSV(out, alerts) })
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = string(analytics.PeriodDay)
	}
	summary, err := h.service.GetSalesSummary(r.Context(), period, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		h.csv(w, r, "sales-summary.csv", func(out io.Writer) error { return export.WriteSalesSummaryCSV(out, summary) })
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleTopDrugs(w http.ResponseWriter, r *http.Request) {
	start, end, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", defaultTopLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = string(analytics.MetricRevenue)
	}
	top, err := h.service.GetTopDrugs(r.Context(), limit, metric, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		h.csv(w, r, "top-drugs.csv", func(out io.Writer) error { return export.WriteTopDrugsCSV(out, top) })
		return
	}
	httpx.JSON(w, http.StatusOK, top)
}

func (h *Handler) handleDemographics(w http.ResponseWriter, r *http.Request) {
	demo, err := h.service.GetDemographics(r.Context())
	respond(h, w, r, demo, err)
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	horizon, err := intParam(r, "horizon_days", reporting.DefaultForecastHorizonDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.GetLowStockForecast(r.Context(), horizon)
	respond(h, w, r, result, err)
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	horizon, err := intParam(r, "horizon_days", analytics.DefaultExpiryHorizonDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.service.GetExpiringSoon(r.Context(), horizon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		h.csv(w, r, "expiring.csv", func(out io.Writer) error { return export.WriteExpiryCSV(out, report) })
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	start, end, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	shares, err := h.service.GetPaymentBreakdown(r.Context(), start, end)
	respond(h, w, r, shares, err)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	valuation, err := h.service.GetInventoryValuation(r.Context())
	respond(h, w, r, valuation, err)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	start, end, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.GetStockMovements(r.Context(), start, end)
	respond(h, w, r, movements, err)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.service.GetDashboard(r.Context())
	respond(h, w, r, dash, err)
}

func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, body T, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

// csv buffers the export so a write failure can still be reported as an
// error response.
func (h *Handler) csv(w http.ResponseWriter, r *http.Request, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		h.logger.Error("render csv", slog.String("file", filename), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

func window(r *http.Request) (time.Time, time.Time, error) {
	start, err := dateParam(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := dateParam(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, invalid(name, raw)
	}
	return t, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(name, raw)
	}
	return v, nil
}

func invalid(name, raw string) error {
	return fmt.Errorf("%w: %s %q", pharmacy.ErrInvalidArgument, name, raw)
}
