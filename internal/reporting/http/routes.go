package reportinghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// WriteRateLimit caps state-mutating requests per client per minute.
const WriteRateLimit = 10

// MountRoutes registers the reporting API onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(WriteRateLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/pipeline/status", h.handlePipelineStatus)
	r.Get("/quality/scores", h.handleQualityScores)
	r.Get("/quality/log", h.handleQualityLog)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/low-stock", h.handleLowStock)
		r.Get("/sales-summary", h.handleSalesSummary)
		r.Get("/top-drugs", h.handleTopDrugs)
		r.Get("/demographics", h.handleDemographics)
		r.Get("/forecast", h.handleForecast)
		r.Get("/expiring", h.handleExpiring)
		r.Get("/payments", h.handlePayments)
		r.Get("/valuation", h.handleValuation)
		r.Get("/movements", h.handleMovements)
		r.Get("/dashboard", h.handleDashboard)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/pipeline/run", h.handleRunPipeline)
		gr.Post("/ingest/{kind}", h.handleIngest)
		gr.Post("/quality/run", h.handleRunQuality)
		gr.Post("/quality/{id}/ack", h.handleAcknowledge)
		gr.Post("/cache/invalidate", h.handleInvalidate)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
