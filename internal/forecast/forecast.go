// Package forecast projects when drugs run out of stock and how much to
// reorder, from trailing sales and supplier lead times.
package forecast

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// Defaults.
const (
	DefaultLookbackDays     = 90
	DefaultSafetyMarginDays = 7
	DefaultLeadTimeDays     = 14
)

// epsilon absorbs float error before floor and ceil.
const epsilon = 1e-9

// RiskLevel grades how soon a drug runs out.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

// Risk maps days until stockout onto a level: a week or less is High, two
// weeks or less Medium.
func Risk(days int) RiskLevel {
	switch {
	case days <= 7:
		return RiskHigh
	case days <= 14:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Config tunes the engine.
type Config struct {
	LookbackDays        int
	SafetyMarginDays    int
	DefaultLeadTimeDays int
	Model               ConsumptionModel
}

// DefaultConfig returns a 90 day trailing average with a 7 day safety margin
// and a 14 day lead time for drugs without a supplier.
func DefaultConfig() Config {
	return Config{
		LookbackDays:        DefaultLookbackDays,
		SafetyMarginDays:    DefaultSafetyMarginDays,
		DefaultLeadTimeDays: DefaultLeadTimeDays,
		Model:               TrailingAverage{},
	}
}

// Entry is the projection for one drug.
type Entry struct {
	DrugID                int64     `json:"drug_id"`
	Code                  string    `json:"drug_code"`
	Name                  string    `json:"drug_name"`
	StockQuantity         int       `json:"stock_quantity"`
	AvgDailyConsumption   float64   `json:"avg_daily_consumption"`
	DaysUntilStockout     *int      `json:"days_until_stockout"`
	LeadTimeDays          int       `json:"lead_time_days"`
	RecommendedReorderQty int       `json:"recommended_reorder_qty"`
	Risk                  RiskLevel `json:"risk_level,omitempty"`
	InsufficientData      bool      `json:"insufficient_data"`
}

// Result separates actionable projections from drugs without sales history.
type Result struct {
	AsOf             time.Time `json:"as_of"`
	HorizonDays      int       `json:"horizon_days"`
	LookbackDays     int       `json:"lookback_days"`
	Model            string    `json:"model"`
	Actionable       []Entry   `json:"actionable"`
	InsufficientData []Entry   `json:"insufficient_data"`
}

// Engine computes low stock forecasts. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewEngine constructs Engine. A non-positive look-back, negative day counts
// and a nil model fall back to the defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.SafetyMarginDays < 0 {
		cfg.SafetyMarginDays = DefaultSafetyMarginDays
	}
	if cfg.DefaultLeadTimeDays < 0 {
		cfg.DefaultLeadTimeDays = DefaultLeadTimeDays
	}
	if cfg.Model == nil {
		cfg.Model = TrailingAverage{}
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// LowStock projects every drug on asOf. Drugs that sold nothing in the
// look-back window are listed in InsufficientData; the others are actionable
// when they run out within horizonDays. Actionable entries are ordered by days
// until stockout then code.
func (e *Engine) LowStock(drugs []pharmacy.Drug, sales []pharmacy.Sale, suppliers []pharmacy.Supplier, asOf time.Time, horizonDays int) (Result, error) {
	if horizonDays < 0 {
		return Result{}, fmt.Errorf("%w: horizon must not be negative, got %d", pharmacy.ErrInvalidArgument, horizonDays)
	}
	asOf = pharmacy.Date(asOf)
	lookback := e.cfg.LookbackDays
	start := asOf.AddDate(0, 0, -(lookback - 1))

	daily := make(map[int64][]int, len(drugs))
	for _, s := range sales {
		idx := pharmacy.DaysBetween(start, s.SaleDate)
		if idx < 0 || idx >= lookback {
			continue
		}
		series, ok := daily[s.DrugID]
		if !ok {
			series = make([]int, lookback)
			daily[s.DrugID] = series
		}
		series[idx] += s.Quantity
	}

	leadTimes := make(map[int64]int, len(suppliers))
	for _, s := range suppliers {
		leadTimes[s.ID] = s.LeadTimeDays
	}

	res := Result{
		AsOf:             asOf,
		HorizonDays:      horizonDays,
		LookbackDays:     lookback,
		Model:            e.cfg.Model.Name(),
		Actionable:       []Entry{},
		InsufficientData: []Entry{},
	}
	for _, d := range drugs {
		entry := Entry{
			DrugID:        d.ID,
			Code:          d.Code,
			Name:          d.Name,
			StockQuantity: d.StockQuantity,
			LeadTimeDays:  e.cfg.DefaultLeadTimeDays,
		}
		if d.SupplierID != nil {
			if lead, ok := leadTimes[*d.SupplierID]; ok {
				entry.LeadTimeDays = lead
			}
		}

		var avg float64
		if series, ok := daily[d.ID]; ok {
			avg = e.cfg.Model.AverageDaily(series)
		}
		if avg <= 0 || math.IsNaN(avg) || math.IsInf(avg, 0) {
			entry.InsufficientData = true
			res.InsufficientData = append(res.InsufficientData, entry)
			continue
		}

		days := int(math.Floor(float64(d.StockQuantity)/avg + epsilon))
		entry.AvgDailyConsumption = math.Round(avg*100) / 100
		entry.DaysUntilStockout = &days
		entry.RecommendedReorderQty = reorderQty(avg, entry.LeadTimeDays+e.cfg.SafetyMarginDays, d.StockQuantity)
		entry.Risk = Risk(days)
		if days <= horizonDays {
			res.Actionable = append(res.Actionable, entry)
		}
	}

	slices.SortFunc(res.Actionable, func(a, b Entry) int {
		if c := cmp.Compare(*a.DaysUntilStockout, *b.DaysUntilStockout); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	slices.SortFunc(res.InsufficientData, func(a, b Entry) int { return strings.Compare(a.Code, b.Code) })
	return res, nil
}

// reorderQty covers coverDays of consumption beyond the current stock.
func reorderQty(avg float64, coverDays, stock int) int {
	need := math.Ceil(avg*float64(coverDays) - float64(stock) - epsilon)
	if need < 0 {
		return 0
	}
	return int(need)
}
