package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// Period is a sales summary granularity.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod resolves a granularity name.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
}

// Truncate returns the first day of the period containing t. Weeks start on
// Monday.
func (p Period) Truncate(t time.Time) time.Time {
	d := pharmacy.Date(t)
	switch p {
	case PeriodWeek:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// Label formats the period starting at start.
func (p Period) Label(start time.Time) string {
	switch p {
	case PeriodWeek:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonth:
		return start.Format("2006-01")
	}
	return start.Format(time.DateOnly)
}

// PeriodSummary aggregates the sales of one period.
type PeriodSummary struct {
	Period        string          `json:"period"`
	Start         time.Time       `json:"period_start"`
	Transactions  int             `json:"transactions"`
	DistinctDrugs int             `json:"distinct_drugs"`
	Quantity      int             `json:"quantity"`
	Revenue       decimal.Decimal `json:"revenue"`
	AverageSale   decimal.Decimal `json:"average_sale"`
	MaxSale       decimal.Decimal `json:"max_sale"`
}

// SalesSummary groups the sales dated inside w by period, ordered by period
// start. Periods without sales are omitted.
func SalesSummary(sales []pharmacy.Sale, period Period, w Window) ([]PeriodSummary, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	filter := w.filter()
	type bucket struct {
		summary PeriodSummary
		drugs   map[int64]struct{}
	}
	buckets := map[time.Time]*bucket{}
	for _, s := range sales {
		if !filter.Match(s) {
			continue
		}
		start := period.Truncate(s.SaleDate)
		b, ok := buckets[start]
		if !ok {
			b = &bucket{
				summary: PeriodSummary{Period: period.Label(start), Start: start, Revenue: decimal.Zero, MaxSale: s.TotalAmount},
				drugs:   map[int64]struct{}{},
			}
			buckets[start] = b
		}
		b.summary.Transactions++
		b.summary.Quantity += s.Quantity
		b.summary.Revenue = b.summary.Revenue.Add(s.TotalAmount)
		if s.TotalAmount.GreaterThan(b.summary.MaxSale) {
			b.summary.MaxSale = s.TotalAmount
		}
		b.drugs[s.DrugID] = struct{}{}
	}

	out := make([]PeriodSummary, 0, len(buckets))
	for _, b := range buckets {
		b.summary.DistinctDrugs = len(b.drugs)
		b.summary.AverageSale = b.summary.Revenue.Div(decimal.NewFromInt(int64(b.summary.Transactions))).Round(2)
		out = append(out, b.summary)
	}
	slices.SortFunc(out, func(a, b PeriodSummary) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// Metric selects the TopDrugs ranking measure.
type Metric string

const (
	MetricRevenue  Metric = "revenue"
	MetricQuantity Metric = "quantity"
)

// ParseMetric resolves a metric name.
func ParseMetric(raw string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(raw))); m {
	case MetricRevenue, MetricQuantity:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, raw)
}

// RankedDrug is one TopDrugs entry.
type RankedDrug struct {
	Rank         int             `json:"rank"`
	DrugID       int64           `json:"drug_id"`
	Code         string          `json:"drug_code"`
	Name         string          `json:"drug_name"`
	Revenue      decimal.Decimal `json:"revenue"`
	Quantity     int             `json:"quantity"`
	Transactions int             `json:"transactions"`
}

// TopDrugs ranks the drugs sold inside w by metric, descending, ties broken by
// drug id ascending. It returns limit entries, fewer when fewer drugs sold.
func TopDrugs(sales []pharmacy.Sale, drugs []pharmacy.Drug, limit int, metric Metric, w Window) ([]RankedDrug, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", pharmacy.ErrInvalidArgument, limit)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	names := make(map[int64]pharmacy.Drug, len(drugs))
	for _, d := range drugs {
		names[d.ID] = d
	}

	filter := w.filter()
	byDrug := map[int64]*RankedDrug{}
	for _, s := range sales {
		if !filter.Match(s) {
			continue
		}
		r, ok := byDrug[s.DrugID]
		if !ok {
			r = &RankedDrug{DrugID: s.DrugID, Code: s.DrugCode, Revenue: decimal.Zero}
			if d, known := names[s.DrugID]; known {
				r.Code, r.Name = d.Code, d.Name
			}
			byDrug[s.DrugID] = r
		}
		r.Revenue = r.Revenue.Add(s.TotalAmount)
		r.Quantity += s.Quantity
		r.Transactions++
	}

	ranked := make([]RankedDrug, 0, len(byDrug))
	for _, r := range byDrug {
		ranked = append(ranked, *r)
	}
	slices.SortFunc(ranked, func(a, b RankedDrug) int {
		var c int
		if metric == MetricQuantity {
			c = cmp.Compare(b.Quantity, a.Quantity)
		} else {
			c = b.Revenue.Cmp(a.Revenue)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.DrugID, b.DrugID)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// PaymentShare is the revenue settled through one payment method.
type PaymentShare struct {
	Method       pharmacy.PaymentMethod `json:"payment_method"`
	Transactions int                    `json:"transactions"`
	Total        decimal.Decimal        `json:"total_amount"`
	Share        float64                `json:"share_percentage"`
}

// PaymentBreakdown sums total_amount per payment method inside w, ordered by
// total descending then method.
func PaymentBreakdown(sales []pharmacy.Sale, w Window) ([]PaymentShare, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	filter := w.filter()
	byMethod := map[pharmacy.PaymentMethod]*PaymentShare{}
	grand := decimal.Zero
	for _, s := range sales {
		if !filter.Match(s) {
			continue
		}
		p, ok := byMethod[s.PaymentMethod]
		if !ok {
			p = &PaymentShare{Method: s.PaymentMethod, Total: decimal.Zero}
			byMethod[s.PaymentMethod] = p
		}
		p.Transactions++
		p.Total = p.Total.Add(s.TotalAmount)
		grand = grand.Add(s.TotalAmount)
	}

	out := make([]PaymentShare, 0, len(byMethod))
	for _, p := range byMethod {
		if grand.IsPositive() {
			p.Share, _ = p.Total.Div(grand).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		}
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b PaymentShare) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return strings.Compare(string(a.Method), string(b.Method))
	})
	return out, nil
}
