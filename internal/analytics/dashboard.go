package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

const (
	dashboardSalesDays = 30
	dashboardTrendDays = 7
)

// SalesTotals summarises a block of sales.
type SalesTotals struct {
	Transactions int             `json:"transactions"`
	Quantity     int             `json:"quantity"`
	Revenue      decimal.Decimal `json:"revenue"`
	AverageSale  decimal.Decimal `json:"average_sale"`
}

// InventoryTotals summarises stock health.
type InventoryTotals struct {
	Drugs        int             `json:"drugs"`
	Critical     int             `json:"critical"`
	Low          int             `json:"low"`
	OutOfStock   int             `json:"out_of_stock"`
	ExpiringSoon int             `json:"expiring_soon"`
	Expired      int             `json:"expired"`
	StockValue   decimal.Decimal `json:"stock_value"`
}

// PatientTotals summarises the patient population.
type PatientTotals struct {
	Patients            int     `json:"patients"`
	ActivePrescriptions int     `json:"active_prescriptions"`
	AverageAge          float64 `json:"average_age"`
}

// DailyRevenue is one point of the revenue trend.
type DailyRevenue struct {
	Date         time.Time       `json:"date"`
	Transactions int             `json:"transactions"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// Dashboard is the landing summary.
type Dashboard struct {
	AsOf         time.Time       `json:"as_of"`
	Sales        SalesTotals     `json:"sales_30d"`
	Inventory    InventoryTotals `json:"inventory"`
	Patients     PatientTotals   `json:"patients"`
	RevenueTrend []DailyRevenue  `json:"revenue_trend_7d"`
}

// BuildDashboard summarises the snapshot on asOf: sales of the trailing 30
// days, stock health at the default multiplier, the patient population and a
// seven day revenue trend that includes days without sales.
func BuildDashboard(snap Snapshot, asOf time.Time) Dashboard {
	asOf = pharmacy.Date(asOf)
	d := Dashboard{AsOf: asOf}

	window := Window{Start: asOf.AddDate(0, 0, -(dashboardSalesDays - 1)), End: asOf}
	d.Sales.Revenue = decimal.Zero
	for _, s := range snap.Sales {
		if !window.contains(s.SaleDate) {
			continue
		}
		d.Sales.Transactions++
		d.Sales.Quantity += s.Quantity
		d.Sales.Revenue = d.Sales.Revenue.Add(s.TotalAmount)
	}
	d.Sales.AverageSale = decimal.Zero
	if d.Sales.Transactions > 0 {
		d.Sales.AverageSale = d.Sales.Revenue.Div(decimal.NewFromInt(int64(d.Sales.Transactions))).Round(2)
	}

	d.Inventory.Drugs = len(snap.Drugs)
	d.Inventory.StockValue = InventoryValuation(snap.Drugs).TotalValue
	for _, drug := range snap.Drugs {
		switch Classify(drug.StockQuantity, drug.MinStockLevel, DefaultLowMultiplier) {
		case StockCritical:
			d.Inventory.Critical++
		case StockLow:
			d.Inventory.Low++
		}
		if drug.StockQuantity == 0 {
			d.Inventory.OutOfStock++
		}
	}
	if expiry, err := Expiry(snap.Drugs, asOf, DefaultExpiryHorizonDays); err == nil {
		d.Inventory.ExpiringSoon = len(expiry.ExpiringSoon)
		d.Inventory.Expired = len(expiry.Expired)
	}

	d.Patients.Patients = len(snap.Patients)
	d.Patients.AverageAge = PatientDemographics(snap.Patients, asOf, 1).AverageAge
	for _, p := range snap.Prescriptions {
		if p.Status == pharmacy.PrescriptionActive {
			d.Patients.ActivePrescriptions++
		}
	}

	d.RevenueTrend = make([]DailyRevenue, dashboardTrendDays)
	first := asOf.AddDate(0, 0, -(dashboardTrendDays - 1))
	for i := range d.RevenueTrend {
		d.RevenueTrend[i] = DailyRevenue{Date: first.AddDate(0, 0, i), Revenue: decimal.Zero}
	}
	for _, s := range snap.Sales {
		idx := pharmacy.DaysBetween(first, s.SaleDate)
		if idx < 0 || idx >= dashboardTrendDays {
			continue
		}
		d.RevenueTrend[idx].Transactions++
		d.RevenueTrend[idx].Revenue = d.RevenueTrend[idx].Revenue.Add(s.TotalAmount)
	}
	return d
}
