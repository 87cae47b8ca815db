package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func sampleDrugs() []pharmacy.Drug {
	return []pharmacy.Drug{
		{ID: 1, Code: "PAN500", Name: "Paracetamol 500mg", Category: pharmacy.CategoryOTC, UnitPrice: dec("6.00"), StockQuantity: 140, MinStockLevel: 50, ExpiryDate: ptr(day("2024-06-20"))},
		{ID: 2, Code: "AMP250", Name: "Amoxicillin 250mg", Category: pharmacy.CategoryPrescription, UnitPrice: dec("13.75"), StockQuantity: 70, MinStockLevel: 50, ExpiryDate: ptr(day("2024-05-30"))},
		{ID: 3, Code: "LIS20", Name: "Lisinopril 20mg", Category: pharmacy.CategoryPrescription, UnitPrice: dec("17.00"), StockQuantity: 75, MinStockLevel: 50, ExpiryDate: ptr(day("2024-06-10"))},
		{ID: 4, Code: "MET500", Name: "Metformin 500mg", Category: pharmacy.CategoryPrescription, UnitPrice: dec("16.50"), StockQuantity: 0, MinStockLevel: 0},
		{ID: 5, Code: "IBU400", Name: "Ibuprofen 400mg", Category: pharmacy.CategoryOTC, UnitPrice: dec("4.00"), StockQuantity: 25, MinStockLevel: 40},
	}
}

func sampleSales() []pharmacy.Sale {
	return []pharmacy.Sale{
		{ID: 1, TransactionID: "T1", DrugID: 1, DrugCode: "PAN500", SaleDate: day("2024-05-27"), Quantity: 10, TotalAmount: dec("60.00"), PaymentMethod: pharmacy.PaymentCash},
		{ID: 2, TransactionID: "T2", DrugID: 1, DrugCode: "PAN500", SaleDate: day("2024-06-01"), Quantity: 15, TotalAmount: dec("97.35"), PaymentMethod: pharmacy.PaymentCreditCard},
		{ID: 3, TransactionID: "T3", DrugID: 2, DrugCode: "AMP250", SaleDate: day("2024-06-01"), Quantity: 5, TotalAmount: dec("68.75"), PaymentMethod: pharmacy.PaymentInsurance},
		{ID: 4, TransactionID: "T4", DrugID: 3, DrugCode: "LIS20", SaleDate: day("2024-06-02"), Quantity: 12, TotalAmount: dec("204.00"), PaymentMethod: pharmacy.PaymentInsurance},
		{ID: 5, TransactionID: "T5", DrugID: 4, DrugCode: "MET500", SaleDate: day("2024-06-02"), Quantity: 11, TotalAmount: dec("181.50"), PaymentMethod: pharmacy.PaymentCash},
	}
}

func TestClassify(t *testing.T) {
	require.Equal(t, StockCritical, Classify(25, 40, DefaultLowMultiplier))
	require.Equal(t, StockCritical, Classify(40, 40, DefaultLowMultiplier))
	require.Equal(t, StockLow, Classify(41, 40, DefaultLowMultiplier))
	require.Equal(t, StockLow, Classify(60, 40, DefaultLowMultiplier))
	require.Equal(t, StockOK, Classify(61, 40, DefaultLowMultiplier))
	require.Equal(t, StockOK, Classify(140, 50, DefaultLowMultiplier))
	require.Equal(t, StockCritical, Classify(0, 0, DefaultLowMultiplier))
	require.Equal(t, StockOK, Classify(1, 0, DefaultLowMultiplier))
}

func TestLowStock(t *testing.T) {
	alerts, err := LowStock(sampleDrugs(), DefaultLowMultiplier)
	require.NoError(t, err)

	codes := make([]string, 0, len(alerts))
	for _, a := range alerts {
		codes = append(codes, a.Code)
	}
	require.Equal(t, []string{"IBU400", "AMP250", "LIS20", "MET500"}, codes)

	ibu := alerts[0]
	require.Equal(t, StockCritical, ibu.Status)
	require.NotNil(t, ibu.StockPercentage)
	require.InDelta(t, 62.5, *ibu.StockPercentage, 1e-9)

	require.Equal(t, StockLow, alerts[1].Status)
	require.Equal(t, StockLow, alerts[2].Status)
	require.Nil(t, alerts[3].StockPercentage)
	require.Equal(t, StockCritical, alerts[3].Status)

	all, err := InventoryHealth(sampleDrugs(), DefaultLowMultiplier)
	require.NoError(t, err)
	require.Equal(t, StockOK, all[0].Status)

	_, err = LowStock(sampleDrugs(), 0.5)
	require.ErrorIs(t, err, pharmacy.ErrInvalidArgument)
}

func TestTopDrugsByRevenue(t *testing.T) {
	top, err := TopDrugs(sampleSales(), sampleDrugs(), 2, MetricRevenue, Window{})
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "LIS20", top[0].Code)
	require.Equal(t, "MET500", top[1].Code)
	require.Equal(t, 1, top[0].Rank)
	require.True(t, dec("204").Equal(top[0].Revenue))

	all, err := TopDrugs(sampleSales(), sampleDrugs(), 10, MetricRevenue, Window{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "PAN500", all[2].Code)
	require.True(t, dec("157.35").Equal(all[2].Revenue))
}

func TestTopDrugsByQuantityBreaksTiesByID(t *testing.T) {
	sales := []pharmacy.Sale{
		{DrugID: 7, DrugCode: "B", SaleDate: day("2024-06-01"), Quantity: 5, TotalAmount: dec("1")},
		{DrugID: 3, DrugCode: "A", SaleDate: day("2024-06-01"), Quantity: 5, TotalAmount: dec("1")},
		{DrugID: 9, DrugCode: "C", SaleDate: day("2024-07-01"), Quantity: 50, TotalAmount: dec("1")},
	}
	top, err := TopDrugs(sales, nil, 5, MetricQuantity, Window{Start: day("2024-06-01"), End: day("2024-06-30")})
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, int64(3), top[0].DrugID)
	require.Equal(t, int64(7), top[1].DrugID)

	_, err = TopDrugs(sales, nil, 0, MetricQuantity, Window{})
	require.ErrorIs(t, err, pharmacy.ErrInvalidArgument)
	_, err = TopDrugs(sales, nil, 2, Metric("margin"), Window{})
	require.ErrorIs(t, err, ErrInvalidMetric)
	_, err = TopDrugs(sales, nil, 2, MetricRevenue, Window{Start: day("2024-07-01"), End: day("2024-06-01")})
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestSalesSummary(t *testing.T) {
	daily, err := SalesSummary(sampleSales(), PeriodDay, Window{Start: day("2024-06-01"), End: day("2024-06-02")})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	require.Equal(t, "2024-06-01", daily[0].Period)
	require.Equal(t, 2, daily[0].Transactions)
	require.Equal(t, 2, daily[0].DistinctDrugs)
	require.Equal(t, 20, daily[0].Quantity)
	require.True(t, dec("166.10").Equal(daily[0].Revenue))
	require.True(t, dec("83.05").Equal(daily[0].AverageSale))
	require.True(t, dec("97.35").Equal(daily[0].MaxSale))

	weekly, err := SalesSummary(sampleSales(), PeriodWeek, Window{})
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	require.Equal(t, day("2024-05-27"), weekly[0].Start)
	require.Equal(t, "2024-W22", weekly[0].Period)
	require.Equal(t, 5, weekly[0].Transactions)
	require.Equal(t, 4, weekly[0].DistinctDrugs)

	monthly, err := SalesSummary(sampleSales(), PeriodMonth, Window{})
	require.NoError(t, err)
	require.Len(t, monthly, 2)
	require.Equal(t, "2024-05", monthly[0].Period)
	require.Equal(t, 4, monthly[1].Transactions)

	_, err = SalesSummary(sampleSales(), Period("year"), Window{})
	require.ErrorIs(t, err, ErrInvalidPeriod)

	p, err := ParsePeriod(" Month ")
	require.NoError(t, err)
	require.Equal(t, PeriodMonth, p)
}

func TestPaymentBreakdown(t *testing.T) {
	shares, err := PaymentBreakdown(sampleSales(), Window{})
	require.NoError(t, err)
	require.Len(t, shares, 3)
	require.Equal(t, pharmacy.PaymentInsurance, shares[0].Method)
	require.True(t, dec("272.75").Equal(shares[0].Total))
	require.Equal(t, 2, shares[0].Transactions)
	require.Equal(t, pharmacy.PaymentCash, shares[1].Method)
	require.Equal(t, pharmacy.PaymentCreditCard, shares[2].Method)

	var sum float64
	for _, s := range shares {
		sum += s.Share
	}
	require.InDelta(t, 100, sum, 0.05)
}

func TestPatientDemographics(t *testing.T) {
	asOf := day("2024-06-02")
	patients := []pharmacy.Patient{
		{Code: "P1", DateOfBirth: day("2010-01-01"), Gender: pharmacy.GenderFemale, PrimaryCondition: "Asthma"},
		{Code: "P2", DateOfBirth: day("1990-06-02"), Gender: pharmacy.GenderMale, PrimaryCondition: "Hypertension"},
		{Code: "P3", DateOfBirth: day("1990-06-03"), Gender: pharmacy.GenderFemale, PrimaryCondition: "Hypertension"},
		{Code: "P4", DateOfBirth: day("1940-01-01"), Gender: pharmacy.GenderFemale, PrimaryCondition: "Diabetes"},
		{Code: "P5", DateOfBirth: day("1970-01-01"), Gender: pharmacy.GenderOther},
	}
	d := PatientDemographics(patients, asOf, 0)
	require.Equal(t, 5, d.TotalPatients)

	counts := map[string]int{}
	for _, b := range d.AgeBands {
		counts[b.Label] = b.Count
	}
	require.Equal(t, map[string]int{"0-17": 1, "18-34": 2, "35-54": 1, "55-74": 0, "75+": 1}, counts)
	require.Len(t, d.AgeBands, 5)
	require.Nil(t, d.AgeBands[4].Max)

	require.Equal(t, pharmacy.GenderFemale, d.Genders[0].Gender)
	require.Equal(t, 3, d.Genders[0].Count)

	require.Len(t, d.TopConditions, 3)
	require.Equal(t, "Hypertension", d.TopConditions[0].Condition)
	require.Equal(t, 2, d.TopConditions[0].Patients)
	require.InDelta(t, 33.5, d.TopConditions[0].AverageAge, 1e-9)
	require.Equal(t, "Asthma", d.TopConditions[1].Condition)
	require.Equal(t, "Diabetes", d.TopConditions[2].Condition)

	limited := PatientDemographics(patients, asOf, 1)
	require.Len(t, limited.TopConditions, 1)

	empty := PatientDemographics(nil, asOf, 0)
	require.Len(t, empty.AgeBands, 5)
	require.Zero(t, empty.AverageAge)
}

func TestExpiry(t *testing.T) {
	report, err := Expiry(sampleDrugs(), day("2024-06-01"), DefaultExpiryHorizonDays)
	require.NoError(t, err)
	require.Len(t, report.Expired, 1)
	require.Equal(t, "AMP250", report.Expired[0].Code)
	require.Equal(t, -2, report.Expired[0].DaysToExpiry)

	require.Len(t, report.ExpiringSoon, 2)
	require.Equal(t, "LIS20", report.ExpiringSoon[0].Code)
	require.Equal(t, 9, report.ExpiringSoon[0].DaysToExpiry)
	require.Equal(t, "PAN500", report.ExpiringSoon[1].Code)
	require.True(t, dec("840").Equal(report.ExpiringSoon[1].StockValue))

	narrow, err := Expiry(sampleDrugs(), day("2024-06-01"), 9)
	require.NoError(t, err)
	require.Len(t, narrow.ExpiringSoon, 1)

	_, err = Expiry(sampleDrugs(), day("2024-06-01"), -1)
	require.ErrorIs(t, err, pharmacy.ErrInvalidArgument)
}

func TestInventoryValuation(t *testing.T) {
	v := InventoryValuation(sampleDrugs())
	require.Len(t, v.Categories, 2)
	require.Equal(t, pharmacy.CategoryPrescription, v.Categories[0].Category)
	require.True(t, dec("2237.5").Equal(v.Categories[0].Value))
	require.True(t, dec("940").Equal(v.Categories[1].Value))
	require.Equal(t, 310, v.TotalUnits)
	require.True(t, dec("3177.5").Equal(v.TotalValue))
}

func TestStockMovements(t *testing.T) {
	txns := []pharmacy.InventoryTransaction{
		{Type: pharmacy.TransactionAdjustment, QuantityChange: 150, TransactionDate: day("2024-05-01")},
		{Type: pharmacy.TransactionSale, QuantityChange: -10, TransactionDate: day("2024-06-01")},
		{Type: pharmacy.TransactionSale, QuantityChange: -5, TransactionDate: day("2024-06-02")},
		{Type: pharmacy.TransactionReturn, QuantityChange: 5, TransactionDate: day("2024-06-02")},
	}
	moves, err := StockMovements(txns, Window{Start: day("2024-06-01")})
	require.NoError(t, err)
	require.Len(t, moves, 2)
	require.Equal(t, pharmacy.TransactionSale, moves[0].Type)
	require.Equal(t, 2, moves[0].Transactions)
	require.Equal(t, 15, moves[0].QuantityOut)
	require.Equal(t, -15, moves[0].Net)
	require.Equal(t, pharmacy.TransactionReturn, moves[1].Type)
	require.Equal(t, 5, moves[1].QuantityIn)
}

func TestBuildDashboard(t *testing.T) {
	snap := Snapshot{
		Drugs: sampleDrugs(),
		Sales: sampleSales(),
		Patients: []pharmacy.Patient{
			{DateOfBirth: day("1990-01-01")},
			{DateOfBirth: day("1970-01-01")},
		},
		Prescriptions: []pharmacy.Prescription{
			{Status: pharmacy.PrescriptionActive},
			{Status: pharmacy.PrescriptionCompleted},
		},
	}
	d := BuildDashboard(snap, day("2024-06-02"))

	require.Equal(t, 5, d.Sales.Transactions)
	require.True(t, dec("611.6").Equal(d.Sales.Revenue))
	require.Equal(t, 5, d.Inventory.Drugs)
	require.Equal(t, 2, d.Inventory.Critical)
	require.Equal(t, 2, d.Inventory.Low)
	require.Equal(t, 1, d.Inventory.OutOfStock)
	require.Equal(t, 1, d.Inventory.Expired)
	require.Equal(t, 1, d.Patients.ActivePrescriptions)
	require.InDelta(t, 44, d.Patients.AverageAge, 1e-9)

	require.Len(t, d.RevenueTrend, 7)
	require.Equal(t, day("2024-05-27"), d.RevenueTrend[0].Date)
	require.True(t, dec("60").Equal(d.RevenueTrend[0].Revenue))
	require.True(t, d.RevenueTrend[1].Revenue.IsZero())
	require.True(t, dec("385.5").Equal(d.RevenueTrend[6].Revenue))
}
