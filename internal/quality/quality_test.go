package quality

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
	"github.com/medtrack/medtrack-analytics/internal/store/memory"
)

var now = time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store *memory.Store
	drug  int64
}

func seedClean(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	f := fixture{store: s}
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		supplierID, err := tx.SaveSupplier(ctx, pharmacy.Supplier{Code: "SUP1", Name: "Acme", LeadTimeDays: 10})
		if err != nil {
			return err
		}
		expiry := day("2025-01-01")
		f.drug, err = tx.SaveDrug(ctx, pharmacy.Drug{
			Code: "PAN500", Name: "Panadol", Manufacturer: "GSK", Category: pharmacy.CategoryOTC,
			UnitPrice: dec("5.50"), StockQuantity: 140, MinStockLevel: 20, MaxStockLevel: 500,
			ExpiryDate: &expiry, SupplierID: &supplierID,
		})
		if err != nil {
			return err
		}
		patientID, err := tx.SavePatient(ctx, pharmacy.Patient{
			Code: "P1", FirstName: "Ana", LastName: "Lee", DateOfBirth: day("1980-03-04"), Gender: pharmacy.GenderFemale,
		})
		if err != nil {
			return err
		}
		if _, err := tx.SavePrescription(ctx, pharmacy.Prescription{
			Code: "RX1", PatientID: patientID, DrugID: f.drug, DoctorName: "Dr. Hale",
			DatePrescribed: day("2024-05-01"), RefillsAllowed: 2, RefillsUsed: 1, Status: pharmacy.PrescriptionActive,
		}); err != nil {
			return err
		}
		if _, err := tx.SaveSale(ctx, pharmacy.Sale{
			TransactionID: "TXN-1", DrugID: f.drug, DrugCode: "PAN500", SaleDate: day("2024-06-01"),
			Quantity: 10, UnitPrice: dec("5.50"), TotalAmount: dec("55.00"), PaymentMethod: pharmacy.PaymentCash,
		}); err != nil {
			return err
		}
		_, err = tx.InsertInventoryTransaction(ctx, pharmacy.InventoryTransaction{
			DrugID: f.drug, Type: pharmacy.TransactionSale, QuantityChange: -10,
			PreviousQuantity: 150, NewQuantity: 140, TransactionDate: day("2024-06-01"),
		})
		return err
	}))
	return f
}

func run(t *testing.T, s *memory.Store, v *Validator, table string) map[string]pharmacy.QualityLogEntry {
	t.Helper()
	var entries []pharmacy.QualityLogEntry
	require.NoError(t, s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		entries, err = v.Run(ctx, r, table)
		return err
	}))
	out := make(map[string]pharmacy.QualityLogEntry, len(entries))
	for _, e := range entries {
		out[e.TableName+"/"+e.CheckName] = e
	}
	return out
}

func newValidator() *Validator {
	return NewValidator(DefaultConfig(), func() time.Time { return now })
}

func TestRunCleanDataPasses(t *testing.T) {
	f := seedClean(t)
	entries := run(t, f.store, newValidator(), "")

	require.Len(t, entries, 17)
	for name, e := range entries {
		require.Equal(t, pharmacy.QualityPass, e.Status, name)
		require.Zero(t, e.IssuesFound, name)
		require.Equal(t, now, e.CheckedAt)
	}
	require.Equal(t, 5, entries["drugs/completeness"].RecordsChecked)
	require.Equal(t, 1, entries["sales/accuracy"].RecordsChecked)
	require.Equal(t, 1, entries["sales/timeliness"].RecordsChecked)
}

func TestRunFlagsAccuracyAndConsistency(t *testing.T) {
	f := seedClean(t)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		expired := day("2024-05-01")
		if _, err := tx.SaveDrug(ctx, pharmacy.Drug{
			Code: "OLD1", Name: "Old", Manufacturer: "X", Category: pharmacy.CategoryOTC,
			UnitPrice: dec("1"), StockQuantity: 4, MaxStockLevel: 10, ExpiryDate: &expired,
		}); err != nil {
			return err
		}
		for _, s := range []pharmacy.Sale{
			{TransactionID: "BAD-TOTAL", DrugID: f.drug, SaleDate: day("2024-06-01"), Quantity: 2, UnitPrice: dec("5.50"), TotalAmount: dec("11.02"), PaymentMethod: pharmacy.PaymentCash},
			{TransactionID: "BAD-DISC", DrugID: f.drug, SaleDate: day("2024-06-01"), Quantity: 1, UnitPrice: dec("5.50"), Discount: dec("6"), TotalAmount: dec("-0.50"), PaymentMethod: pharmacy.PaymentCash},
			{TransactionID: "ORPHAN", DrugID: 999, SaleDate: day("2024-06-01"), Quantity: 1, UnitPrice: dec("5.50"), TotalAmount: dec("5.50"), PaymentMethod: pharmacy.PaymentCash},
		} {
			if _, err := tx.SaveSale(ctx, s); err != nil {
				return err
			}
		}
		if _, err := tx.SavePatient(ctx, pharmacy.Patient{
			Code: "P2", FirstName: "Fut", LastName: "Ure", DateOfBirth: day("2030-01-01"), Gender: pharmacy.GenderMale,
		}); err != nil {
			return err
		}
		_, err := tx.InsertInventoryTransaction(ctx, pharmacy.InventoryTransaction{
			DrugID: f.drug, Type: pharmacy.TransactionAdjustment, QuantityChange: 5,
			PreviousQuantity: 140, NewQuantity: 150, TransactionDate: day("2024-06-01"),
		})
		return err
	}))

	entries := run(t, f.store, newValidator(), "")

	acc := entries["sales/accuracy"]
	require.Equal(t, 4, acc.RecordsChecked)
	require.Equal(t, 2, acc.IssuesFound)
	require.InDelta(t, 0.5, acc.IssueRate, 1e-9)
	require.Equal(t, pharmacy.QualityFail, acc.Status)
	require.Contains(t, acc.Details, "BAD-TOTAL")
	require.Contains(t, acc.Details, "BAD-DISC")

	cons := entries["sales/consistency"]
	require.Equal(t, 1, cons.IssuesFound)
	require.Contains(t, cons.Details, "ORPHAN")

	require.Equal(t, 1, entries["drugs/accuracy"].IssuesFound)
	require.Contains(t, entries["drugs/accuracy"].Details, "OLD1")
	require.Equal(t, 1, entries["patients/accuracy"].IssuesFound)
	require.Equal(t, 1, entries["inventory_transactions/accuracy"].IssuesFound)
}

func TestRunWithinToleranceReconciles(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		id, err := tx.SaveDrug(ctx, pharmacy.Drug{Code: "D1", Name: "D", Manufacturer: "M", Category: pharmacy.CategoryOTC, UnitPrice: dec("3.33"), MaxStockLevel: 10})
		if err != nil {
			return err
		}
		_, err = tx.SaveSale(ctx, pharmacy.Sale{
			TransactionID: "T1", DrugID: id, SaleDate: day("2024-06-01"), Quantity: 3,
			UnitPrice: dec("3.33"), TotalAmount: dec("10.00"), PaymentMethod: pharmacy.PaymentInsurance,
		})
		return err
	}))
	entries := run(t, s, newValidator(), TableSales)
	require.Len(t, entries, 4)
	require.Zero(t, entries["sales/accuracy"].IssuesFound)
}

func TestRunWarningThreshold(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 20; i++ {
			gender := pharmacy.GenderFemale
			if i == 0 {
				gender = "Unknown"
			}
			if _, err := tx.SavePatient(ctx, pharmacy.Patient{
				Code: fmt.Sprintf("P%02d", i), FirstName: "A", LastName: "B", DateOfBirth: day("1990-01-01"), Gender: gender,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	entries := run(t, s, newValidator(), "Patients")
	require.Equal(t, pharmacy.QualityWarning, entries["patients/consistency"].Status)
	require.InDelta(t, 0.05, entries["patients/consistency"].IssueRate, 1e-9)
}

func TestRunTimeliness(t *testing.T) {
	f := seedClean(t)
	v := NewValidator(DefaultConfig(), func() time.Time { return now.Add(10 * 24 * time.Hour) })
	entries := run(t, f.store, v, TableSales)

	stale := entries["sales/timeliness"]
	require.Equal(t, 1, stale.RecordsChecked)
	require.Equal(t, 1, stale.IssuesFound)
	require.Equal(t, pharmacy.QualityFail, stale.Status)
	require.Contains(t, stale.Details, "2024-06-01")

	empty := run(t, memory.New(), newValidator(), TableTransactions)
	require.Zero(t, empty["inventory_transactions/timeliness"].RecordsChecked)
	require.Equal(t, pharmacy.QualityPass, empty["inventory_transactions/timeliness"].Status)
}

func TestRunUnknownTable(t *testing.T) {
	err := memory.New().Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		_, err := newValidator().Run(ctx, r, "orders")
		return err
	})
	require.ErrorIs(t, err, ErrUnknownTable)
	require.ErrorIs(t, err, pharmacy.ErrInvalidArgument)
}

func TestClassify(t *testing.T) {
	require.Equal(t, pharmacy.QualityPass, Classify(0, 0.05))
	require.Equal(t, pharmacy.QualityWarning, Classify(0.01, 0.05))
	require.Equal(t, pharmacy.QualityWarning, Classify(0.05, 0.05))
	require.Equal(t, pharmacy.QualityFail, Classify(0.051, 0.05))
}

func TestSummarize(t *testing.T) {
	older := now.Add(-time.Hour)
	entries := []pharmacy.QualityLogEntry{
		{ID: 1, TableName: TableSales, CheckName: CheckAccuracy, RecordsChecked: 10, IssueRate: 0.9, Status: pharmacy.QualityFail, CheckedAt: older},
		{ID: 2, TableName: TableSales, CheckName: CheckAccuracy, RecordsChecked: 10, IssueRate: 0.2, Status: pharmacy.QualityFail, CheckedAt: now},
		{ID: 3, TableName: TableSales, CheckName: CheckCompleteness, RecordsChecked: 50, IssueRate: 0, Status: pharmacy.QualityPass, CheckedAt: now},
		{ID: 4, TableName: TableSales, CheckName: CheckTimeliness, RecordsChecked: 0, Status: pharmacy.QualityPass, CheckedAt: now},
		{ID: 5, TableName: TableDrugs, CheckName: CheckAccuracy, RecordsChecked: 4, IssueRate: 0, Status: pharmacy.QualityPass, CheckedAt: now},
	}

	scores := Score(Latest(entries), nil)
	require.InDelta(t, 0.9, scores[TableSales], 1e-9)
	require.InDelta(t, 1.0, scores[TableDrugs], 1e-9)

	weighted := Score(Latest(entries), map[string]float64{CheckAccuracy: 3, CheckCompleteness: 1})
	require.InDelta(t, 0.85, weighted[TableSales], 1e-9)

	summary := Summarize(entries, nil)
	require.Len(t, summary.Tables, 2)
	require.Equal(t, TableDrugs, summary.Tables[0].Table)
	require.Equal(t, 3, summary.Tables[1].Checks)
	require.Equal(t, 1, summary.Tables[1].Failing)
	require.InDelta(t, 0.95, summary.Overall, 1e-9)
	require.Equal(t, "A", summary.Grade)
	require.Equal(t, now, *summary.CheckedAt)

	require.Equal(t, "B", Grade(0.85))
	require.Equal(t, "D", Grade(0.6))
	require.Equal(t, "F", Grade(0.2))
}
