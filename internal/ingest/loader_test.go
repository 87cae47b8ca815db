package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
	"github.com/medtrack/medtrack-analytics/internal/store/memory"
)

var loadedAt = time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

func newTestLoader() *Loader {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLoader(nil, logger, func() time.Time { return loadedAt })
}

func load(t *testing.T, s *memory.Store, l *Loader, kind EntityKind, rows ...Row) BatchResult {
	t.Helper()
	var result BatchResult
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = l.Load(ctx, tx, kind, rows, Options{RunID: "run-1"})
		return err
	})
	require.NoError(t, err)
	return result
}

func drugRow(code string, stock string) Row {
	return Row{
		"Drug Code":      code,
		"Drug Name":      "Panadol " + code,
		"Manufacturer":   "GSK",
		"Category":       "otc",
		"Unit Price":     "$5.50",
		"Stock Quantity": stock,
		"Min Stock":      "20",
		"Max Stock":      "500",
		"Expiry Date":    "2025-01-31",
	}
}

func saleRow(txn, code, qty string) Row {
	return Row{
		"transaction_id": txn,
		"drug_code":      code,
		"sale_date":      "2024-06-01",
		"quantity":       qty,
		"unit_price":     "5.50",
		"payment_method": "cash",
	}
}

func drugByCode(t *testing.T, s *memory.Store, code string) pharmacy.Drug {
	t.Helper()
	var drug pharmacy.Drug
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		drug, err = tx.DrugByCode(ctx, code)
		return err
	}))
	return drug
}

func transactions(t *testing.T, s *memory.Store) []pharmacy.InventoryTransaction {
	t.Helper()
	var out []pharmacy.InventoryTransaction
	require.NoError(t, s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		out, err = r.ListInventoryTransactions(ctx, store.TransactionFilter{})
		return err
	}))
	return out
}

func sales(t *testing.T, s *memory.Store) []pharmacy.Sale {
	t.Helper()
	var out []pharmacy.Sale
	require.NoError(t, s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		out, err = r.ListSales(ctx, store.SaleFilter{})
		return err
	}))
	return out
}

func TestLoadSaleDecrementsStock(t *testing.T) {
	s := memory.New()
	l := newTestLoader()

	drugs := load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	require.Equal(t, 1, drugs.Inserted)
	drug := drugByCode(t, s, "PAN500")
	require.Equal(t, 150, drug.StockQuantity)
	require.Equal(t, pharmacy.CategoryOTC, drug.Category)
	require.Equal(t, "5.5", drug.UnitPrice.String())

	result := load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "10"))
	require.Equal(t, 1, result.Accepted)
	require.Empty(t, result.Rejected)
	require.Equal(t, 140, drugByCode(t, s, "PAN500").StockQuantity)

	txns := transactions(t, s)
	require.Len(t, txns, 2)
	require.Equal(t, pharmacy.TransactionAdjustment, txns[0].Type)
	require.Equal(t, 150, txns[0].NewQuantity)

	sale := txns[1]
	require.Equal(t, pharmacy.TransactionSale, sale.Type)
	require.Equal(t, -10, sale.QuantityChange)
	require.Equal(t, 150, sale.PreviousQuantity)
	require.Equal(t, 140, sale.NewQuantity)
	require.Equal(t, "TXN-1", sale.ReferenceID)
	require.Equal(t, "run-1", sale.RunID)

	stored := sales(t, s)
	require.Len(t, stored, 1)
	require.Equal(t, "55", stored[0].TotalAmount.String())
	require.Equal(t, pharmacy.PaymentCash, stored[0].PaymentMethod)
}

func TestLoadSaleInsufficientStockLeavesNoTrace(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("IBU400", "5"))

	result := load(t, s, l, KindSales, saleRow("TXN-9", "IBU400", "10"))
	require.Zero(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, pharmacy.ReasonInsufficientStock, result.Rejected[0].Reason)
	require.Equal(t, "TXN-9", result.Rejected[0].Key)

	require.Equal(t, 5, drugByCode(t, s, "IBU400").StockQuantity)
	require.Empty(t, sales(t, s))
	require.Len(t, transactions(t, s), 1)
}

func TestLoadRejectReasons(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "100"))

	badQty := saleRow("TXN-2", "PAN500", "ten")
	dangling := saleRow("TXN-3", "NOPE", "1")
	badPayment := saleRow("TXN-4", "PAN500", "1")
	badPayment["payment_method"] = "Bitcoin"
	zeroQty := saleRow("TXN-5", "PAN500", "0")

	result := load(t, s, l, KindSales, badQty, dangling, badPayment, zeroQty, saleRow("TXN-6", "PAN500", "1"))
	require.Equal(t, 1, result.Accepted)
	require.Len(t, result.Rejected, 4)

	require.Equal(t, pharmacy.ReasonMalformedField, result.Rejected[0].Reason)
	require.Equal(t, "quantity", result.Rejected[0].Field)
	require.Equal(t, 1, result.Rejected[0].Line)

	require.Equal(t, pharmacy.ReasonDanglingReference, result.Rejected[1].Reason)
	require.Equal(t, "drug_code", result.Rejected[1].Field)

	require.Equal(t, pharmacy.ReasonRuleViolation, result.Rejected[2].Reason)
	require.Equal(t, "payment_method", result.Rejected[2].Field)

	require.Equal(t, pharmacy.ReasonRuleViolation, result.Rejected[3].Reason)
	require.Equal(t, "quantity", result.Rejected[3].Field)
	require.Equal(t, 5, result.Processed())

	require.Equal(t, 99, drugByCode(t, s, "PAN500").StockQuantity)
}

func TestLoadIsIdempotent(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "10"))

	drugs := load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	require.Equal(t, 1, drugs.Unchanged)
	again := load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "10"))
	require.Equal(t, 1, again.Unchanged)

	require.Equal(t, 140, drugByCode(t, s, "PAN500").StockQuantity)
	require.Len(t, transactions(t, s), 2)
	require.Len(t, sales(t, s), 1)
	require.Empty(t, s.AuditLog())
}

func TestLoadSaleCorrectionReversesStock(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "10"))

	result := load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "4"))
	require.Equal(t, 1, result.Corrected)
	require.Equal(t, 146, drugByCode(t, s, "PAN500").StockQuantity)

	txns := transactions(t, s)
	require.Len(t, txns, 4)
	require.Equal(t, pharmacy.TransactionReturn, txns[2].Type)
	require.Equal(t, 10, txns[2].QuantityChange)
	require.Equal(t, -4, txns[3].QuantityChange)
	for _, txn := range txns {
		require.True(t, txn.Reconciles())
	}

	stored := sales(t, s)
	require.Len(t, stored, 1)
	require.Equal(t, 4, stored[0].Quantity)

	audit := s.AuditLog()
	require.Len(t, audit, 1)
	require.Equal(t, "ingest:correction", audit[0].Action)
	require.Equal(t, "TXN-1", audit[0].EntityID)
	require.Contains(t, audit[0].Meta["fields"], "quantity")
}

func TestLoadReportsDanglingBeforeRules(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "100"))

	both := saleRow("TXN-1", "NOPE", "0")
	missing := saleRow("TXN-2", "", "1")
	result := load(t, s, l, KindSales, both, missing)
	require.Len(t, result.Rejected, 2)

	require.Equal(t, pharmacy.ReasonDanglingReference, result.Rejected[0].Reason)
	require.Equal(t, "drug_code", result.Rejected[0].Field)
	require.Equal(t, pharmacy.ReasonRuleViolation, result.Rejected[1].Reason)
	require.Equal(t, "drug_code", result.Rejected[1].Field)
}

func TestLoadDrugStockCorrectionPostsAdjustment(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "150"))

	result := load(t, s, l, KindDrugs, drugRow("PAN500", "200"))
	require.Equal(t, 1, result.Corrected)
	require.Equal(t, 200, drugByCode(t, s, "PAN500").StockQuantity)

	txns := transactions(t, s)
	require.Len(t, txns, 2)
	require.Equal(t, pharmacy.TransactionAdjustment, txns[1].Type)
	require.Equal(t, 50, txns[1].QuantityChange)
	require.Equal(t, 150, txns[1].PreviousQuantity)
	require.Equal(t, 200, txns[1].NewQuantity)

	audit := s.AuditLog()
	require.Len(t, audit, 1)
	require.Equal(t, "ingest:correction", audit[0].Action)
	require.Contains(t, audit[0].Meta["fields"], "stock_quantity")

	rerun := load(t, s, l, KindDrugs, drugRow("PAN500", "200"))
	require.Equal(t, 1, rerun.Unchanged)
	require.Len(t, transactions(t, s), 2)
}

func TestLoadDrugCorrectionKeepsSales(t *testing.T) {
	s := memory.New()
	l := newTestLoader()
	load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	load(t, s, l, KindSales, saleRow("TXN-1", "PAN500", "10"))

	// The same declared stock is not a correction, whatever was sold since.
	rerun := load(t, s, l, KindDrugs, drugRow("PAN500", "150"))
	require.Equal(t, 1, rerun.Unchanged)
	require.Equal(t, 140, drugByCode(t, s, "PAN500").StockQuantity)

	row := drugRow("PAN500", "200")
	row["Unit Price"] = "6.00"
	result := load(t, s, l, KindDrugs, row)
	require.Equal(t, 1, result.Corrected)

	drug := drugByCode(t, s, "PAN500")
	require.Equal(t, 190, drug.StockQuantity)
	require.Equal(t, "6", drug.UnitPrice.String())

	audit := s.AuditLog()
	require.Len(t, audit, 1)
	require.Contains(t, audit[0].Meta["fields"], "stock_quantity")
	require.Contains(t, audit[0].Meta["fields"], "unit_price")

	// A correction below what has already been sold would go negative.
	short := load(t, s, l, KindDrugs, drugRow("PAN500", "5"))
	require.Len(t, short.Rejected, 1)
	require.Equal(t, pharmacy.ReasonInsufficientStock, short.Rejected[0].Reason)
	require.Equal(t, 190, drugByCode(t, s, "PAN500").StockQuantity)
}

func TestLoadResolvesReferences(t *testing.T) {
	s := memory.New()
	l := newTestLoader()

	suppliers := load(t, s, l, KindSuppliers, Row{"supplier_id": "SUP1", "supplier_name": "Acme", "lead_time_days": "12"})
	require.Equal(t, 1, suppliers.Inserted)

	drug := drugRow("MET500", "80")
	drug["supplier_id"] = "SUP1"
	orphan := drugRow("LIS20", "80")
	orphan["supplier_id"] = "SUP404"
	drugs := load(t, s, l, KindDrugs, drug, orphan)
	require.Equal(t, 1, drugs.Accepted)
	require.Equal(t, pharmacy.ReasonDanglingReference, drugs.Rejected[0].Reason)
	require.NotNil(t, drugByCode(t, s, "MET500").SupplierID)

	patients := load(t, s, l, KindPatients,
		Row{"patient_id": "P1", "first_name": "Ana", "last_name": "Lee", "dob": "1980-03-04", "sex": "f", "condition": "type 2 diabetes"},
		Row{"patient_id": "P2", "first_name": "Bo", "last_name": "Kim", "dob": "not-a-date", "sex": "m"},
	)
	require.Equal(t, 1, patients.Accepted)
	require.Equal(t, pharmacy.ReasonMalformedField, patients.Rejected[0].Reason)
	require.Equal(t, "date_of_birth", patients.Rejected[0].Field)

	var patient pharmacy.Patient
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		patient, err = tx.PatientByCode(ctx, "P1")
		return err
	}))
	require.Equal(t, pharmacy.GenderFemale, patient.Gender)
	require.Equal(t, "Type 2 Diabetes", patient.PrimaryCondition)

	rx := load(t, s, l, KindPrescriptions,
		Row{"rx_id": "RX1", "patient_id": "P1", "drug_id": "MET500", "doctor": "Dr. Hale", "date_prescribed": "2024-05-01", "refills_allowed": "2", "refills_used": "1"},
		Row{"rx_id": "RX2", "patient_id": "P9", "drug_id": "MET500", "doctor": "Dr. Hale", "date_prescribed": "2024-05-01"},
		Row{"rx_id": "RX3", "patient_id": "P1", "drug_id": "MET500", "doctor": "Dr. Hale", "date_prescribed": "2024-05-01", "refills_allowed": "1", "refills_used": "3"},
	)
	require.Equal(t, 1, rx.Accepted)
	require.Equal(t, pharmacy.ReasonDanglingReference, rx.Rejected[0].Reason)
	require.Equal(t, "patient_code", rx.Rejected[0].Field)
	require.Equal(t, pharmacy.ReasonRuleViolation, rx.Rejected[1].Reason)
	require.Equal(t, "refills_used", rx.Rejected[1].Field)
}

func TestLoadUnknownKind(t *testing.T) {
	s := memory.New()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := newTestLoader().Load(ctx, tx, EntityKind("orders"), nil, Options{})
		return err
	})
	require.ErrorIs(t, err, ErrUnknownKind)
	require.ErrorIs(t, err, pharmacy.ErrInvalidArgument)

	kind, err := ParseKind(" Sales ")
	require.NoError(t, err)
	require.Equal(t, KindSales, kind)
}

func TestPaymentAliases(t *testing.T) {
	require.Equal(t, pharmacy.PaymentCreditCard, enum("credit_card", pharmacy.PaymentMethods, paymentAliases))
	require.Equal(t, pharmacy.PaymentCreditCard, enum("CARD", pharmacy.PaymentMethods, paymentAliases))
	require.Equal(t, pharmacy.PaymentDigital, enum("e-wallet", pharmacy.PaymentMethods, paymentAliases))
	require.Equal(t, pharmacy.PaymentMethod("Barter"), enum("Barter", pharmacy.PaymentMethods, paymentAliases))
}

func TestReadCSV(t *testing.T) {
	doc := "\ufeffDrug Code,Drug Name,Stock\nPAN500,Panadol,150\n\nIBU400,Ibuprofen\n"
	rows, err := ReadCSV(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "PAN500", rows[0]["Drug Code"])
	require.Equal(t, "", rows[1]["Stock"])

	empty, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drugs.csv"), []byte("drug_code,drug_name\nPAN500,Panadol\n"), 0o600))

	src := NewDirSource(dir)
	rows, err := src.Rows(context.Background(), KindDrugs)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = src.Rows(context.Background(), KindSales)
	require.ErrorIs(t, err, ErrSourceMissing)
}
