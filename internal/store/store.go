// Package store declares the record store consumed by the pipeline and the
// reporting engines. Implementations live in the postgres and memory
// subpackages.
package store

import (
	"context"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// SaleFilter narrows sale listings. Zero values leave a bound open.
type SaleFilter struct {
	From   time.Time
	To     time.Time
	DrugID int64
}

// Match reports whether s falls inside the filter. From and To compare on
// calendar days and are inclusive.
func (f SaleFilter) Match(s pharmacy.Sale) bool {
	d := pharmacy.Date(s.SaleDate)
	if !f.From.IsZero() && d.Before(pharmacy.Date(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(pharmacy.Date(f.To)) {
		return false
	}
	return f.DrugID == 0 || s.DrugID == f.DrugID
}

// TransactionFilter narrows inventory transaction listings.
type TransactionFilter struct {
	DrugID int64
	From   time.Time
	To     time.Time
}

// Match reports whether t falls inside the filter.
func (f TransactionFilter) Match(t pharmacy.InventoryTransaction) bool {
	if f.DrugID != 0 && t.DrugID != f.DrugID {
		return false
	}
	d := pharmacy.Date(t.TransactionDate)
	if !f.From.IsZero() && d.Before(pharmacy.Date(f.From)) {
		return false
	}
	return f.To.IsZero() || !d.After(pharmacy.Date(f.To))
}

// QualityFilter narrows quality log listings.
type QualityFilter struct {
	Table          string
	RunID          string
	UnresolvedOnly bool
}

// Match reports whether e falls inside the filter.
func (f QualityFilter) Match(e pharmacy.QualityLogEntry) bool {
	if f.Table != "" && e.TableName != f.Table {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	return !f.UnresolvedOnly || !e.Resolved
}

// Reader is the read side of a consistent snapshot. Listings are ordered by id.
type Reader interface {
	ListSuppliers(ctx context.Context) ([]pharmacy.Supplier, error)
	ListDrugs(ctx context.Context) ([]pharmacy.Drug, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]pharmacy.Sale, error)
	ListPatients(ctx context.Context) ([]pharmacy.Patient, error)
	ListPrescriptions(ctx context.Context) ([]pharmacy.Prescription, error)
	ListInventoryTransactions(ctx context.Context, filter TransactionFilter) ([]pharmacy.InventoryTransaction, error)
	ListQualityLog(ctx context.Context, filter QualityFilter) ([]pharmacy.QualityLogEntry, error)
}

// Tx exposes the transactional operations used by the loader and validator.
// Lookups return pharmacy.ErrNotFound when the key does not exist. Save
// methods insert when the id is zero and update by id otherwise, returning
// the id.
type Tx interface {
	Reader

	SupplierByCode(ctx context.Context, code string) (pharmacy.Supplier, error)
	DrugByCode(ctx context.Context, code string) (pharmacy.Drug, error)
	DrugForUpdate(ctx context.Context, id int64) (pharmacy.Drug, error)
	PatientByCode(ctx context.Context, code string) (pharmacy.Patient, error)
	PrescriptionByCode(ctx context.Context, code string) (pharmacy.Prescription, error)
	SaleByTransactionID(ctx context.Context, transactionID string) (pharmacy.Sale, error)

	SaveSupplier(ctx context.Context, s pharmacy.Supplier) (int64, error)
	SaveDrug(ctx context.Context, d pharmacy.Drug) (int64, error)
	SavePatient(ctx context.Context, p pharmacy.Patient) (int64, error)
	SavePrescription(ctx context.Context, p pharmacy.Prescription) (int64, error)
	SaveSale(ctx context.Context, s pharmacy.Sale) (int64, error)

	UpdateDrugStock(ctx context.Context, drugID int64, quantity int, at time.Time) error
	InsertInventoryTransaction(ctx context.Context, t pharmacy.InventoryTransaction) (int64, error)
	InsertQualityLog(ctx context.Context, e pharmacy.QualityLogEntry) (int64, error)
	RecordAudit(ctx context.Context, log pharmacy.AuditLog) error
}

// Store is the record store. WithTx runs fn in a repeatable-read transaction
// committed only when fn returns nil. Snapshot runs fn against a read-only
// repeatable-read view. Run records are written outside run transactions so
// failures survive a rollback.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error

	InsertRun(ctx context.Context, run pharmacy.PipelineRun) error
	UpdateRun(ctx context.Context, run pharmacy.PipelineRun) error
	LatestRun(ctx context.Context) (pharmacy.PipelineRun, error)
	ListRuns(ctx context.Context, status pharmacy.RunStatus) ([]pharmacy.PipelineRun, error)

	ResolveQualityEntry(ctx context.Context, id int64, actor string, at time.Time) (pharmacy.QualityLogEntry, error)
	Ping(ctx context.Context) error
}
