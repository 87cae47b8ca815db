// Package analytics derives inventory, sales, patient and expiry reports from
// a consistent snapshot of the record store. Every function is pure: callers
// pass the rows and an explicit as-of date, nothing is cached here.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

var (
	// ErrInvalidPeriod indicates an unsupported summary granularity.
	ErrInvalidPeriod = fmt.Errorf("%w: period must be day, week or month", pharmacy.ErrInvalidArgument)
	// ErrInvalidMetric indicates an unsupported ranking metric.
	ErrInvalidMetric = fmt.Errorf("%w: metric must be revenue or quantity", pharmacy.ErrInvalidArgument)
	// ErrInvalidWindow indicates a date window whose start is after its end.
	ErrInvalidWindow = fmt.Errorf("%w: start date after end date", pharmacy.ErrInvalidArgument)
)

// Window is an inclusive calendar-day range. Zero bounds are open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate rejects windows whose start is after their end.
func (w Window) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && pharmacy.Date(w.Start).After(pharmacy.Date(w.End)) {
		return ErrInvalidWindow
	}
	return nil
}

func (w Window) filter() store.SaleFilter {
	return store.SaleFilter{From: w.Start, To: w.End}
}

func (w Window) contains(at time.Time) bool {
	d := pharmacy.Date(at)
	if !w.Start.IsZero() && d.Before(pharmacy.Date(w.Start)) {
		return false
	}
	return w.End.IsZero() || !d.After(pharmacy.Date(w.End))
}

// Snapshot holds the rows of one read-only store view.
type Snapshot struct {
	Suppliers     []pharmacy.Supplier
	Drugs         []pharmacy.Drug
	Sales         []pharmacy.Sale
	Patients      []pharmacy.Patient
	Prescriptions []pharmacy.Prescription
	Transactions  []pharmacy.InventoryTransaction
}

// LoadSnapshot reads every table through r.
func LoadSnapshot(ctx context.Context, r store.Reader) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.Suppliers, err = r.ListSuppliers(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list suppliers: %w", err)
	}
	if snap.Drugs, err = r.ListDrugs(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list drugs: %w", err)
	}
	if snap.Sales, err = r.ListSales(ctx, store.SaleFilter{}); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list sales: %w", err)
	}
	if snap.Patients, err = r.ListPatients(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list patients: %w", err)
	}
	if snap.Prescriptions, err = r.ListPrescriptions(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list prescriptions: %w", err)
	}
	if snap.Transactions, err = r.ListInventoryTransactions(ctx, store.TransactionFilter{}); err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list inventory transactions: %w", err)
	}
	return snap, nil
}
