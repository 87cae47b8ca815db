// Package memory provides an in-process store.Store. Each transaction works on
// a copy of the committed state that replaces it on commit, so a failing
// transaction leaves no trace and readers never observe partial writes.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

type table[T any] struct {
	rows  map[int64]T
	index map[string]int64
}

func newTable[T any]() table[T] {
	return table[T]{rows: map[int64]T{}, index: map[string]int64{}}
}

func (t table[T]) clone() table[T] {
	return table[T]{rows: maps.Clone(t.rows), index: maps.Clone(t.index)}
}

func (t table[T]) list(keep func(T) bool) []T {
	out := make([]T, 0, len(t.rows))
	for _, id := range slices.Sorted(maps.Keys(t.rows)) {
		if keep == nil || keep(t.rows[id]) {
			out = append(out, t.rows[id])
		}
	}
	return out
}

func (t table[T]) byKey(key string) (T, error) {
	id, ok := t.index[key]
	if !ok {
		var zero T
		return zero, pharmacy.ErrNotFound
	}
	return t.rows[id], nil
}

type state struct {
	lastID        int64
	suppliers     table[pharmacy.Supplier]
	drugs         table[pharmacy.Drug]
	patients      table[pharmacy.Patient]
	prescriptions table[pharmacy.Prescription]
	sales         table[pharmacy.Sale]
	transactions  []pharmacy.InventoryTransaction
	quality       []pharmacy.QualityLogEntry
	audit         []pharmacy.AuditLog
}

func newState() *state {
	return &state{
		suppliers:     newTable[pharmacy.Supplier](),
		drugs:         newTable[pharmacy.Drug](),
		patients:      newTable[pharmacy.Patient](),
		prescriptions: newTable[pharmacy.Prescription](),
		sales:         newTable[pharmacy.Sale](),
	}
}

func (s *state) clone() *state {
	return &state{
		lastID:        s.lastID,
		suppliers:     s.suppliers.clone(),
		drugs:         s.drugs.clone(),
		patients:      s.patients.clone(),
		prescriptions: s.prescriptions.clone(),
		sales:         s.sales.clone(),
		transactions:  slices.Clone(s.transactions),
		quality:       slices.Clone(s.quality),
		audit:         slices.Clone(s.audit),
	}
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store is an in-memory store.Store.
type Store struct {
	writeMu   sync.Mutex
	committed atomic.Pointer[state]

	runMu sync.Mutex
	runs  []pharmacy.PipelineRun
}

var _ store.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	s := &Store{}
	s.committed.Store(newState())
	return s
}

// WithTx runs fn against a private copy of the committed state. Writers are
// serialised; the copy replaces the committed state only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.committed.Load().clone()
	if err := fn(ctx, &tx{reader: reader{st: work}, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.committed.Store(work)
	return nil
}

// Snapshot runs fn against the committed state at call time.
func (s *Store) Snapshot(ctx context.Context, fn func(context.Context, store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, reader{st: s.committed.Load()})
}

// InsertRun stores a new run record.
func (s *Store) InsertRun(_ context.Context, run pharmacy.PipelineRun) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	run.Errors = slices.Clone(run.Errors)
	s.runs = append(s.runs, run)
	return nil
}

// UpdateRun replaces the run record with the same id.
func (s *Store) UpdateRun(_ context.Context, run pharmacy.PipelineRun) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			run.Errors = slices.Clone(run.Errors)
			s.runs[i] = run
			return nil
		}
	}
	return pharmacy.ErrNotFound
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(_ context.Context) (pharmacy.PipelineRun, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if len(s.runs) == 0 {
		return pharmacy.PipelineRun{}, pharmacy.ErrNotFound
	}
	latest := s.runs[0]
	for _, run := range s.runs[1:] {
		if !run.StartedAt.Before(latest.StartedAt) {
			latest = run
		}
	}
	return latest, nil
}

// ListRuns returns runs with the given status ordered by start time; an empty
// status returns every run.
func (s *Store) ListRuns(_ context.Context, status pharmacy.RunStatus) ([]pharmacy.PipelineRun, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	var out []pharmacy.PipelineRun
	for _, run := range s.runs {
		if status == "" || run.Status == status {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ResolveQualityEntry marks a quality log entry as acknowledged.
func (s *Store) ResolveQualityEntry(ctx context.Context, id int64, actor string, at time.Time) (pharmacy.QualityLogEntry, error) {
	var resolved pharmacy.QualityLogEntry
	err := s.WithTx(ctx, func(_ context.Context, t store.Tx) error {
		work := t.(*tx).st
		for i := range work.quality {
			if work.quality[i].ID != id {
				continue
			}
			if !work.quality[i].Resolved {
				stamp := at
				work.quality[i].Resolved = true
				work.quality[i].ResolvedAt = &stamp
				work.quality[i].ResolvedBy = actor
			}
			resolved = work.quality[i]
			return nil
		}
		return pharmacy.ErrNotFound
	})
	return resolved, err
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type reader struct {
	st *state
}

func (r reader) ListSuppliers(context.Context) ([]pharmacy.Supplier, error) {
	return r.st.suppliers.list(nil), nil
}

func (r reader) ListDrugs(context.Context) ([]pharmacy.Drug, error) {
	return r.st.drugs.list(nil), nil
}

func (r reader) ListSales(_ context.Context, filter store.SaleFilter) ([]pharmacy.Sale, error) {
	return r.st.sales.list(filter.Match), nil
}

func (r reader) ListPatients(context.Context) ([]pharmacy.Patient, error) {
	return r.st.patients.list(nil), nil
}

func (r reader) ListPrescriptions(context.Context) ([]pharmacy.Prescription, error) {
	return r.st.prescriptions.list(nil), nil
}

func (r reader) ListInventoryTransactions(_ context.Context, filter store.TransactionFilter) ([]pharmacy.InventoryTransaction, error) {
	var out []pharmacy.InventoryTransaction
	for _, t := range r.st.transactions {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r reader) ListQualityLog(_ context.Context, filter store.QualityFilter) ([]pharmacy.QualityLogEntry, error) {
	var out []pharmacy.QualityLogEntry
	for _, e := range r.st.quality {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type tx struct {
	reader
	st *state
}

func (t *tx) SupplierByCode(_ context.Context, code string) (pharmacy.Supplier, error) {
	return t.st.suppliers.byKey(code)
}

func (t *tx) DrugByCode(_ context.Context, code string) (pharmacy.Drug, error) {
	return t.st.drugs.byKey(code)
}

func (t *tx) DrugForUpdate(_ context.Context, id int64) (pharmacy.Drug, error) {
	d, ok := t.st.drugs.rows[id]
	if !ok {
		return pharmacy.Drug{}, pharmacy.ErrNotFound
	}
	return d, nil
}

func (t *tx) PatientByCode(_ context.Context, code string) (pharmacy.Patient, error) {
	return t.st.patients.byKey(code)
}

func (t *tx) PrescriptionByCode(_ context.Context, code string) (pharmacy.Prescription, error) {
	return t.st.prescriptions.byKey(code)
}

func (t *tx) SaleByTransactionID(_ context.Context, transactionID string) (pharmacy.Sale, error) {
	return t.st.sales.byKey(transactionID)
}

func save[T any](st *state, tbl table[T], id int64, key string, row T, setID func(*T, int64)) int64 {
	if id == 0 {
		id = st.nextID()
		setID(&row, id)
	}
	tbl.rows[id] = row
	tbl.index[key] = id
	return id
}

func (t *tx) SaveSupplier(_ context.Context, s pharmacy.Supplier) (int64, error) {
	return save(t.st, t.st.suppliers, s.ID, s.Code, s, func(v *pharmacy.Supplier, id int64) { v.ID = id }), nil
}

func (t *tx) SaveDrug(_ context.Context, d pharmacy.Drug) (int64, error) {
	return save(t.st, t.st.drugs, d.ID, d.Code, d, func(v *pharmacy.Drug, id int64) { v.ID = id }), nil
}

func (t *tx) SavePatient(_ context.Context, p pharmacy.Patient) (int64, error) {
	return save(t.st, t.st.patients, p.ID, p.Code, p, func(v *pharmacy.Patient, id int64) { v.ID = id }), nil
}

func (t *tx) SavePrescription(_ context.Context, p pharmacy.Prescription) (int64, error) {
	return save(t.st, t.st.prescriptions, p.ID, p.Code, p, func(v *pharmacy.Prescription, id int64) { v.ID = id }), nil
}

func (t *tx) SaveSale(_ context.Context, s pharmacy.Sale) (int64, error) {
	return save(t.st, t.st.sales, s.ID, s.TransactionID, s, func(v *pharmacy.Sale, id int64) { v.ID = id }), nil
}

func (t *tx) UpdateDrugStock(_ context.Context, drugID int64, quantity int, at time.Time) error {
	d, ok := t.st.drugs.rows[drugID]
	if !ok {
		return pharmacy.ErrNotFound
	}
	d.StockQuantity = quantity
	d.LastUpdated = at
	t.st.drugs.rows[drugID] = d
	return nil
}

func (t *tx) InsertInventoryTransaction(_ context.Context, it pharmacy.InventoryTransaction) (int64, error) {
	it.ID = t.st.nextID()
	t.st.transactions = append(t.st.transactions, it)
	return it.ID, nil
}

func (t *tx) InsertQualityLog(_ context.Context, e pharmacy.QualityLogEntry) (int64, error) {
	e.ID = t.st.nextID()
	t.st.quality = append(t.st.quality, e)
	return e.ID, nil
}

func (t *tx) RecordAudit(_ context.Context, log pharmacy.AuditLog) error {
	t.st.audit = append(t.st.audit, log)
	return nil
}

// AuditLog returns the committed audit records.
func (s *Store) AuditLog() []pharmacy.AuditLog {
	return slices.Clone(s.committed.Load().audit)
}
