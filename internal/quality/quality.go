// Package quality scores the record store along four dimensions
// (completeness, consistency, accuracy, timeliness) per table and records the
// results as append-only quality log entries.
package quality

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Check names.
const (
	CheckCompleteness = "completeness"
	CheckConsistency  = "consistency"
	CheckAccuracy     = "accuracy"
	CheckTimeliness   = "timeliness"
)

// Table names accepted by Run.
const (
	TableDrugs         = "drugs"
	TableSales         = "sales"
	TablePatients      = "patients"
	TablePrescriptions = "prescriptions"
	TableTransactions  = "inventory_transactions"
)

// Tables lists every checked table in run order.
var Tables = []string{TableDrugs, TableSales, TablePatients, TablePrescriptions, TableTransactions}

// ErrUnknownTable indicates a table outside Tables.
var ErrUnknownTable = fmt.Errorf("%w: unknown quality table", pharmacy.ErrInvalidArgument)

const maxSamples = 5

// Config tunes classification and scoring.
type Config struct {
	// WarnThreshold is the highest issue rate still classified as Warning.
	WarnThreshold float64
	// StaleAfter is the age past which the newest row of a time series is stale.
	StaleAfter time.Duration
	// Tolerance bounds the accepted difference between a sale total and its
	// recomputed value.
	Tolerance decimal.Decimal
	// Weights per check name used by Score. Missing names weigh 1.
	Weights map[string]float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WarnThreshold: 0.05,
		StaleAfter:    7 * 24 * time.Hour,
		Tolerance:     pharmacy.DefaultTolerance,
	}
}

// Validator runs the quality checks against a store snapshot.
type Validator struct {
	cfg Config
	now func() time.Time
}

// NewValidator constructs Validator. A nil clock defaults to time.Now in UTC.
func NewValidator(cfg Config, now func() time.Time) *Validator {
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = pharmacy.DefaultTolerance
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Validator{cfg: cfg, now: now}
}

// Config returns the validator configuration.
func (v *Validator) Config() Config {
	return v.cfg
}

// Run computes the checks for table, or for every table when table is empty.
// Entries are returned in table then check order and are not persisted.
func (v *Validator) Run(ctx context.Context, r store.Reader, table string) ([]pharmacy.QualityLogEntry, error) {
	tables := Tables
	if table != "" {
		name, err := ParseTable(table)
		if err != nil {
			return nil, err
		}
		tables = []string{name}
	}

	data, err := loadDataset(ctx, r)
	if err != nil {
		return nil, err
	}
	now := v.now()
	c := checker{cfg: v.cfg, data: data, now: now, asOf: pharmacy.Date(now)}

	var entries []pharmacy.QualityLogEntry
	for _, name := range tables {
		for _, res := range c.table(name) {
			entries = append(entries, v.entry(name, res, now))
		}
	}
	return entries, nil
}

// ParseTable resolves a table name case-insensitively. The empty name stands
// for every table and is returned unchanged.
func ParseTable(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	table := strings.ToLower(strings.TrimSpace(name))
	if !slices.Contains(Tables, table) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return table, nil
}

func (v *Validator) entry(table string, res result, at time.Time) pharmacy.QualityLogEntry {
	rate := 0.0
	if res.checked > 0 {
		rate = float64(res.issues) / float64(res.checked)
	}
	return pharmacy.QualityLogEntry{
		TableName:      table,
		CheckName:      res.check,
		RecordsChecked: res.checked,
		IssuesFound:    res.issues,
		IssueRate:      rate,
		Status:         Classify(rate, v.cfg.WarnThreshold),
		Details:        res.details(),
		CheckedAt:      at,
	}
}

// Classify maps an issue rate onto a status: zero passes, rates up to the
// threshold warn and anything above fails.
func Classify(rate, warnThreshold float64) pharmacy.QualityStatus {
	switch {
	case rate <= 0:
		return pharmacy.QualityPass
	case rate <= warnThreshold:
		return pharmacy.QualityWarning
	default:
		return pharmacy.QualityFail
	}
}

type dataset struct {
	suppliers     map[int64]pharmacy.Supplier
	drugs         []pharmacy.Drug
	drugIDs       map[int64]pharmacy.Drug
	sales         []pharmacy.Sale
	patients      []pharmacy.Patient
	patientIDs    map[int64]struct{}
	prescriptions []pharmacy.Prescription
	transactions  []pharmacy.InventoryTransaction
}

func loadDataset(ctx context.Context, r store.Reader) (*dataset, error) {
	suppliers, err := r.ListSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("quality: list suppliers: %w", err)
	}
	drugs, err := r.ListDrugs(ctx)
	if err != nil {
		return nil, fmt.Errorf("quality: list drugs: %w", err)
	}
	sales, err := r.ListSales(ctx, store.SaleFilter{})
	if err != nil {
		return nil, fmt.Errorf("quality: list sales: %w", err)
	}
	patients, err := r.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("quality: list patients: %w", err)
	}
	prescriptions, err := r.ListPrescriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("quality: list prescriptions: %w", err)
	}
	transactions, err := r.ListInventoryTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("quality: list inventory transactions: %w", err)
	}

	d := &dataset{
		suppliers:     make(map[int64]pharmacy.Supplier, len(suppliers)),
		drugs:         drugs,
		drugIDs:       make(map[int64]pharmacy.Drug, len(drugs)),
		sales:         sales,
		patients:      patients,
		patientIDs:    make(map[int64]struct{}, len(patients)),
		prescriptions: prescriptions,
		transactions:  transactions,
	}
	for _, s := range suppliers {
		d.suppliers[s.ID] = s
	}
	for _, drug := range drugs {
		d.drugIDs[drug.ID] = drug
	}
	for _, p := range patients {
		d.patientIDs[p.ID] = struct{}{}
	}
	return d, nil
}
