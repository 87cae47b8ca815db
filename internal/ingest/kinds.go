package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// EntityKind names an ingestible entity. The set is closed.
type EntityKind string

const (
	KindSuppliers     EntityKind = "suppliers"
	KindDrugs         EntityKind = "drugs"
	KindPatients      EntityKind = "patients"
	KindPrescriptions EntityKind = "prescriptions"
	KindSales         EntityKind = "sales"
)

// Kinds lists every kind in reference order: a kind only references kinds
// listed before it.
var Kinds = []EntityKind{KindSuppliers, KindDrugs, KindPatients, KindPrescriptions, KindSales}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(name string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := strategies[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return kind, nil
}

// Outcome is the effect an accepted row had on the store.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeCorrected Outcome = "corrected"
	OutcomeUnchanged Outcome = "unchanged"
)

type batchEnv struct {
	runID string
	actor string
}

// strategy loads one row of a given kind.
type strategy interface {
	load(ctx context.Context, l *Loader, tx store.Tx, fields map[string]string, env batchEnv) (string, Outcome, error)
}

type entityStrategy[T any] struct {
	parse   func(r *fieldReader) T
	key     func(T) string
	resolve func(ctx context.Context, tx store.Tx, rec T) (T, error)
	apply   func(l *Loader, ctx context.Context, tx store.Tx, rec T, env batchEnv) (Outcome, error)
}

func (s entityStrategy[T]) load(ctx context.Context, l *Loader, tx store.Tx, fields map[string]string, env batchEnv) (string, Outcome, error) {
	r := &fieldReader{fields: fields}
	rec := s.parse(r)
	key := s.key(rec)
	if r.err != nil {
		return key, "", r.err
	}
	// Dangling references are reported ahead of rule violations.
	if s.resolve != nil {
		var err error
		if rec, err = s.resolve(ctx, tx, rec); err != nil {
			return key, "", err
		}
	}
	if err := checkRules(l.validate, rec); err != nil {
		return key, "", err
	}
	outcome, err := s.apply(l, ctx, tx, rec, env)
	return key, outcome, err
}

var strategies = map[EntityKind]strategy{
	KindSuppliers: entityStrategy[pharmacy.Supplier]{
		parse: parseSupplier,
		key:   func(s pharmacy.Supplier) string { return s.Code },
		apply: (*Loader).applySupplier,
	},
	KindDrugs: entityStrategy[pharmacy.Drug]{
		parse:   parseDrug,
		key:     func(d pharmacy.Drug) string { return d.Code },
		resolve: resolveDrug,
		apply:   (*Loader).applyDrug,
	},
	KindPatients: entityStrategy[pharmacy.Patient]{
		parse: parsePatient,
		key:   func(p pharmacy.Patient) string { return p.Code },
		apply: (*Loader).applyPatient,
	},
	KindPrescriptions: entityStrategy[pharmacy.Prescription]{
		parse:   parsePrescription,
		key:     func(p pharmacy.Prescription) string { return p.Code },
		resolve: resolvePrescription,
		apply:   (*Loader).applyPrescription,
	},
	KindSales: entityStrategy[pharmacy.Sale]{
		parse:   parseSale,
		key:     func(s pharmacy.Sale) string { return s.TransactionID },
		resolve: resolveSale,
		apply:   (*Loader).applySale,
	},
}

const (
	defaultMinStock = 10
	defaultMaxStock = 1000
)

func parseSupplier(r *fieldReader) pharmacy.Supplier {
	return pharmacy.Supplier{
		Code:         r.str("code"),
		Name:         r.str("name"),
		LeadTimeDays: r.integer("lead_time_days", 0),
		ContactEmail: r.str("contact_email"),
	}
}

func parseDrug(r *fieldReader) pharmacy.Drug {
	price, _ := r.money("unit_price")
	category := r.str("category")
	if category == "" {
		category = string(pharmacy.CategoryPrescription)
	}
	return pharmacy.Drug{
		Code:          r.str("code"),
		Name:          r.str("name"),
		GenericName:   r.str("generic_name"),
		Manufacturer:  r.str("manufacturer"),
		Category:      enum(category, pharmacy.DrugCategories, categoryAliases),
		UnitPrice:     price,
		StockQuantity: r.integer("stock_quantity", 0),
		MinStockLevel: r.integer("min_stock_level", defaultMinStock),
		MaxStockLevel: r.integer("max_stock_level", defaultMaxStock),
		ExpiryDate:    r.optDate("expiry_date"),
		SupplierCode:  r.str("supplier_code"),
	}
}

func parsePatient(r *fieldReader) pharmacy.Patient {
	return pharmacy.Patient{
		Code:             r.str("code"),
		FirstName:        r.str("first_name"),
		LastName:         r.str("last_name"),
		DateOfBirth:      r.date("date_of_birth"),
		Gender:           enum(r.str("gender"), pharmacy.Genders, genderAliases),
		PrimaryCondition: titleCondition(r.str("primary_condition")),
		InsuranceID:      r.str("insurance_id"),
	}
}

func parsePrescription(r *fieldReader) pharmacy.Prescription {
	status := r.str("status")
	if status == "" {
		status = string(pharmacy.PrescriptionActive)
	}
	return pharmacy.Prescription{
		Code:           r.str("code"),
		PatientCode:    r.str("patient_code"),
		DrugCode:       r.str("drug_code"),
		DoctorName:     r.str("doctor_name"),
		DatePrescribed: r.date("date_prescribed"),
		DurationDays:   r.integer("duration_days", 0),
		RefillsAllowed: r.integer("refills_allowed", 0),
		RefillsUsed:    r.integer("refills_used", 0),
		Status:         enum(status, pharmacy.PrescriptionStatuses, nil),
	}
}

func parseSale(r *fieldReader) pharmacy.Sale {
	price, _ := r.money("unit_price")
	discount, _ := r.money("discount")
	tax, _ := r.money("tax_amount")
	sale := pharmacy.Sale{
		TransactionID: r.str("transaction_id"),
		DrugCode:      r.str("drug_code"),
		SaleDate:      r.date("sale_date"),
		Quantity:      r.integer("quantity", 0),
		UnitPrice:     price,
		Discount:      discount,
		TaxAmount:     tax,
		PharmacyID:    r.integer("pharmacy_id", 0),
		PaymentMethod: enum(r.str("payment_method"), pharmacy.PaymentMethods, paymentAliases),
	}
	if total, ok := r.money("total_amount"); ok {
		sale.TotalAmount = total
	} else {
		sale.TotalAmount = sale.ExpectedTotal().Round(2)
	}
	return sale
}
