package quality

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// result is the raw outcome of one check before classification.
type result struct {
	check   string
	checked int
	issues  int
	samples []string
	note    string
}

func (r *result) flag(key string) {
	r.issues++
	if len(r.samples) < maxSamples {
		r.samples = append(r.samples, key)
	}
}

func (r result) details() string {
	var parts []string
	if r.note != "" {
		parts = append(parts, r.note)
	}
	if r.issues > 0 && len(r.samples) > 0 {
		parts = append(parts, fmt.Sprintf("%d issues, e.g. %s", r.issues, strings.Join(r.samples, ", ")))
	}
	return strings.Join(parts, "; ")
}

// required tallies empty required fields. Each row contributes one checked
// record per field.
func required[T any](rows []T, key func(T) string, fields map[string]func(T) bool) result {
	res := result{check: CheckCompleteness, checked: len(rows) * len(fields)}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, row := range rows {
		for _, name := range names {
			if !fields[name](row) {
				res.flag(key(row) + "." + name)
			}
		}
	}
	return res
}

// rowCheck flags every row for which bad reports a problem.
func rowCheck[T any](check string, rows []T, key func(T) string, bad func(T) bool) result {
	res := result{check: check, checked: len(rows)}
	for _, row := range rows {
		if bad(row) {
			res.flag(key(row))
		}
	}
	return res
}

type checker struct {
	cfg  Config
	data *dataset
	now  time.Time
	asOf time.Time
}

func (c checker) table(name string) []result {
	switch name {
	case TableDrugs:
		return c.drugs()
	case TableSales:
		return c.sales()
	case TablePatients:
		return c.patients()
	case TablePrescriptions:
		return c.prescriptions()
	case TableTransactions:
		return c.transactions()
	}
	return nil
}

func (c checker) drugs() []result {
	rows := c.data.drugs
	key := func(d pharmacy.Drug) string { return d.Code }
	return []result{
		required(rows, key, map[string]func(pharmacy.Drug) bool{
			"code":         func(d pharmacy.Drug) bool { return d.Code != "" },
			"name":         func(d pharmacy.Drug) bool { return d.Name != "" },
			"manufacturer": func(d pharmacy.Drug) bool { return d.Manufacturer != "" },
			"category":     func(d pharmacy.Drug) bool { return d.Category != "" },
			"unit_price":   func(d pharmacy.Drug) bool { return !d.UnitPrice.IsZero() },
		}),
		rowCheck(CheckConsistency, rows, key, func(d pharmacy.Drug) bool {
			if !slices.Contains(pharmacy.DrugCategories, d.Category) {
				return true
			}
			if d.SupplierID != nil {
				if _, ok := c.data.suppliers[*d.SupplierID]; !ok {
					return true
				}
			}
			return d.MinStockLevel > d.MaxStockLevel
		}),
		rowCheck(CheckAccuracy, rows, key, func(d pharmacy.Drug) bool {
			if !d.UnitPrice.IsPositive() || d.StockQuantity < 0 {
				return true
			}
			return d.ExpiryDate != nil && d.ExpiryDate.Before(c.asOf) && d.StockQuantity > 0
		}),
	}
}

func (c checker) sales() []result {
	rows := c.data.sales
	key := func(s pharmacy.Sale) string { return s.TransactionID }
	return []result{
		required(rows, key, map[string]func(pharmacy.Sale) bool{
			"transaction_id": func(s pharmacy.Sale) bool { return s.TransactionID != "" },
			"drug_id":        func(s pharmacy.Sale) bool { return s.DrugID != 0 },
			"sale_date":      func(s pharmacy.Sale) bool { return !s.SaleDate.IsZero() },
			"unit_price":     func(s pharmacy.Sale) bool { return !s.UnitPrice.IsZero() },
			"payment_method": func(s pharmacy.Sale) bool { return s.PaymentMethod != "" },
		}),
		rowCheck(CheckConsistency, rows, key, func(s pharmacy.Sale) bool {
			_, ok := c.data.drugIDs[s.DrugID]
			return !ok || !slices.Contains(pharmacy.PaymentMethods, s.PaymentMethod)
		}),
		rowCheck(CheckAccuracy, rows, key, c.badSale),
		c.freshness(newest(rows, func(s pharmacy.Sale) time.Time { return s.SaleDate })),
	}
}

func (c checker) badSale(s pharmacy.Sale) bool {
	switch {
	case s.Quantity <= 0, !s.UnitPrice.IsPositive():
		return true
	case s.Discount.IsNegative(), s.TaxAmount.IsNegative():
		return true
	case s.Discount.GreaterThan(s.Gross()):
		return true
	case !s.Reconciles(c.cfg.Tolerance):
		return true
	}
	return pharmacy.Date(s.SaleDate).After(c.asOf)
}

func (c checker) patients() []result {
	rows := c.data.patients
	key := func(p pharmacy.Patient) string { return p.Code }
	return []result{
		required(rows, key, map[string]func(pharmacy.Patient) bool{
			"code":          func(p pharmacy.Patient) bool { return p.Code != "" },
			"first_name":    func(p pharmacy.Patient) bool { return p.FirstName != "" },
			"last_name":     func(p pharmacy.Patient) bool { return p.LastName != "" },
			"date_of_birth": func(p pharmacy.Patient) bool { return !p.DateOfBirth.IsZero() },
			"gender":        func(p pharmacy.Patient) bool { return p.Gender != "" },
		}),
		rowCheck(CheckConsistency, rows, key, func(p pharmacy.Patient) bool {
			return !slices.Contains(pharmacy.Genders, p.Gender)
		}),
		rowCheck(CheckAccuracy, rows, key, func(p pharmacy.Patient) bool {
			if p.DateOfBirth.After(c.asOf) {
				return true
			}
			age := pharmacy.Age(p.DateOfBirth, c.asOf)
			return age < 0 || age > 120
		}),
	}
}

func (c checker) prescriptions() []result {
	rows := c.data.prescriptions
	key := func(p pharmacy.Prescription) string { return p.Code }
	return []result{
		required(rows, key, map[string]func(pharmacy.Prescription) bool{
			"code":            func(p pharmacy.Prescription) bool { return p.Code != "" },
			"patient_id":      func(p pharmacy.Prescription) bool { return p.PatientID != 0 },
			"drug_id":         func(p pharmacy.Prescription) bool { return p.DrugID != 0 },
			"doctor_name":     func(p pharmacy.Prescription) bool { return p.DoctorName != "" },
			"date_prescribed": func(p pharmacy.Prescription) bool { return !p.DatePrescribed.IsZero() },
		}),
		rowCheck(CheckConsistency, rows, key, func(p pharmacy.Prescription) bool {
			_, patientOK := c.data.patientIDs[p.PatientID]
			_, drugOK := c.data.drugIDs[p.DrugID]
			return !patientOK || !drugOK || !slices.Contains(pharmacy.PrescriptionStatuses, p.Status)
		}),
		rowCheck(CheckAccuracy, rows, key, func(p pharmacy.Prescription) bool {
			return p.RefillsAllowed < 0 || p.RefillsUsed < 0 || p.RefillsUsed > p.RefillsAllowed || p.DurationDays < 0
		}),
	}
}

func (c checker) transactions() []result {
	rows := c.data.transactions
	key := func(t pharmacy.InventoryTransaction) string { return fmt.Sprintf("#%d", t.ID) }
	return []result{
		required(rows, key, map[string]func(pharmacy.InventoryTransaction) bool{
			"drug_id":          func(t pharmacy.InventoryTransaction) bool { return t.DrugID != 0 },
			"type":             func(t pharmacy.InventoryTransaction) bool { return t.Type != "" },
			"transaction_date": func(t pharmacy.InventoryTransaction) bool { return !t.TransactionDate.IsZero() },
		}),
		rowCheck(CheckConsistency, rows, key, func(t pharmacy.InventoryTransaction) bool {
			_, ok := c.data.drugIDs[t.DrugID]
			return !ok || !slices.Contains(pharmacy.TransactionTypes, t.Type)
		}),
		rowCheck(CheckAccuracy, rows, key, func(t pharmacy.InventoryTransaction) bool {
			return !t.Reconciles() || t.NewQuantity < 0
		}),
		c.freshness(newest(rows, func(t pharmacy.InventoryTransaction) time.Time { return t.TransactionDate })),
	}
}

func newest[T any](rows []T, at func(T) time.Time) (time.Time, bool) {
	var latest time.Time
	for _, row := range rows {
		if t := at(row); t.After(latest) {
			latest = t
		}
	}
	return latest, len(rows) > 0
}

// freshness checks the newest timestamp of a series against StaleAfter.
func (c checker) freshness(latest time.Time, ok bool) result {
	res := result{check: CheckTimeliness}
	if !ok {
		res.note = "no rows"
		return res
	}
	res.checked = 1
	res.note = "newest " + latest.Format(time.DateOnly)
	if age := c.now.Sub(latest); age > c.cfg.StaleAfter {
		res.issues = 1
		res.note += fmt.Sprintf(", %d days old", int(age.Hours()/24))
	}
	return res
}
