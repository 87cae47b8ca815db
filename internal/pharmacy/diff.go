package pharmacy

import (
	"time"

	"github.com/shopspring/decimal"
)

// The Changes methods compare normalized content and ignore surrogate ids,
// resolved references and timestamps. An empty result means the incoming row
// is identical to the stored one.

type changes []string

func (c *changes) str(field, a, b string) {
	if a != b {
		*c = append(*c, field)
	}
}

func (c *changes) num(field string, a, b int) {
	if a != b {
		*c = append(*c, field)
	}
}

func (c *changes) dec(field string, a, b decimal.Decimal) {
	if !a.Equal(b) {
		*c = append(*c, field)
	}
}

func (c *changes) day(field string, a, b time.Time) {
	if !Date(a).Equal(Date(b)) {
		*c = append(*c, field)
	}
}

func (c *changes) optDay(field string, a, b *time.Time) {
	switch {
	case a == nil && b == nil:
	case a == nil || b == nil:
		*c = append(*c, field)
	default:
		c.day(field, *a, *b)
	}
}

// Changes lists the fields of next that differ from s.
func (s Supplier) Changes(next Supplier) []string {
	var c changes
	c.str("name", s.Name, next.Name)
	c.num("lead_time_days", s.LeadTimeDays, next.LeadTimeDays)
	c.str("contact_email", s.ContactEmail, next.ContactEmail)
	return c
}

// Changes lists the fields of next that differ from d.
func (d Drug) Changes(next Drug) []string {
	var c changes
	c.str("name", d.Name, next.Name)
	c.str("generic_name", d.GenericName, next.GenericName)
	c.str("manufacturer", d.Manufacturer, next.Manufacturer)
	c.str("category", string(d.Category), string(next.Category))
	c.dec("unit_price", d.UnitPrice, next.UnitPrice)
	c.num("stock_quantity", d.StockQuantity, next.StockQuantity)
	c.num("min_stock_level", d.MinStockLevel, next.MinStockLevel)
	c.num("max_stock_level", d.MaxStockLevel, next.MaxStockLevel)
	c.optDay("expiry_date", d.ExpiryDate, next.ExpiryDate)
	c.str("supplier_code", d.SupplierCode, next.SupplierCode)
	return c
}

// Changes lists the fields of next that differ from s.
func (s Sale) Changes(next Sale) []string {
	var c changes
	c.str("drug_code", s.DrugCode, next.DrugCode)
	c.day("sale_date", s.SaleDate, next.SaleDate)
	c.num("quantity", s.Quantity, next.Quantity)
	c.dec("unit_price", s.UnitPrice, next.UnitPrice)
	c.dec("discount", s.Discount, next.Discount)
	c.dec("tax_amount", s.TaxAmount, next.TaxAmount)
	c.dec("total_amount", s.TotalAmount, next.TotalAmount)
	c.num("pharmacy_id", s.PharmacyID, next.PharmacyID)
	c.str("payment_method", string(s.PaymentMethod), string(next.PaymentMethod))
	return c
}

// Changes lists the fields of next that differ from p.
func (p Patient) Changes(next Patient) []string {
	var c changes
	c.str("first_name", p.FirstName, next.FirstName)
	c.str("last_name", p.LastName, next.LastName)
	c.day("date_of_birth", p.DateOfBirth, next.DateOfBirth)
	c.str("gender", string(p.Gender), string(next.Gender))
	c.str("primary_condition", p.PrimaryCondition, next.PrimaryCondition)
	c.str("insurance_id", p.InsuranceID, next.InsuranceID)
	return c
}

// Changes lists the fields of next that differ from p.
func (p Prescription) Changes(next Prescription) []string {
	var c changes
	c.str("patient_code", p.PatientCode, next.PatientCode)
	c.str("drug_code", p.DrugCode, next.DrugCode)
	c.str("doctor_name", p.DoctorName, next.DoctorName)
	c.day("date_prescribed", p.DatePrescribed, next.DatePrescribed)
	c.num("duration_days", p.DurationDays, next.DurationDays)
	c.num("refills_allowed", p.RefillsAllowed, next.RefillsAllowed)
	c.num("refills_used", p.RefillsUsed, next.RefillsUsed)
	c.str("status", string(p.Status), string(next.Status))
	return c
}
