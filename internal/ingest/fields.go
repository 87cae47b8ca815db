package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006", "02-Jan-2006", "2006/01/02"}

// fieldReader parses canonical fields and keeps the first failure.
type fieldReader struct {
	fields map[string]string
	err    *pharmacy.RowError
}

func (r *fieldReader) fail(field, format string, args ...any) {
	if r.err == nil {
		r.err = pharmacy.Malformed(field, format, args...)
	}
}

func (r *fieldReader) str(field string) string {
	return r.fields[field]
}

func (r *fieldReader) integer(field string, def int) int {
	raw := r.fields[field]
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		// Spreadsheet exports write whole numbers as "12.0".
		d, derr := decimal.NewFromString(raw)
		if derr != nil || !d.IsInteger() {
			r.fail(field, "%q is not an integer", raw)
			return def
		}
		return int(d.IntPart())
	}
	return v
}

func (r *fieldReader) money(field string) (decimal.Decimal, bool) {
	raw := strings.TrimPrefix(r.fields[field], "$")
	if raw == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		r.fail(field, "%q is not a decimal", raw)
		return decimal.Zero, false
	}
	return v, true
}

func (r *fieldReader) date(field string) time.Time {
	t := r.optDate(field)
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (r *fieldReader) optDate(field string) *time.Time {
	raw := r.fields[field]
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d := pharmacy.Date(t)
			return &d
		}
	}
	r.fail(field, "%q is not a date", raw)
	return nil
}

// enum matches raw case- and punctuation-insensitively against allowed and
// the extra aliases. Unmatched values are returned unchanged so validation
// reports them as rule violations.
func enum[T ~string](raw string, allowed []T, extra map[string]T) T {
	key := squash(cases.Fold().String(raw))
	for _, v := range allowed {
		if squash(string(v)) == key {
			return v
		}
	}
	if v, ok := extra[key]; ok {
		return v
	}
	return T(raw)
}

var genderAliases = map[string]pharmacy.Gender{
	"m": pharmacy.GenderMale,
	"f": pharmacy.GenderFemale,
	"o": pharmacy.GenderOther,
}

var paymentAliases = map[string]pharmacy.PaymentMethod{
	"card":    pharmacy.PaymentCreditCard,
	"credit":  pharmacy.PaymentCreditCard,
	"ewallet": pharmacy.PaymentDigital,
	"mobile":  pharmacy.PaymentDigital,
}

var categoryAliases = map[string]pharmacy.DrugCategory{
	"rx":             pharmacy.CategoryPrescription,
	"overthecounter": pharmacy.CategoryOTC,
}

// titleCondition normalises free-text condition names so "type 2 diabetes"
// and "TYPE 2 DIABETES" group together.
func titleCondition(raw string) string {
	if raw == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(strings.Fields(raw), " "))
}
