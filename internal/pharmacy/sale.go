package pharmacy

import "github.com/shopspring/decimal"

// DefaultTolerance is the reconciliation tolerance for sale totals, one cent.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Gross returns quantity times unit price.
func (s Sale) Gross() decimal.Decimal {
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

// ExpectedTotal returns gross minus discount plus tax.
func (s Sale) ExpectedTotal() decimal.Decimal {
	return s.Gross().Sub(s.Discount).Add(s.TaxAmount)
}

// Reconciles reports whether TotalAmount matches ExpectedTotal within tolerance.
func (s Sale) Reconciles(tolerance decimal.Decimal) bool {
	return s.TotalAmount.Sub(s.ExpectedTotal()).Abs().LessThanOrEqual(tolerance)
}

// StockValue returns unit price times the units on hand.
func (d Drug) StockValue() decimal.Decimal {
	return d.UnitPrice.Mul(decimal.NewFromInt(int64(d.StockQuantity)))
}
