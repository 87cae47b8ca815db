package analytics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// DefaultLowMultiplier is the LOW band upper bound as a multiple of the
// minimum stock level.
const DefaultLowMultiplier = 1.5

// StockStatus classifies stock against the minimum level.
type StockStatus string

const (
	StockCritical StockStatus = "CRITICAL"
	StockLow      StockStatus = "LOW"
	StockOK       StockStatus = "OK"
)

// DrugStock is a drug with its stock classification.
type DrugStock struct {
	DrugID          int64                 `json:"drug_id"`
	Code            string                `json:"drug_code"`
	Name            string                `json:"drug_name"`
	Category        pharmacy.DrugCategory `json:"category"`
	StockQuantity   int                   `json:"stock_quantity"`
	MinStockLevel   int                   `json:"min_stock_level"`
	MaxStockLevel   int                   `json:"max_stock_level"`
	StockPercentage *float64              `json:"stock_percentage"`
	Status          StockStatus           `json:"stock_status"`
}

// Classify returns the status of stock against the minimum level. Stock at or
// below minLevel is CRITICAL, up to multiplier times minLevel is LOW, anything
// above is OK.
func Classify(stock, minLevel int, multiplier float64) StockStatus {
	switch {
	case stock <= minLevel:
		return StockCritical
	case float64(stock) <= multiplier*float64(minLevel):
		return StockLow
	default:
		return StockOK
	}
}

// StockPercentage returns stock as a percentage of minLevel, nil when
// minLevel is zero.
func StockPercentage(stock, minLevel int) *float64 {
	if minLevel == 0 {
		return nil
	}
	pct := 100 * float64(stock) / float64(minLevel)
	return &pct
}

func checkMultiplier(multiplier float64) error {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier < 1 {
		return fmt.Errorf("%w: threshold multiplier must be at least 1, got %v", pharmacy.ErrInvalidArgument, multiplier)
	}
	return nil
}

// InventoryHealth classifies every drug, ordered by id.
func InventoryHealth(drugs []pharmacy.Drug, multiplier float64) ([]DrugStock, error) {
	if err := checkMultiplier(multiplier); err != nil {
		return nil, err
	}
	out := make([]DrugStock, 0, len(drugs))
	for _, d := range drugs {
		out = append(out, DrugStock{
			DrugID:          d.ID,
			Code:            d.Code,
			Name:            d.Name,
			Category:        d.Category,
			StockQuantity:   d.StockQuantity,
			MinStockLevel:   d.MinStockLevel,
			MaxStockLevel:   d.MaxStockLevel,
			StockPercentage: StockPercentage(d.StockQuantity, d.MinStockLevel),
			Status:          Classify(d.StockQuantity, d.MinStockLevel, multiplier),
		})
	}
	slices.SortFunc(out, func(a, b DrugStock) int { return cmp.Compare(a.DrugID, b.DrugID) })
	return out, nil
}

// LowStock returns the CRITICAL and LOW drugs ordered by stock percentage
// ascending, undefined percentages last, ties by code.
func LowStock(drugs []pharmacy.Drug, multiplier float64) ([]DrugStock, error) {
	all, err := InventoryHealth(drugs, multiplier)
	if err != nil {
		return nil, err
	}
	out := slices.DeleteFunc(all, func(d DrugStock) bool { return d.Status == StockOK })
	slices.SortFunc(out, func(a, b DrugStock) int {
		switch {
		case a.StockPercentage == nil && b.StockPercentage != nil:
			return 1
		case a.StockPercentage != nil && b.StockPercentage == nil:
			return -1
		case a.StockPercentage != nil && *a.StockPercentage != *b.StockPercentage:
			if *a.StockPercentage < *b.StockPercentage {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out, nil
}

// CategoryValue is the stock on hand of one category.
type CategoryValue struct {
	Category pharmacy.DrugCategory `json:"category"`
	Drugs    int                   `json:"drugs"`
	Units    int                   `json:"units"`
	Value    decimal.Decimal       `json:"value"`
}

// Valuation is the stock value per category.
type Valuation struct {
	Categories []CategoryValue `json:"categories"`
	TotalUnits int             `json:"total_units"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// InventoryValuation sums unit price times stock per category, ordered by
// value descending then category.
func InventoryValuation(drugs []pharmacy.Drug) Valuation {
	byCategory := map[pharmacy.DrugCategory]*CategoryValue{}
	v := Valuation{Categories: []CategoryValue{}, TotalValue: decimal.Zero}
	for _, d := range drugs {
		c, ok := byCategory[d.Category]
		if !ok {
			c = &CategoryValue{Category: d.Category, Value: decimal.Zero}
			byCategory[d.Category] = c
		}
		value := d.StockValue()
		c.Drugs++
		c.Units += d.StockQuantity
		c.Value = c.Value.Add(value)
		v.TotalUnits += d.StockQuantity
		v.TotalValue = v.TotalValue.Add(value)
	}
	for _, c := range byCategory {
		v.Categories = append(v.Categories, *c)
	}
	slices.SortFunc(v.Categories, func(a, b CategoryValue) int {
		if c := b.Value.Cmp(a.Value); c != 0 {
			return c
		}
		return strings.Compare(string(a.Category), string(b.Category))
	})
	return v
}

// MovementSummary totals inventory transactions of one type.
type MovementSummary struct {
	Type         pharmacy.TransactionType `json:"type"`
	Transactions int                      `json:"transactions"`
	QuantityIn   int                      `json:"quantity_in"`
	QuantityOut  int                      `json:"quantity_out"`
	Net          int                      `json:"net"`
}

// StockMovements groups transactions dated inside w by type, in the order of
// pharmacy.TransactionTypes. Types without movements are omitted.
func StockMovements(txns []pharmacy.InventoryTransaction, w Window) ([]MovementSummary, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	byType := map[pharmacy.TransactionType]*MovementSummary{}
	for _, t := range txns {
		if !w.contains(t.TransactionDate) {
			continue
		}
		m, ok := byType[t.Type]
		if !ok {
			m = &MovementSummary{Type: t.Type}
			byType[t.Type] = m
		}
		m.Transactions++
		if t.QuantityChange >= 0 {
			m.QuantityIn += t.QuantityChange
		} else {
			m.QuantityOut -= t.QuantityChange
		}
		m.Net += t.QuantityChange
	}
	out := []MovementSummary{}
	for _, typ := range pharmacy.TransactionTypes {
		if m, ok := byType[typ]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

