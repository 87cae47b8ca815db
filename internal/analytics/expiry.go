package analytics

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// DefaultExpiryHorizonDays is the default expiring-soon horizon.
const DefaultExpiryHorizonDays = 30

// ExpiringDrug is a drug with an expiry date near or past asOf.
type ExpiringDrug struct {
	DrugID        int64           `json:"drug_id"`
	Code          string          `json:"drug_code"`
	Name          string          `json:"drug_name"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	DaysToExpiry  int             `json:"days_to_expiry"`
	StockQuantity int             `json:"stock_quantity"`
	StockValue    decimal.Decimal `json:"stock_value"`
}

// ExpiryReport splits drugs into expiring soon and already expired.
type ExpiryReport struct {
	AsOf         time.Time      `json:"as_of"`
	HorizonDays  int            `json:"horizon_days"`
	ExpiringSoon []ExpiringDrug `json:"expiring_soon"`
	Expired      []ExpiringDrug `json:"expired"`
}

// Expiry classifies drugs whose expiry falls within horizonDays of asOf as
// expiring soon and those already past asOf as expired. Drugs without an
// expiry date are skipped. Both lists are ordered by expiry then code.
func Expiry(drugs []pharmacy.Drug, asOf time.Time, horizonDays int) (ExpiryReport, error) {
	if horizonDays < 0 {
		return ExpiryReport{}, fmt.Errorf("%w: horizon must not be negative, got %d", pharmacy.ErrInvalidArgument, horizonDays)
	}
	asOf = pharmacy.Date(asOf)
	report := ExpiryReport{
		AsOf:         asOf,
		HorizonDays:  horizonDays,
		ExpiringSoon: []ExpiringDrug{},
		Expired:      []ExpiringDrug{},
	}
	for _, d := range drugs {
		if d.ExpiryDate == nil {
			continue
		}
		days := pharmacy.DaysBetween(asOf, *d.ExpiryDate)
		entry := ExpiringDrug{
			DrugID:        d.ID,
			Code:          d.Code,
			Name:          d.Name,
			ExpiryDate:    pharmacy.Date(*d.ExpiryDate),
			DaysToExpiry:  days,
			StockQuantity: d.StockQuantity,
			StockValue:    d.StockValue(),
		}
		switch {
		case days < 0:
			report.Expired = append(report.Expired, entry)
		case days <= horizonDays:
			report.ExpiringSoon = append(report.ExpiringSoon, entry)
		}
	}
	byExpiry := func(a, b ExpiringDrug) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	}
	slices.SortFunc(report.ExpiringSoon, byExpiry)
	slices.SortFunc(report.Expired, byExpiry)
	return report, nil
}
