// Package export renders analytics reports as CSV for download.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/analytics"
)

// WriteLowStockCSV serialises stock classifications.
func WriteLowStockCSV(w io.Writer, rows []analytics.DrugStock) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Drug Code", "Drug Name", "Stock", "Min Stock", "Stock %", "Status"}); err != nil {
		return err
	}
	for _, row := range rows {
		pct := ""
		if row.StockPercentage != nil {
			pct = formatFloat(*row.StockPercentage)
		}
		if err := writer.Write([]string{
			row.Code,
			row.Name,
			strconv.Itoa(row.StockQuantity),
			strconv.Itoa(row.MinStockLevel),
			pct,
			string(row.Status),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSalesSummaryCSV emits period sales totals.
func WriteSalesSummaryCSV(w io.Writer, rows []analytics.PeriodSummary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Period", "Transactions", "Distinct Drugs", "Quantity", "Revenue", "Average Sale", "Max Sale"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.Period,
			strconv.Itoa(row.Transactions),
			strconv.Itoa(row.DistinctDrugs),
			strconv.Itoa(row.Quantity),
			row.Revenue.StringFixed(2),
			row.AverageSale.StringFixed(2),
			row.MaxSale.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTopDrugsCSV emits a drug ranking.
func WriteTopDrugsCSV(w io.Writer, rows []analytics.RankedDrug) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Rank", "Drug Code", "Drug Name", "Revenue", "Quantity", "Transactions"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.Itoa(row.Rank),
			row.Code,
			row.Name,
			row.Revenue.StringFixed(2),
			strconv.Itoa(row.Quantity),
			strconv.Itoa(row.Transactions),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteExpiryCSV prints expiring and expired drugs with their bucket.
func WriteExpiryCSV(w io.Writer, report analytics.ExpiryReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Bucket", "Drug Code", "Drug Name", "Expiry Date", "Days", "Stock", "Stock Value"}); err != nil {
		return err
	}
	buckets := []struct {
		name string
		rows []analytics.ExpiringDrug
	}{
		{"expired", report.Expired},
		{"expiring_soon", report.ExpiringSoon},
	}
	for _, bucket := range buckets {
		for _, row := range bucket.rows {
			if err := writer.Write([]string{
				bucket.name,
				row.Code,
				row.Name,
				row.ExpiryDate.Format(time.DateOnly),
				strconv.Itoa(row.DaysToExpiry),
				strconv.Itoa(row.StockQuantity),
				row.StockValue.StringFixed(2),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
