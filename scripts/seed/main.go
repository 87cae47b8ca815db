// Command seed writes a deterministic sample extract, one CSV per entity
// kind, into SEED_DIR (default data/raw) for `medtrack pipeline run`.
package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type drug struct {
	code, name, generic, manufacturer, category, supplier string
	price                                                 string
	stock, minStock, maxStock                             int
	expiry                                                string
	dailyDemand                                           int
}

var suppliers = [][]string{
	{"SUP01", "Northwind Medical", "5", "orders@northwind.example"},
	{"SUP02", "Helix Distribution", "10", "supply@helix.example"},
	{"SUP03", "Meridian Pharma Supply", "21", ""},
}

var drugs = []drug{
	{"PAN500", "Paracetamol 500mg", "Paracetamol", "Acme Pharma", "OTC", "SUP01", "6.00", 150, 20, 500, "2027-06-30", 4},
	{"IBU400", "Ibuprofen 400mg", "Ibuprofen", "Acme Pharma", "OTC", "SUP01", "4.50", 25, 40, 400, "2027-03-31", 3},
	{"AMP250", "Amoxicillin 250mg", "Amoxicillin", "Bexley Labs", "Prescription", "SUP02", "13.75", 60, 30, 300, "2026-09-30", 2},
	{"LIS20", "Lisinopril 20mg", "Lisinopril", "Bexley Labs", "Prescription", "SUP02", "17.00", 12, 25, 250, "2027-01-31", 2},
	{"MET500", "Metformin 500mg", "Metformin", "Corvin Health", "Prescription", "SUP03", "9.075", 200, 50, 600, "2027-12-31", 5},
	{"OXY10", "Oxycodone 10mg", "Oxycodone", "Corvin Health", "Controlled", "SUP03", "32.40", 8, 10, 60, "2026-12-31", 0},
}

var conditions = []string{"Hypertension", "Diabetes", "Asthma", "Arthritis", "Infection"}

var payments = []string{"Cash", "Credit Card", "Insurance", "Digital"}

func main() {
	dir := getenv("SEED_DIR", "data/raw")
	days, err := strconv.Atoi(getenv("SEED_DAYS", "120"))
	if err != nil || days <= 0 {
		log.Fatalf("SEED_DAYS must be a positive integer")
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	rng := rand.New(rand.NewPCG(42, 2024))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("create %s: %v", dir, err)
	}

	fmt.Println("→ Writing suppliers...")
	must(writeCSV(dir, "suppliers", []string{"supplier_code", "supplier_name", "lead_time_days", "contact_email"}, suppliers))

	fmt.Println("→ Writing drugs...")
	drugRows := make([][]string, 0, len(drugs))
	for _, d := range drugs {
		drugRows = append(drugRows, []string{
			d.code, d.name, d.generic, d.manufacturer, d.category, d.price,
			strconv.Itoa(d.stock), strconv.Itoa(d.minStock), strconv.Itoa(d.maxStock), d.expiry, d.supplier,
		})
	}
	must(writeCSV(dir, "drugs", []string{"drug_code", "drug_name", "generic_name", "manufacturer", "category", "unit_price",
		"stock_quantity", "min_stock_level", "max_stock_level", "expiry_date", "supplier_code"}, drugRows))

	fmt.Println("→ Writing patients...")
	genders := []string{"M", "F", "O"}
	patientRows := make([][]string, 0, 40)
	for i := 1; i <= 40; i++ {
		dob := end.AddDate(-(18 + rng.IntN(70)), -rng.IntN(12), -rng.IntN(28))
		patientRows = append(patientRows, []string{
			fmt.Sprintf("PAT%03d", i), fmt.Sprintf("Patient%d", i), "Sample",
			dob.Format("2006-01-02"), genders[rng.IntN(len(genders))],
			conditions[rng.IntN(len(conditions))], fmt.Sprintf("INS-%05d", 10000+i),
		})
	}
	must(writeCSV(dir, "patients", []string{"patient_code", "first_name", "last_name", "date_of_birth", "gender",
		"primary_condition", "insurance_id"}, patientRows))

	fmt.Println("→ Writing prescriptions...")
	rxRows := make([][]string, 0, 60)
	for i := 1; i <= 60; i++ {
		d := drugs[rng.IntN(len(drugs))]
		allowed := rng.IntN(4)
		rxRows = append(rxRows, []string{
			fmt.Sprintf("RX%04d", i), patientRows[rng.IntN(len(patientRows))][0], d.code,
			"Dr. Rivera", end.AddDate(0, 0, -rng.IntN(days)).Format("2006-01-02"),
			strconv.Itoa(7 * (1 + rng.IntN(4))), strconv.Itoa(allowed), strconv.Itoa(rng.IntN(allowed + 1)), "Active",
		})
	}
	must(writeCSV(dir, "prescriptions", []string{"prescription_code", "patient_code", "drug_code", "doctor_name",
		"date_prescribed", "duration_days", "refills_allowed", "refills_used", "status"}, rxRows))

	fmt.Println("→ Writing sales...")
	var saleRows [][]string
	txn := 0
	for day := days; day >= 1; day-- {
		date := end.AddDate(0, 0, -day)
		for _, d := range drugs {
			if d.dailyDemand == 0 || rng.IntN(3) == 0 {
				continue
			}
			txn++
			qty := 1 + rng.IntN(2*d.dailyDemand)
			price := decimal.RequireFromString(d.price)
			discount := decimal.Zero
			if rng.IntN(5) == 0 {
				discount = price.Mul(decimal.NewFromInt(int64(qty))).Mul(decimal.RequireFromString("0.10")).Round(2)
			}
			tax := price.Mul(decimal.NewFromInt(int64(qty))).Sub(discount).Mul(decimal.RequireFromString("0.05")).Round(2)
			total := price.Mul(decimal.NewFromInt(int64(qty))).Sub(discount).Add(tax).Round(2)
			saleRows = append(saleRows, []string{
				fmt.Sprintf("TXN-%06d", txn), d.code, date.Format("2006-01-02"), strconv.Itoa(qty), d.price,
				discount.StringFixed(2), tax.StringFixed(2), total.StringFixed(2),
				strconv.Itoa(1 + rng.IntN(3)), payments[rng.IntN(len(payments))],
			})
		}
	}
	must(writeCSV(dir, "sales", []string{"transaction_id", "drug_code", "sale_date", "quantity", "unit_price", "discount",
		"tax_amount", "total_amount", "pharmacy_id", "payment_method"}, saleRows))

	fmt.Printf("✓ Sample extract written to %s (%d sales)\n", dir, len(saleRows))
}

func writeCSV(dir, kind string, header []string, rows [][]string) error {
	f, err := os.Create(filepath.Join(dir, kind+".csv"))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func must(err error) {
	if err != nil {
		log.Fatalf("write sample: %v", err)
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
