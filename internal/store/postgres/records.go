package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type reader struct {
	q querier
}

func collect[T any](rows pgx.Rows, err error, op string, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, v)
	}
	return out, wrap(op, rows.Err())
}

func nullTime(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: pharmacy.Date(t), Valid: true}
}

const supplierColumns = `id, code, name, lead_time_days, contact_email, created_at, last_updated`

func scanSupplier(row pgx.Row) (pharmacy.Supplier, error) {
	var s pharmacy.Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.LeadTimeDays, &s.ContactEmail, &s.CreatedAt, &s.LastUpdated)
	return s, err
}

const drugColumns = `id, code, name, generic_name, manufacturer, category, unit_price, stock_quantity,
min_stock_level, max_stock_level, expiry_date, supplier_code, supplier_id, created_at, last_updated`

func scanDrug(row pgx.Row) (pharmacy.Drug, error) {
	var d pharmacy.Drug
	var category string
	var price pgtype.Numeric
	var expiry pgtype.Date
	var supplier pgtype.Int8
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.GenericName, &d.Manufacturer, &category, &price, &d.StockQuantity,
		&d.MinStockLevel, &d.MaxStockLevel, &expiry, &d.SupplierCode, &supplier, &d.CreatedAt, &d.LastUpdated)
	d.Category = pharmacy.DrugCategory(category)
	d.UnitPrice = fromNumeric(price)
	d.ExpiryDate = fromDate(expiry)
	d.SupplierID = fromInt8(supplier)
	return d, err
}

const saleColumns = `id, transaction_id, drug_code, drug_id, sale_date, quantity, unit_price, discount,
tax_amount, total_amount, pharmacy_id, payment_method, created_at`

func scanSale(row pgx.Row) (pharmacy.Sale, error) {
	var s pharmacy.Sale
	var price, discount, tax, total pgtype.Numeric
	var method string
	err := row.Scan(&s.ID, &s.TransactionID, &s.DrugCode, &s.DrugID, &s.SaleDate, &s.Quantity, &price, &discount,
		&tax, &total, &s.PharmacyID, &method, &s.CreatedAt)
	s.UnitPrice = fromNumeric(price)
	s.Discount = fromNumeric(discount)
	s.TaxAmount = fromNumeric(tax)
	s.TotalAmount = fromNumeric(total)
	s.PaymentMethod = pharmacy.PaymentMethod(method)
	return s, err
}

const patientColumns = `id, code, first_name, last_name, date_of_birth, gender, primary_condition, insurance_id,
created_at, last_updated`

func scanPatient(row pgx.Row) (pharmacy.Patient, error) {
	var p pharmacy.Patient
	var gender string
	err := row.Scan(&p.ID, &p.Code, &p.FirstName, &p.LastName, &p.DateOfBirth, &gender, &p.PrimaryCondition,
		&p.InsuranceID, &p.CreatedAt, &p.LastUpdated)
	p.Gender = pharmacy.Gender(gender)
	return p, err
}

const prescriptionColumns = `id, code, patient_code, patient_id, drug_code, drug_id, doctor_name, date_prescribed,
duration_days, refills_allowed, refills_used, status, created_at, last_updated`

func scanPrescription(row pgx.Row) (pharmacy.Prescription, error) {
	var p pharmacy.Prescription
	var status string
	err := row.Scan(&p.ID, &p.Code, &p.PatientCode, &p.PatientID, &p.DrugCode, &p.DrugID, &p.DoctorName,
		&p.DatePrescribed, &p.DurationDays, &p.RefillsAllowed, &p.RefillsUsed, &status, &p.CreatedAt, &p.LastUpdated)
	p.Status = pharmacy.PrescriptionStatus(status)
	return p, err
}

const transactionColumns = `id, drug_id, transaction_type, quantity_change, previous_quantity, new_quantity,
reference_id, reference_type, run_id, notes, transaction_date`

func scanTransaction(row pgx.Row) (pharmacy.InventoryTransaction, error) {
	var t pharmacy.InventoryTransaction
	var typ string
	err := row.Scan(&t.ID, &t.DrugID, &typ, &t.QuantityChange, &t.PreviousQuantity, &t.NewQuantity,
		&t.ReferenceID, &t.ReferenceType, &t.RunID, &t.Notes, &t.TransactionDate)
	t.Type = pharmacy.TransactionType(typ)
	return t, err
}

const qualityColumns = `id, run_id, table_name, check_name, records_checked, issues_found, issue_rate, status,
details, checked_at, resolved, resolved_at, resolved_by`

func scanQuality(row pgx.Row) (pharmacy.QualityLogEntry, error) {
	var e pharmacy.QualityLogEntry
	var status string
	err := row.Scan(&e.ID, &e.RunID, &e.TableName, &e.CheckName, &e.RecordsChecked, &e.IssuesFound, &e.IssueRate,
		&status, &e.Details, &e.CheckedAt, &e.Resolved, &e.ResolvedAt, &e.ResolvedBy)
	e.Status = pharmacy.QualityStatus(status)
	return e, err
}

func (r reader) ListSuppliers(ctx context.Context) ([]pharmacy.Supplier, error) {
	rows, err := r.q.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY id`)
	return collect(rows, err, "list suppliers", scanSupplier)
}

func (r reader) ListDrugs(ctx context.Context) ([]pharmacy.Drug, error) {
	rows, err := r.q.Query(ctx, `SELECT `+drugColumns+` FROM drugs ORDER BY id`)
	return collect(rows, err, "list drugs", scanDrug)
}

func (r reader) ListSales(ctx context.Context, filter store.SaleFilter) ([]pharmacy.Sale, error) {
	rows, err := r.q.Query(ctx, `SELECT `+saleColumns+` FROM sales
WHERE ($1::date IS NULL OR sale_date >= $1)
  AND ($2::date IS NULL OR sale_date <= $2)
  AND ($3::bigint = 0 OR drug_id = $3)
ORDER BY id`, nullTime(filter.From), nullTime(filter.To), filter.DrugID)
	return collect(rows, err, "list sales", scanSale)
}

func (r reader) ListPatients(ctx context.Context) ([]pharmacy.Patient, error) {
	rows, err := r.q.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY id`)
	return collect(rows, err, "list patients", scanPatient)
}

func (r reader) ListPrescriptions(ctx context.Context) ([]pharmacy.Prescription, error) {
	rows, err := r.q.Query(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions ORDER BY id`)
	return collect(rows, err, "list prescriptions", scanPrescription)
}

func (r reader) ListInventoryTransactions(ctx context.Context, filter store.TransactionFilter) ([]pharmacy.InventoryTransaction, error) {
	rows, err := r.q.Query(ctx, `SELECT `+transactionColumns+` FROM inventory_transactions
WHERE ($1::bigint = 0 OR drug_id = $1)
  AND ($2::date IS NULL OR transaction_date::date >= $2)
  AND ($3::date IS NULL OR transaction_date::date <= $3)
ORDER BY id`, filter.DrugID, nullTime(filter.From), nullTime(filter.To))
	return collect(rows, err, "list inventory transactions", scanTransaction)
}

func (r reader) ListQualityLog(ctx context.Context, filter store.QualityFilter) ([]pharmacy.QualityLogEntry, error) {
	rows, err := r.q.Query(ctx, `SELECT `+qualityColumns+` FROM data_quality_log
WHERE ($1 = '' OR table_name = $1)
  AND ($2 = '' OR run_id = $2)
  AND (NOT $3 OR NOT resolved)
ORDER BY id`, filter.Table, filter.RunID, filter.UnresolvedOnly)
	return collect(rows, err, "list quality log", scanQuality)
}

type txRepo struct {
	reader
}

func (r *txRepo) SupplierByCode(ctx context.Context, code string) (pharmacy.Supplier, error) {
	s, err := scanSupplier(r.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE code = $1`, code))
	return s, wrap("supplier by code", err)
}

func (r *txRepo) DrugByCode(ctx context.Context, code string) (pharmacy.Drug, error) {
	d, err := scanDrug(r.q.QueryRow(ctx, `SELECT `+drugColumns+` FROM drugs WHERE code = $1`, code))
	return d, wrap("drug by code", err)
}

func (r *txRepo) DrugForUpdate(ctx context.Context, id int64) (pharmacy.Drug, error) {
	d, err := scanDrug(r.q.QueryRow(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1 FOR UPDATE`, id))
	return d, wrap("drug for update", err)
}

func (r *txRepo) PatientByCode(ctx context.Context, code string) (pharmacy.Patient, error) {
	p, err := scanPatient(r.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE code = $1`, code))
	return p, wrap("patient by code", err)
}

func (r *txRepo) PrescriptionByCode(ctx context.Context, code string) (pharmacy.Prescription, error) {
	p, err := scanPrescription(r.q.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE code = $1`, code))
	return p, wrap("prescription by code", err)
}

func (r *txRepo) SaleByTransactionID(ctx context.Context, transactionID string) (pharmacy.Sale, error) {
	s, err := scanSale(r.q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_id = $1`, transactionID))
	return s, wrap("sale by transaction id", err)
}

func (r *txRepo) SaveSupplier(ctx context.Context, s pharmacy.Supplier) (int64, error) {
	if s.ID != 0 {
		_, err := r.q.Exec(ctx, `UPDATE suppliers SET name = $2, lead_time_days = $3, contact_email = $4, last_updated = $5
WHERE id = $1`, s.ID, s.Name, s.LeadTimeDays, s.ContactEmail, s.LastUpdated)
		return s.ID, wrap("update supplier", err)
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO suppliers (code, name, lead_time_days, contact_email, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		s.Code, s.Name, s.LeadTimeDays, s.ContactEmail, s.CreatedAt, s.LastUpdated).Scan(&id)
	return id, wrap("insert supplier", err)
}

func (r *txRepo) SaveDrug(ctx context.Context, d pharmacy.Drug) (int64, error) {
	if d.ID != 0 {
		_, err := r.q.Exec(ctx, `UPDATE drugs SET name = $2, generic_name = $3, manufacturer = $4, category = $5,
unit_price = $6, stock_quantity = $7, min_stock_level = $8, max_stock_level = $9, expiry_date = $10,
supplier_code = $11, supplier_id = $12, last_updated = $13
WHERE id = $1`, d.ID, d.Name, d.GenericName, d.Manufacturer, string(d.Category), toNumeric(d.UnitPrice),
			d.StockQuantity, d.MinStockLevel, d.MaxStockLevel, toDate(d.ExpiryDate), d.SupplierCode,
			toInt8(d.SupplierID), d.LastUpdated)
		return d.ID, wrap("update drug", err)
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO drugs (code, name, generic_name, manufacturer, category, unit_price,
stock_quantity, min_stock_level, max_stock_level, expiry_date, supplier_code, supplier_id, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		d.Code, d.Name, d.GenericName, d.Manufacturer, string(d.Category), toNumeric(d.UnitPrice), d.StockQuantity,
		d.MinStockLevel, d.MaxStockLevel, toDate(d.ExpiryDate), d.SupplierCode, toInt8(d.SupplierID),
		d.CreatedAt, d.LastUpdated).Scan(&id)
	return id, wrap("insert drug", err)
}

func (r *txRepo) SavePatient(ctx context.Context, p pharmacy.Patient) (int64, error) {
	if p.ID != 0 {
		_, err := r.q.Exec(ctx, `UPDATE patients SET first_name = $2, last_name = $3, date_of_birth = $4, gender = $5,
primary_condition = $6, insurance_id = $7, last_updated = $8
WHERE id = $1`, p.ID, p.FirstName, p.LastName, p.DateOfBirth, string(p.Gender), p.PrimaryCondition,
			p.InsuranceID, p.LastUpdated)
		return p.ID, wrap("update patient", err)
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO patients (code, first_name, last_name, date_of_birth, gender,
primary_condition, insurance_id, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.Code, p.FirstName, p.LastName, p.DateOfBirth, string(p.Gender), p.PrimaryCondition, p.InsuranceID,
		p.CreatedAt, p.LastUpdated).Scan(&id)
	return id, wrap("insert patient", err)
}

func (r *txRepo) SavePrescription(ctx context.Context, p pharmacy.Prescription) (int64, error) {
	if p.ID != 0 {
		_, err := r.q.Exec(ctx, `UPDATE prescriptions SET patient_code = $2, patient_id = $3, drug_code = $4,
drug_id = $5, doctor_name = $6, date_prescribed = $7, duration_days = $8, refills_allowed = $9,
refills_used = $10, status = $11, last_updated = $12
WHERE id = $1`, p.ID, p.PatientCode, p.PatientID, p.DrugCode, p.DrugID, p.DoctorName, p.DatePrescribed,
			p.DurationDays, p.RefillsAllowed, p.RefillsUsed, string(p.Status), p.LastUpdated)
		return p.ID, wrap("update prescription", err)
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO prescriptions (code, patient_code, patient_id, drug_code, drug_id,
doctor_name, date_prescribed, duration_days, refills_allowed, refills_used, status, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		p.Code, p.PatientCode, p.PatientID, p.DrugCode, p.DrugID, p.DoctorName, p.DatePrescribed, p.DurationDays,
		p.RefillsAllowed, p.RefillsUsed, string(p.Status), p.CreatedAt, p.LastUpdated).Scan(&id)
	return id, wrap("insert prescription", err)
}

func (r *txRepo) SaveSale(ctx context.Context, s pharmacy.Sale) (int64, error) {
	if s.ID != 0 {
		_, err := r.q.Exec(ctx, `UPDATE sales SET drug_code = $2, drug_id = $3, sale_date = $4, quantity = $5,
unit_price = $6, discount = $7, tax_amount = $8, total_amount = $9, pharmacy_id = $10, payment_method = $11
WHERE id = $1`, s.ID, s.DrugCode, s.DrugID, s.SaleDate, s.Quantity, toNumeric(s.UnitPrice), toNumeric(s.Discount),
			toNumeric(s.TaxAmount), toNumeric(s.TotalAmount), s.PharmacyID, string(s.PaymentMethod))
		return s.ID, wrap("update sale", err)
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO sales (transaction_id, drug_code, drug_id, sale_date, quantity, unit_price,
discount, tax_amount, total_amount, pharmacy_id, payment_method, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		s.TransactionID, s.DrugCode, s.DrugID, s.SaleDate, s.Quantity, toNumeric(s.UnitPrice), toNumeric(s.Discount),
		toNumeric(s.TaxAmount), toNumeric(s.TotalAmount), s.PharmacyID, string(s.PaymentMethod), s.CreatedAt).Scan(&id)
	return id, wrap("insert sale", err)
}

func (r *txRepo) UpdateDrugStock(ctx context.Context, drugID int64, quantity int, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE drugs SET stock_quantity = $2, last_updated = $3 WHERE id = $1`, drugID, quantity, at)
	if err != nil {
		return wrap("update drug stock", err)
	}
	if tag.RowsAffected() == 0 {
		return pharmacy.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertInventoryTransaction(ctx context.Context, t pharmacy.InventoryTransaction) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO inventory_transactions (drug_id, transaction_type, quantity_change,
previous_quantity, new_quantity, reference_id, reference_type, run_id, notes, transaction_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.DrugID, string(t.Type), t.QuantityChange, t.PreviousQuantity, t.NewQuantity, t.ReferenceID,
		t.ReferenceType, t.RunID, t.Notes, t.TransactionDate).Scan(&id)
	return id, wrap("insert inventory transaction", err)
}

func (r *txRepo) InsertQualityLog(ctx context.Context, e pharmacy.QualityLogEntry) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO data_quality_log (run_id, table_name, check_name, records_checked,
issues_found, issue_rate, status, details, checked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		e.RunID, e.TableName, e.CheckName, e.RecordsChecked, e.IssuesFound, e.IssueRate, string(e.Status),
		e.Details, e.CheckedAt).Scan(&id)
	return id, wrap("insert quality log", err)
}

func (r *txRepo) RecordAudit(ctx context.Context, log pharmacy.AuditLog) error {
	meta, err := marshalMeta(log.Meta)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, log.Actor, log.Action, log.Entity, log.EntityID, meta, log.At)
	return wrap("record audit", err)
}
