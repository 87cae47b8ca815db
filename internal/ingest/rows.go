package ingest

import (
	"strings"
	"unicode"
)

// Row is a raw field map as read from an upstream extract. Header names are
// free-form; they are canonicalised per entity kind before parsing.
type Row map[string]string

// aliases maps squashed header names onto canonical field names per kind.
var aliases = map[EntityKind]map[string]string{
	KindSuppliers: {
		"suppliercode": "code", "supplierid": "code", "code": "code",
		"suppliername": "name", "name": "name",
		"leadtimedays": "lead_time_days", "leadtime": "lead_time_days",
		"contactemail": "contact_email", "email": "contact_email",
	},
	KindDrugs: {
		"drugcode": "code", "drugid": "code", "productcode": "code", "code": "code",
		"drugname": "name", "productname": "name", "name": "name",
		"genericname": "generic_name",
		"manufacturer": "manufacturer", "mfr": "manufacturer",
		"category": "category",
		"unitprice": "unit_price", "price": "unit_price",
		"stockquantity": "stock_quantity", "stock": "stock_quantity",
		"minstocklevel": "min_stock_level", "minstock": "min_stock_level", "reorderlevel": "min_stock_level",
		"maxstocklevel": "max_stock_level", "maxstock": "max_stock_level",
		"expirydate": "expiry_date", "expiry": "expiry_date",
		"suppliercode": "supplier_code", "supplierid": "supplier_code", "supplier": "supplier_code",
	},
	KindPatients: {
		"patientcode": "code", "patientid": "code", "code": "code",
		"firstname": "first_name",
		"lastname": "last_name",
		"dateofbirth": "date_of_birth", "dob": "date_of_birth", "birthdate": "date_of_birth",
		"gender": "gender", "sex": "gender",
		"primarycondition": "primary_condition", "condition": "primary_condition",
		"insuranceid": "insurance_id", "insurance": "insurance_id",
	},
	KindPrescriptions: {
		"prescriptioncode": "code", "prescriptionid": "code", "rxid": "code", "code": "code",
		"patientcode": "patient_code", "patientid": "patient_code",
		"drugcode": "drug_code", "drugid": "drug_code",
		"doctorname": "doctor_name", "doctor": "doctor_name", "prescriber": "doctor_name",
		"dateprescribed": "date_prescribed", "prescribeddate": "date_prescribed",
		"durationdays": "duration_days", "duration": "duration_days",
		"refillsallowed": "refills_allowed",
		"refillsused": "refills_used",
		"status": "status",
	},
	KindSales: {
		"transactionid": "transaction_id", "txnid": "transaction_id",
		"drugcode": "drug_code", "drugid": "drug_code",
		"saledate": "sale_date", "date": "sale_date",
		"quantity": "quantity", "qty": "quantity",
		"unitprice": "unit_price", "price": "unit_price",
		"discount": "discount",
		"taxamount": "tax_amount", "tax": "tax_amount",
		"totalamount": "total_amount", "total": "total_amount",
		"pharmacyid": "pharmacy_id",
		"paymentmethod": "payment_method", "payment": "payment_method",
	},
}

// squash lower-cases s and drops everything but letters and digits, so
// "Drug Code", "drug_code" and "DrugCode" compare equal.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// canonical returns the row keyed by canonical field names with values
// trimmed. Unknown columns are dropped.
func canonical(kind EntityKind, row Row) map[string]string {
	table := aliases[kind]
	out := make(map[string]string, len(row))
	for key, value := range row {
		field, ok := table[squash(key)]
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if existing, dup := out[field]; dup && existing != "" && value == "" {
			continue
		}
		out[field] = value
	}
	return out
}
