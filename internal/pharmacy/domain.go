// Package pharmacy holds the entities shared by the pipeline and the analytics
// engines: drugs, sales, patients, prescriptions, suppliers and the records the
// pipeline appends about itself.
package pharmacy

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrugCategory enumerates dispensing categories.
type DrugCategory string

const (
	CategoryPrescription DrugCategory = "Prescription"
	CategoryOTC          DrugCategory = "OTC"
	CategoryControlled   DrugCategory = "Controlled"
)

// DrugCategories lists the allowed categories in display order.
var DrugCategories = []DrugCategory{CategoryPrescription, CategoryOTC, CategoryControlled}

// PaymentMethod enumerates how a sale was settled.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "Cash"
	PaymentCreditCard PaymentMethod = "Credit Card"
	PaymentInsurance  PaymentMethod = "Insurance"
	PaymentDigital    PaymentMethod = "Digital"
)

// PaymentMethods lists the allowed payment methods.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCreditCard, PaymentInsurance, PaymentDigital}

// Gender enumerates patient gender values.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Genders lists the allowed gender values.
var Genders = []Gender{GenderMale, GenderFemale, GenderOther}

// PrescriptionStatus enumerates prescription lifecycle states.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "Active"
	PrescriptionCompleted PrescriptionStatus = "Completed"
	PrescriptionCancelled PrescriptionStatus = "Cancelled"
	PrescriptionExpired   PrescriptionStatus = "Expired"
)

// PrescriptionStatuses lists the allowed prescription states.
var PrescriptionStatuses = []PrescriptionStatus{PrescriptionActive, PrescriptionCompleted, PrescriptionCancelled, PrescriptionExpired}

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "Purchase"
	TransactionSale       TransactionType = "Sale"
	TransactionReturn     TransactionType = "Return"
	TransactionAdjustment TransactionType = "Adjustment"
	TransactionTransfer   TransactionType = "Transfer"
	TransactionExpired    TransactionType = "Expired"
)

// TransactionTypes lists the allowed inventory movement types.
var TransactionTypes = []TransactionType{
	TransactionPurchase, TransactionSale, TransactionReturn,
	TransactionAdjustment, TransactionTransfer, TransactionExpired,
}

// Supplier provides drugs with a known replenishment lead time.
type Supplier struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code" validate:"required,max=20"`
	Name         string    `json:"name" validate:"required,max=200"`
	LeadTimeDays int       `json:"lead_time_days" validate:"gte=0"`
	ContactEmail string    `json:"contact_email,omitempty" validate:"omitempty,email"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Drug is a stocked product. StockQuantity never goes negative.
type Drug struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code" validate:"required,max=20"`
	Name          string          `json:"name" validate:"required,max=200"`
	GenericName   string          `json:"generic_name,omitempty" validate:"max=200"`
	Manufacturer  string          `json:"manufacturer" validate:"required,max=100"`
	Category      DrugCategory    `json:"category" validate:"required,oneof=Prescription OTC Controlled"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gt=0"`
	StockQuantity int             `json:"stock_quantity" validate:"gte=0"`
	MinStockLevel int             `json:"min_stock_level" validate:"gte=0"`
	MaxStockLevel int             `json:"max_stock_level" validate:"gtefield=MinStockLevel"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SupplierCode  string          `json:"supplier_code,omitempty" validate:"max=20"`
	SupplierID    *int64          `json:"supplier_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Sale is a single dispensing transaction keyed by TransactionID.
type Sale struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id" validate:"required,max=50"`
	DrugCode      string          `json:"drug_code" validate:"required"`
	DrugID        int64           `json:"drug_id"`
	SaleDate      time.Time       `json:"sale_date" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gt=0"`
	Discount      decimal.Decimal `json:"discount" validate:"gte=0"`
	TaxAmount     decimal.Decimal `json:"tax_amount" validate:"gte=0"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PharmacyID    int             `json:"pharmacy_id" validate:"gte=0"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=Cash 'Credit Card' Insurance Digital"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Patient is a dispensing customer. Age is derived with Age, never stored.
type Patient struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code" validate:"required,max=20"`
	FirstName        string    `json:"first_name" validate:"required,max=100"`
	LastName         string    `json:"last_name" validate:"required,max=100"`
	DateOfBirth      time.Time `json:"date_of_birth" validate:"required"`
	Gender           Gender    `json:"gender" validate:"required,oneof=Male Female Other"`
	PrimaryCondition string    `json:"primary_condition,omitempty" validate:"max=200"`
	InsuranceID      string    `json:"insurance_id,omitempty" validate:"max=50"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Prescription links a patient to a drug.
type Prescription struct {
	ID             int64              `json:"id"`
	Code           string             `json:"code" validate:"required,max=20"`
	PatientCode    string             `json:"patient_code" validate:"required"`
	PatientID      int64              `json:"patient_id"`
	DrugCode       string             `json:"drug_code" validate:"required"`
	DrugID         int64              `json:"drug_id"`
	DoctorName     string             `json:"doctor_name" validate:"required,max=200"`
	DatePrescribed time.Time          `json:"date_prescribed" validate:"required"`
	DurationDays   int                `json:"duration_days" validate:"gte=0"`
	RefillsAllowed int                `json:"refills_allowed" validate:"gte=0"`
	RefillsUsed    int                `json:"refills_used" validate:"gte=0,ltefield=RefillsAllowed"`
	Status         PrescriptionStatus `json:"status" validate:"required,oneof=Active Completed Cancelled Expired"`
	CreatedAt      time.Time          `json:"created_at"`
	LastUpdated    time.Time          `json:"last_updated"`
}

// InventoryTransaction is an append-only stock movement. PreviousQuantity plus
// QuantityChange always equals NewQuantity.
type InventoryTransaction struct {
	ID               int64           `json:"id"`
	DrugID           int64           `json:"drug_id"`
	Type             TransactionType `json:"type"`
	QuantityChange   int             `json:"quantity_change"`
	PreviousQuantity int             `json:"previous_quantity"`
	NewQuantity      int             `json:"new_quantity"`
	ReferenceID      string          `json:"reference_id,omitempty"`
	ReferenceType    string          `json:"reference_type,omitempty"`
	RunID            string          `json:"run_id,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	TransactionDate  time.Time       `json:"transaction_date"`
}

// Reconciles reports whether the movement arithmetic is consistent.
func (t InventoryTransaction) Reconciles() bool {
	return t.PreviousQuantity+t.QuantityChange == t.NewQuantity
}

// AuditLog records ingestion corrections.
type AuditLog struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}
