// Package inventory posts stock movements: every change to a drug's stock is
// paired with an appended InventoryTransaction inside the same transaction.
package inventory

import (
	"errors"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// Movement describes a requested stock change for one drug.
type Movement struct {
	DrugID        int64
	DrugCode      string
	Type          pharmacy.TransactionType
	QtyChange     int
	ReferenceID   string
	ReferenceType string
	RunID         string
	Note          string
	At            time.Time
}

// ErrInvalidQuantity indicates a zero quantity movement.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
