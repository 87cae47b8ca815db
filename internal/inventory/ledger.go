package inventory

import (
	"context"
	"fmt"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Ledger applies movements against the drug rows of a store transaction.
type Ledger struct{}

// NewLedger builds Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Post applies a single movement. See PostAll.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, m Movement) (pharmacy.InventoryTransaction, error) {
	posted, err := l.PostAll(ctx, tx, m)
	if err != nil {
		return pharmacy.InventoryTransaction{}, err
	}
	return posted[0], nil
}

// PostAll locks every affected drug, checks that no running balance drops
// below zero and only then applies the movements in order. When a balance
// would go negative it returns a pharmacy.ErrInsufficientStock row error and
// nothing is written.
func (l *Ledger) PostAll(ctx context.Context, tx store.Tx, moves ...Movement) ([]pharmacy.InventoryTransaction, error) {
	balances := make(map[int64]int, len(moves))
	for _, m := range moves {
		if m.QtyChange == 0 {
			return nil, ErrInvalidQuantity
		}
		if _, ok := balances[m.DrugID]; ok {
			continue
		}
		drug, err := tx.DrugForUpdate(ctx, m.DrugID)
		if err != nil {
			return nil, fmt.Errorf("inventory: lock drug %d: %w", m.DrugID, err)
		}
		balances[m.DrugID] = drug.StockQuantity
	}

	planned := make([]pharmacy.InventoryTransaction, 0, len(moves))
	for _, m := range moves {
		prev := balances[m.DrugID]
		next := prev + m.QtyChange
		if next < 0 {
			return nil, pharmacy.Insufficient(m.DrugCode, prev, -m.QtyChange)
		}
		balances[m.DrugID] = next
		planned = append(planned, pharmacy.InventoryTransaction{
			DrugID:           m.DrugID,
			Type:             m.Type,
			QuantityChange:   m.QtyChange,
			PreviousQuantity: prev,
			NewQuantity:      next,
			ReferenceID:      m.ReferenceID,
			ReferenceType:    m.ReferenceType,
			RunID:            m.RunID,
			Notes:            m.Note,
			TransactionDate:  m.At,
		})
	}

	for i := range planned {
		entry := &planned[i]
		if err := tx.UpdateDrugStock(ctx, entry.DrugID, entry.NewQuantity, entry.TransactionDate); err != nil {
			return nil, fmt.Errorf("inventory: update stock: %w", err)
		}
		id, err := tx.InsertInventoryTransaction(ctx, *entry)
		if err != nil {
			return nil, fmt.Errorf("inventory: append transaction: %w", err)
		}
		entry.ID = id
	}
	return planned, nil
}
