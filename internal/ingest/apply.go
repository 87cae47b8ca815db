package ingest

import (
	"context"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/inventory"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

func (l *Loader) applySupplier(ctx context.Context, tx store.Tx, s pharmacy.Supplier, env batchEnv) (Outcome, error) {
	existing, found, err := lookup(tx.SupplierByCode(ctx, s.Code))
	if err != nil {
		return "", err
	}
	now := l.now()
	if !found {
		s.Touch(now)
		_, err := tx.SaveSupplier(ctx, s)
		return OutcomeInserted, err
	}
	changed := existing.Changes(s)
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}
	s.ID, s.CreatedAt = existing.ID, existing.CreatedAt
	s.Touch(now)
	if _, err := tx.SaveSupplier(ctx, s); err != nil {
		return "", err
	}
	return OutcomeCorrected, l.correction(ctx, tx, env, KindSuppliers, s.Code, changed)
}

func (l *Loader) applyDrug(ctx context.Context, tx store.Tx, d pharmacy.Drug, env batchEnv) (Outcome, error) {
	existing, found, err := lookup(tx.DrugByCode(ctx, d.Code))
	if err != nil {
		return "", err
	}
	now := l.now()

	if !found {
		// The extract's stock is opening stock and enters through the ledger
		// so every unit on hand has a matching transaction.
		opening := d.StockQuantity
		d.StockQuantity = 0
		d.Touch(now)
		id, err := tx.SaveDrug(ctx, d)
		if err != nil {
			return "", err
		}
		if opening > 0 {
			if _, err := l.ledger.Post(ctx, tx, l.adjustment(id, d.Code, opening, "opening stock", env, now)); err != nil {
				return "", err
			}
		}
		return OutcomeInserted, nil
	}

	// Once a drug exists its stock is owned by the ledger. The extract's
	// figure is compared with the stock it declared earlier, so a re-run
	// leaves sales in place while a revised figure posts the difference.
	declared, err := declaredStock(ctx, tx, existing.ID)
	if err != nil {
		return "", err
	}
	delta := d.StockQuantity - declared
	d.StockQuantity = existing.StockQuantity
	changed := existing.Changes(d)
	if delta != 0 {
		changed = append(changed, "stock_quantity")
	}
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}
	if delta != 0 {
		posted, err := l.ledger.Post(ctx, tx, l.adjustment(existing.ID, d.Code, delta, "stock correction", env, now))
		if err != nil {
			return "", err
		}
		d.StockQuantity = posted.NewQuantity
	}
	d.ID, d.CreatedAt = existing.ID, existing.CreatedAt
	d.Touch(now)
	if _, err := tx.SaveDrug(ctx, d); err != nil {
		return "", err
	}
	return OutcomeCorrected, l.correction(ctx, tx, env, KindDrugs, d.Code, changed)
}

// declaredStock sums the adjustments posted from drug rows: the opening
// stock plus every later correction.
func declaredStock(ctx context.Context, tx store.Tx, drugID int64) (int, error) {
	txns, err := tx.ListInventoryTransactions(ctx, store.TransactionFilter{DrugID: drugID})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, t := range txns {
		if t.Type == pharmacy.TransactionAdjustment && t.ReferenceType == "drug" {
			total += t.QuantityChange
		}
	}
	return total, nil
}

func (l *Loader) adjustment(drugID int64, code string, delta int, note string, env batchEnv, at time.Time) inventory.Movement {
	return inventory.Movement{
		DrugID:        drugID,
		DrugCode:      code,
		Type:          pharmacy.TransactionAdjustment,
		QtyChange:     delta,
		ReferenceID:   code,
		ReferenceType: "drug",
		RunID:         env.runID,
		Note:          note,
		At:            at,
	}
}

func (l *Loader) saleMovement(s pharmacy.Sale, env batchEnv, at time.Time) inventory.Movement {
	return inventory.Movement{
		DrugID:        s.DrugID,
		DrugCode:      s.DrugCode,
		Type:          pharmacy.TransactionSale,
		QtyChange:     -s.Quantity,
		ReferenceID:   s.TransactionID,
		ReferenceType: "sale",
		RunID:         env.runID,
		At:            at,
	}
}

func (l *Loader) applyPatient(ctx context.Context, tx store.Tx, p pharmacy.Patient, env batchEnv) (Outcome, error) {
	existing, found, err := lookup(tx.PatientByCode(ctx, p.Code))
	if err != nil {
		return "", err
	}
	now := l.now()
	if !found {
		p.Touch(now)
		_, err := tx.SavePatient(ctx, p)
		return OutcomeInserted, err
	}
	changed := existing.Changes(p)
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}
	p.ID, p.CreatedAt = existing.ID, existing.CreatedAt
	p.Touch(now)
	if _, err := tx.SavePatient(ctx, p); err != nil {
		return "", err
	}
	return OutcomeCorrected, l.correction(ctx, tx, env, KindPatients, p.Code, changed)
}

func (l *Loader) applyPrescription(ctx context.Context, tx store.Tx, p pharmacy.Prescription, env batchEnv) (Outcome, error) {
	existing, found, err := lookup(tx.PrescriptionByCode(ctx, p.Code))
	if err != nil {
		return "", err
	}
	now := l.now()
	if !found {
		p.Touch(now)
		_, err := tx.SavePrescription(ctx, p)
		return OutcomeInserted, err
	}
	changed := existing.Changes(p)
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}
	p.ID, p.CreatedAt = existing.ID, existing.CreatedAt
	p.Touch(now)
	if _, err := tx.SavePrescription(ctx, p); err != nil {
		return "", err
	}
	return OutcomeCorrected, l.correction(ctx, tx, env, KindPrescriptions, p.Code, changed)
}

func (l *Loader) applySale(ctx context.Context, tx store.Tx, s pharmacy.Sale, env batchEnv) (Outcome, error) {
	existing, found, err := lookup(tx.SaleByTransactionID(ctx, s.TransactionID))
	if err != nil {
		return "", err
	}
	now := l.now()
	if !found {
		if _, err := l.ledger.Post(ctx, tx, l.saleMovement(s, env, now)); err != nil {
			return "", err
		}
		s.CreatedAt = now
		_, err := tx.SaveSale(ctx, s)
		return OutcomeInserted, err
	}

	changed := existing.Changes(s)
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}
	if existing.DrugID != s.DrugID || existing.Quantity != s.Quantity {
		restock := inventory.Movement{
			DrugID:        existing.DrugID,
			DrugCode:      existing.DrugCode,
			Type:          pharmacy.TransactionReturn,
			QtyChange:     existing.Quantity,
			ReferenceID:   s.TransactionID,
			ReferenceType: "sale_correction",
			RunID:         env.runID,
			Note:          "reverse corrected sale",
			At:            now,
		}
		if _, err := l.ledger.PostAll(ctx, tx, restock, l.saleMovement(s, env, now)); err != nil {
			return "", err
		}
	}
	s.ID, s.CreatedAt = existing.ID, existing.CreatedAt
	if _, err := tx.SaveSale(ctx, s); err != nil {
		return "", err
	}
	return OutcomeCorrected, l.correction(ctx, tx, env, KindSales, s.TransactionID, changed)
}
