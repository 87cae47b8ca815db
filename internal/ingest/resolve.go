package ingest

import (
	"context"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

// Resolvers map business codes onto surrogate ids. An empty code is left to
// the required rule.

func resolveDrug(ctx context.Context, tx store.Tx, d pharmacy.Drug) (pharmacy.Drug, error) {
	if d.SupplierCode == "" {
		return d, nil
	}
	supplier, found, err := lookup(tx.SupplierByCode(ctx, d.SupplierCode))
	if err != nil {
		return d, err
	}
	if !found {
		return d, pharmacy.Dangling("supplier_code", d.SupplierCode)
	}
	d.SupplierID = &supplier.ID
	return d, nil
}

func resolvePrescription(ctx context.Context, tx store.Tx, p pharmacy.Prescription) (pharmacy.Prescription, error) {
	if p.PatientCode != "" {
		patient, found, err := lookup(tx.PatientByCode(ctx, p.PatientCode))
		if err != nil {
			return p, err
		}
		if !found {
			return p, pharmacy.Dangling("patient_code", p.PatientCode)
		}
		p.PatientID = patient.ID
	}
	if p.DrugCode != "" {
		drug, err := drugID(ctx, tx, p.DrugCode)
		if err != nil {
			return p, err
		}
		p.DrugID = drug
	}
	return p, nil
}

func resolveSale(ctx context.Context, tx store.Tx, s pharmacy.Sale) (pharmacy.Sale, error) {
	if s.DrugCode == "" {
		return s, nil
	}
	id, err := drugID(ctx, tx, s.DrugCode)
	if err != nil {
		return s, err
	}
	s.DrugID = id
	return s, nil
}

func drugID(ctx context.Context, tx store.Tx, code string) (int64, error) {
	drug, found, err := lookup(tx.DrugByCode(ctx, code))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, pharmacy.Dangling("drug_code", code)
	}
	return drug.ID, nil
}
