package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
	"github.com/medtrack/medtrack-analytics/internal/store/memory"
)

var at = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *memory.Store, code string, stock int) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.SaveDrug(ctx, pharmacy.Drug{Code: code, Name: code, UnitPrice: decimal.NewFromInt(2), StockQuantity: stock})
		return err
	}))
	return id
}

func stockOf(t *testing.T, s *memory.Store, id int64) int {
	t.Helper()
	var qty int
	require.NoError(t, s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		drugs, err := r.ListDrugs(ctx)
		for _, d := range drugs {
			if d.ID == id {
				qty = d.StockQuantity
			}
		}
		return err
	}))
	return qty
}

func TestPostSaleDecrementsAndAppends(t *testing.T) {
	s := memory.New()
	id := seed(t, s, "PAN500", 150)
	ledger := NewLedger()

	var entry pharmacy.InventoryTransaction
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, err = ledger.Post(ctx, tx, Movement{DrugID: id, DrugCode: "PAN500", Type: pharmacy.TransactionSale, QtyChange: -10, ReferenceID: "T1", At: at})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 150, entry.PreviousQuantity)
	require.Equal(t, 140, entry.NewQuantity)
	require.True(t, entry.Reconciles())
	require.Equal(t, 140, stockOf(t, s, id))
}

func TestPostAllRejectsWithoutPartialWrites(t *testing.T) {
	s := memory.New()
	id := seed(t, s, "IBU400", 5)
	ledger := NewLedger()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.PostAll(ctx, tx,
			Movement{DrugID: id, DrugCode: "IBU400", Type: pharmacy.TransactionReturn, QtyChange: 3, At: at},
			Movement{DrugID: id, DrugCode: "IBU400", Type: pharmacy.TransactionSale, QtyChange: -9, At: at},
		)
		require.ErrorIs(t, err, pharmacy.ErrInsufficientStock)

		txs, err := tx.ListInventoryTransactions(ctx, store.TransactionFilter{})
		require.NoError(t, err)
		require.Empty(t, txs)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, stockOf(t, s, id))
}

func TestPostAllAppliesRunningBalance(t *testing.T) {
	s := memory.New()
	id := seed(t, s, "IBU400", 5)
	ledger := NewLedger()

	var posted []pharmacy.InventoryTransaction
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		posted, err = ledger.PostAll(ctx, tx,
			Movement{DrugID: id, DrugCode: "IBU400", Type: pharmacy.TransactionReturn, QtyChange: 3, At: at},
			Movement{DrugID: id, DrugCode: "IBU400", Type: pharmacy.TransactionSale, QtyChange: -8, At: at},
		)
		return err
	}))
	require.Len(t, posted, 2)
	require.Equal(t, 8, posted[0].NewQuantity)
	require.Equal(t, 8, posted[1].PreviousQuantity)
	require.Equal(t, 0, posted[1].NewQuantity)
	require.Equal(t, 0, stockOf(t, s, id))
}

func TestZeroQuantityRejected(t *testing.T) {
	s := memory.New()
	id := seed(t, s, "LIS20", 1)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := NewLedger().Post(ctx, tx, Movement{DrugID: id, Type: pharmacy.TransactionAdjustment, At: at})
		return err
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
