package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/store"
)

func seedDrug(t *testing.T, s *Store, code string, stock int) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.SaveDrug(ctx, pharmacy.Drug{Code: code, Name: code, UnitPrice: decimal.NewFromInt(1), StockQuantity: stock})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	id := seedDrug(t, s, "PAN500", 150)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.UpdateDrugStock(ctx, id, 140, time.Now()))
		_, err := tx.InsertInventoryTransaction(ctx, pharmacy.InventoryTransaction{DrugID: id, QuantityChange: -10, PreviousQuantity: 150, NewQuantity: 140})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		drugs, err := r.ListDrugs(ctx)
		require.NoError(t, err)
		require.Equal(t, 150, drugs[0].StockQuantity)
		txs, err := r.ListInventoryTransactions(ctx, store.TransactionFilter{})
		require.NoError(t, err)
		require.Empty(t, txs)
		return nil
	}))
}

func TestSnapshotIsIsolatedFromLaterCommits(t *testing.T) {
	s := New()
	id := seedDrug(t, s, "IBU400", 25)

	err := s.Snapshot(context.Background(), func(ctx context.Context, r store.Reader) error {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.UpdateDrugStock(ctx, id, 5, time.Now())
		}))
		drugs, err := r.ListDrugs(ctx)
		require.NoError(t, err)
		require.Equal(t, 25, drugs[0].StockQuantity)
		return nil
	})
	require.NoError(t, err)
}

func TestLookupsByNaturalKey(t *testing.T) {
	s := New()
	id := seedDrug(t, s, "LIS20", 10)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := tx.DrugByCode(ctx, "LIS20")
		require.NoError(t, err)
		require.Equal(t, id, d.ID)

		_, err = tx.DrugByCode(ctx, "NOPE")
		require.ErrorIs(t, err, pharmacy.ErrNotFound)

		d.Name = "Lisinopril"
		again, err := tx.SaveDrug(ctx, d)
		require.NoError(t, err)
		require.Equal(t, id, again)
		return nil
	}))
}

func TestResolveQualityEntry(t *testing.T) {
	s := New()
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.InsertQualityLog(ctx, pharmacy.QualityLogEntry{TableName: "sales", CheckName: "accuracy", Status: pharmacy.QualityWarning})
		return err
	}))

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entry, err := s.ResolveQualityEntry(context.Background(), id, "ops", at)
	require.NoError(t, err)
	require.True(t, entry.Resolved)
	require.Equal(t, "ops", entry.ResolvedBy)

	_, err = s.ResolveQualityEntry(context.Background(), id+100, "ops", at)
	require.ErrorIs(t, err, pharmacy.ErrNotFound)
}

func TestRunRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.LatestRun(ctx)
	require.ErrorIs(t, err, pharmacy.ErrNotFound)

	start := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(ctx, pharmacy.PipelineRun{ID: "a", Status: pharmacy.RunRunning, StartedAt: start}))
	require.NoError(t, s.InsertRun(ctx, pharmacy.PipelineRun{ID: "b", Status: pharmacy.RunRunning, StartedAt: start.Add(time.Hour)}))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", latest.ID)

	latest.Status = pharmacy.RunSucceeded
	require.NoError(t, s.UpdateRun(ctx, latest))
	running, err := s.ListRuns(ctx, pharmacy.RunRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "a", running[0].ID)

	require.ErrorIs(t, s.UpdateRun(ctx, pharmacy.PipelineRun{ID: "zzz"}), pharmacy.ErrNotFound)
}
