package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAge(t *testing.T) {
	cases := []struct {
		dob, asOf string
		want      int
	}{
		{"1980-06-15", "2024-06-14", 43},
		{"1980-06-15", "2024-06-15", 44},
		{"2000-02-29", "2023-02-28", 22},
		{"2000-02-29", "2023-03-01", 23},
		{"2000-02-29", "2024-02-29", 24},
		{"2024-01-01", "2024-01-01", 0},
	}
	for _, tc := range cases {
		t.Run(tc.dob+"@"+tc.asOf, func(t *testing.T) {
			require.Equal(t, tc.want, Age(day(tc.dob), day(tc.asOf)))
		})
	}
}

func TestRowErrorMatchesSentinels(t *testing.T) {
	err := fmt.Errorf("row 3: %w", Insufficient("PAN500", 5, 10))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, ErrRuleViolation)
	require.NotErrorIs(t, err, ErrMalformedField)

	require.ErrorIs(t, Malformed("quantity", "not an integer"), ErrMalformedField)
	require.ErrorIs(t, Dangling("drug_code", "XYZ"), ErrDanglingReference)
	require.ErrorIs(t, ErrInsufficientStock, ErrRuleViolation)
}

func TestMapError(t *testing.T) {
	require.NoError(t, MapError(nil))
	require.ErrorIs(t, MapError(ErrRunConflict), ErrRunConflict)
	require.ErrorIs(t, MapError(Violation("quantity", "must be positive")), ErrRuleViolation)
	require.Equal(t, ErrStoreUnavailable, MapError(errors.New("dial tcp: connection refused")))
	require.Equal(t, ErrStoreUnavailable, MapError(fmt.Errorf("postgres: list drugs: %w: relation missing", ErrStoreUnavailable)))
	require.Equal(t, context.DeadlineExceeded, MapError(fmt.Errorf("read sales: %w", context.DeadlineExceeded)))
}

func TestRunTransitions(t *testing.T) {
	require.True(t, RunIdle.CanTransition(RunRunning))
	require.True(t, RunRunning.CanTransition(RunFailed))
	require.False(t, RunSucceeded.CanTransition(RunRunning))
	require.False(t, RunIdle.CanTransition(RunSucceeded))

	run := PipelineRun{ID: "r1", Status: RunRunning, StartedAt: day("2024-01-01")}
	require.NoError(t, run.Finish(RunSucceeded, day("2024-01-02"), 10, nil))
	require.Equal(t, 24*time.Hour, run.Duration())
	require.Equal(t, int64(86_400_000), run.DurationMS)
	require.Equal(t, []string{}, run.Errors)
	require.Error(t, run.Finish(RunFailed, day("2024-01-03"), 0, nil))
}

func TestSaleReconciles(t *testing.T) {
	sale := Sale{
		Quantity:    3,
		UnitPrice:   decimal.RequireFromString("12.50"),
		Discount:    decimal.RequireFromString("2.00"),
		TaxAmount:   decimal.RequireFromString("1.75"),
		TotalAmount: decimal.RequireFromString("37.25"),
	}
	require.True(t, sale.Reconciles(DefaultTolerance))

	sale.TotalAmount = decimal.RequireFromString("37.26")
	require.True(t, sale.Reconciles(DefaultTolerance))

	sale.TotalAmount = decimal.RequireFromString("37.27")
	require.False(t, sale.Reconciles(DefaultTolerance))
}

func TestChangesIgnoresIdentityAndTimestamps(t *testing.T) {
	expiry := day("2025-01-01")
	a := Drug{ID: 1, Code: "IBU400", Name: "Ibuprofen", UnitPrice: decimal.RequireFromString("4.5"), ExpiryDate: &expiry, LastUpdated: day("2024-01-01")}
	sameExpiry := day("2025-01-01")
	b := Drug{ID: 9, Code: "IBU400", Name: "Ibuprofen", UnitPrice: decimal.RequireFromString("4.50"), ExpiryDate: &sameExpiry, LastUpdated: day("2024-05-01")}
	require.Empty(t, a.Changes(b))

	b.StockQuantity = 40
	b.ExpiryDate = nil
	require.ElementsMatch(t, []string{"stock_quantity", "expiry_date"}, a.Changes(b))
}
