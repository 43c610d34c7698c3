package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestTransitionTransactionIsExclusive(t *testing.T) {
	m := NewMemory()
	txn := &models.Transaction{ID: "t-1", PaymentStatus: types.TransactionStatusPending}
	require.NoError(t, m.CreateTransaction(context.Background(), txn))

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.TransitionTransaction(context.Background(), "t-1",
				[]types.TransactionStatus{types.TransactionStatusPending},
				types.TransactionStatusCompleted, nil)
			if err != nil {
				errs <- err
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestTransitionTransactionRequiresExpectedStatus(t *testing.T) {
	m := NewMemory()
	txn := &models.Transaction{ID: "t-1", PaymentStatus: types.TransactionStatusCompleted}
	require.NoError(t, m.CreateTransaction(context.Background(), txn))

	won, err := m.TransitionTransaction(context.Background(), "t-1",
		[]types.TransactionStatus{types.TransactionStatusPending, types.TransactionStatusInProgress},
		types.TransactionStatusFailed, nil)
	require.NoError(t, err)
	require.False(t, won)

	got, err := m.GetTransaction(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
}

func TestAppendStatusHistoryPreservesOrder(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.CreateTransaction(context.Background(), &models.Transaction{
		ID: "t-1", PaymentStatus: types.TransactionStatusPending,
	}))

	for _, outcome := range []string{models.HistoryOutcomeDispatched, models.HistoryOutcomePollChecked, models.HistoryOutcomeWonRace} {
		require.NoError(t, m.AppendStatusHistory(context.Background(), "t-1", models.StatusHistoryEntry{
			At: time.Now(), Outcome: outcome,
		}))
	}

	got, err := m.GetTransaction(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, got.StatusHistory, 3)
	require.Equal(t, models.HistoryOutcomeDispatched, got.StatusHistory[0].Outcome)
	require.Equal(t, models.HistoryOutcomeWonRace, got.StatusHistory[2].Outcome)
}

func TestUnlinkPurchasesNeverTouchesCompleted(t *testing.T) {
	m := NewMemory()
	m.PutPurchase(&models.Purchase{
		ID: "p-1", BuyerID: "b", PaymentStatus: types.PurchaseStatusCompleted, TransactionID: lo.ToPtr("t-1"),
	})
	m.PutPurchase(&models.Purchase{
		ID: "p-2", BuyerID: "b", PaymentStatus: types.PurchaseStatusPending, TransactionID: lo.ToPtr("t-1"),
	})

	require.NoError(t, m.UnlinkPurchases(context.Background(), []string{"p-1", "p-2"}, "reset"))

	rows, err := m.ListTransactionPurchases(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "p-1", rows[0].ID)
	require.Equal(t, types.PurchaseStatusCompleted, rows[0].PaymentStatus)
}

func TestFindStaleTransactionsFiltersAndLimits(t *testing.T) {
	m := NewMemory()
	mk := func(id string, status types.TransactionStatus, page string, age time.Duration) {
		txn := &models.Transaction{
			ID:            id,
			PaymentStatus: status,
			CreatedAt:     time.Now().Add(-age),
		}
		if page != "" {
			txn.PageRequestUID = lo.ToPtr(page)
		}
		require.NoError(t, m.CreateTransaction(context.Background(), txn))
	}
	mk("t-1", types.TransactionStatusPending, "page-1", time.Minute)
	mk("t-2", types.TransactionStatusPending, "", time.Minute)         // no hosted page yet
	mk("t-3", types.TransactionStatusCompleted, "page-3", time.Minute) // terminal
	mk("t-4", types.TransactionStatusPending, "page-4", 72*time.Hour)  // older than maxAge
	mk("t-5", types.TransactionStatusInProgress, "page-5", time.Hour)

	rows, err := m.FindStaleTransactions(context.Background(), 10, 48*time.Hour)
	require.NoError(t, err)
	ids := lo.Map(rows, func(t *models.Transaction, _ int) string { return t.ID })
	require.ElementsMatch(t, []string{"t-1", "t-5"}, ids)

	rows, err = m.FindStaleTransactions(context.Background(), 1, 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
