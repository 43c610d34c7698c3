package completion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/app/service/subscription"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(store *ledger.Memory) *Service {
	cfg := &config.Config{
		Plans: []*types.SubscriptionPlan{
			{ID: "plan_monthly", Name: "Monthly", Price: 2900, BillingPeriod: types.BillingPeriodMonthly},
		},
	}
	subSvc := subscription.NewService(cfg, store, zap.NewNop().Sugar())
	return NewService(store, subSvc, zap.NewNop().Sugar())
}

func seedPendingTransaction(t *testing.T, store *ledger.Memory, purchaseCount int) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:            tool.GenerateUUIDV7(),
		TotalAmount:   10000,
		PaymentStatus: types.TransactionStatusPending,
		Environment:   types.EnvironmentSandbox,
		CreatedAt:     time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	for i := 0; i < purchaseCount; i++ {
		store.PutPurchase(&models.Purchase{
			ID:              tool.GenerateUUIDV7(),
			BuyerID:         "buyer-1",
			PurchasableType: types.PurchasableTypeCourse,
			PurchasableID:   "course-1",
			OriginalPrice:   10000,
			PaymentStatus:   types.PurchaseStatusPending,
			TransactionID:   lo.ToPtr(txn.ID),
		})
	}
	return txn
}

func TestProcessCompletionNotFound(t *testing.T) {
	svc := newTestService(ledger.NewMemory())
	_, err := svc.ProcessCompletion(context.Background(), "no-such-id", nil, types.CompletionSourceWebhook)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestProcessCompletionCascadesPurchases(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 3)

	res, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{
		TransactionUID: "gw-1",
		StatusCode:     "000",
		Raw:            json.RawMessage(`{"status_code":"000"}`),
	}, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, types.TransactionStatusCompleted, res.Status)
	require.EqualValues(t, 3, res.Summary.PurchasesCompleted)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.WebhookReceivedAt)
	require.NotNil(t, got.RaceConditionWinner)
	require.Equal(t, types.CompletionSourceWebhook, *got.RaceConditionWinner)

	purchases, err := store.ListTransactionPurchases(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, purchases, 3)
	for _, p := range purchases {
		require.Equal(t, types.PurchaseStatusCompleted, p.PaymentStatus)
	}
}

func TestProcessCompletionRaceHasOneWinner(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 2)

	sources := []types.CompletionSource{
		types.CompletionSourceWebhook,
		types.CompletionSourcePolling,
		types.CompletionSourceWebhook,
		types.CompletionSourcePolling,
		types.CompletionSourceAPI,
	}
	const rounds = 8

	var wg sync.WaitGroup
	results := make(chan *Result, len(sources)*rounds)
	for r := 0; r < rounds; r++ {
		for _, src := range sources {
			wg.Add(1)
			go func(src types.CompletionSource) {
				defer wg.Done()
				res, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{StatusCode: "000"}, src)
				require.NoError(t, err)
				results <- res
			}(src)
		}
	}
	wg.Wait()
	close(results)

	winners := 0
	for res := range results {
		if !res.AlreadyProcessed {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ProcessingAttempts)
	wonEntries := 0
	for _, e := range got.StatusHistory {
		if e.Outcome == models.HistoryOutcomeWonRace {
			wonEntries++
		}
	}
	require.Equal(t, 1, wonEntries)
}

func TestProcessCompletionSavesTokenAndActivatesSubscription(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 0)
	store.PutPurchase(&models.Purchase{
		ID:              tool.GenerateUUIDV7(),
		BuyerID:         "buyer-1",
		PurchasableType: types.PurchasableTypeSubscription,
		PurchasableID:   "plan_monthly",
		OriginalPrice:   2900,
		PaymentStatus:   types.PurchaseStatusPending,
		TransactionID:   lo.ToPtr(txn.ID),
	})

	res, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{
		StatusCode: "000",
		Token:      "tok_abc",
		CardBrand:  "Visa",
		FourDigits: "4242",
	}, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, 1, res.Summary.TokensSaved)
	require.Equal(t, 1, res.Summary.SubscriptionsActivated)
	require.Empty(t, res.Summary.HookErrors)

	tok, err := store.GetStoredToken(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Equal(t, "tok_abc", tok.Token)
	require.Equal(t, "4242", tok.Last4)
	require.Equal(t, txn.ID, tok.SourceTransactionID)

	recs := store.SubscriptionRecords()
	require.Len(t, recs, 1)
	require.Equal(t, types.SubscriptionStatusActive, recs[0].Status)
	require.Equal(t, "plan_monthly", recs[0].PlanID)
	require.True(t, recs[0].ExpiresAt.After(time.Now().Add(27*24*time.Hour)))
}

func TestProcessCompletionHookFailureDoesNotFailCompletion(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 1)
	// coupon "GONE" is not seeded, so the commit hook fails
	txn2, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	txn2.CouponSnapshot = []string{"GONE"}
	store.PutTransaction(txn2)

	res, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{StatusCode: "000"}, types.CompletionSourcePolling)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, types.TransactionStatusCompleted, res.Status)
	require.Len(t, res.Summary.HookErrors, 1)
	require.Contains(t, res.Summary.HookErrors[0], "commit_coupons")

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
}

func TestProcessCompletionCommitsCouponsAndDownloads(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	store.PutCoupon(&models.Coupon{Code: "SAVE10"})
	txn := seedPendingTransaction(t, store, 0)
	store.PutPurchase(&models.Purchase{
		ID:              tool.GenerateUUIDV7(),
		BuyerID:         "buyer-1",
		PurchasableType: types.PurchasableTypeFile,
		PurchasableID:   "file-9",
		OriginalPrice:   500,
		PaymentStatus:   types.PurchaseStatusPending,
		TransactionID:   lo.ToPtr(txn.ID),
	})
	withCoupon, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	withCoupon.CouponSnapshot = []string{"SAVE10"}
	store.PutTransaction(withCoupon)

	res, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{StatusCode: "000"}, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.CouponsCommitted)
	require.Equal(t, 1, res.Summary.DownloadsCounted)
	require.EqualValues(t, 1, store.Coupon("SAVE10").UsedCount)
	require.EqualValues(t, 1, store.Downloads("file-9"))
}

func TestHandleFailedTransaction(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 2)

	res, err := svc.HandleFailedTransaction(context.Background(), txn.ID, &GatewayPayload{
		StatusCode: "002",
		Status:     "declined",
	}, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, types.TransactionStatusFailed, res.Status)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusFailed, got.PaymentStatus)
	purchases, err := store.ListTransactionPurchases(context.Background(), txn.ID)
	require.NoError(t, err)
	for _, p := range purchases {
		require.Equal(t, types.PurchaseStatusFailed, p.PaymentStatus)
	}

	// a second failure report is a harmless duplicate
	res2, err := svc.HandleFailedTransaction(context.Background(), txn.ID, nil, types.CompletionSourcePolling)
	require.NoError(t, err)
	require.True(t, res2.AlreadyProcessed)
}

func TestHandleFailedLosesToCompletion(t *testing.T) {
	store := ledger.NewMemory()
	svc := newTestService(store)
	txn := seedPendingTransaction(t, store, 1)

	_, err := svc.ProcessCompletion(context.Background(), txn.ID, &GatewayPayload{StatusCode: "000"}, types.CompletionSourceWebhook)
	require.NoError(t, err)

	res, err := svc.HandleFailedTransaction(context.Background(), txn.ID, &GatewayPayload{StatusCode: "002"}, types.CompletionSourcePolling)
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
}

type unavailableStore struct {
	*ledger.Memory
	getErr error
}

func (s *unavailableStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Memory.GetTransaction(ctx, id)
}

func TestProcessCompletionStoreOutageIsNotNotFound(t *testing.T) {
	mem := ledger.NewMemory()
	txn := seedPendingTransaction(t, mem, 1)
	store := &unavailableStore{Memory: mem, getErr: errors.New("connection refused")}
	nop := zap.NewNop().Sugar()
	svc := NewService(store, subscription.NewService(&config.Config{}, store, nop), nop)

	_, err := svc.ProcessCompletion(context.Background(), txn.ID, nil, types.CompletionSourceWebhook)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransactionNotFound)

	_, err = svc.HandleFailedTransaction(context.Background(), txn.ID, nil, types.CompletionSourceWebhook)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransactionNotFound)

	// the transaction was never claimed and a retry can still win
	store.getErr = nil
	res, err := svc.ProcessCompletion(context.Background(), txn.ID, nil, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
}
