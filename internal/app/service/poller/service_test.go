package poller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/app/service/subscription"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/internal/platform/payplus"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]*payplus.StatusResult
	calls    int
	started  chan struct{}
	release  chan struct{}
}

func (g *stubGateway) GeneratePaymentLink(context.Context, *payplus.PaymentLinkRequest) (*payplus.PaymentLinkResult, error) {
	return nil, nil
}

func (g *stubGateway) ChargeToken(context.Context, *payplus.TokenChargeRequest) (*payplus.TokenChargeResult, error) {
	return nil, nil
}

func (g *stubGateway) CheckChargeStatus(context.Context, string) (*payplus.StatusResult, error) {
	return &payplus.StatusResult{}, nil
}

func (g *stubGateway) CheckPaymentStatus(_ context.Context, pageUID string) (*payplus.StatusResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
		<-g.release
	}
	st, ok := g.statuses[pageUID]
	if !ok {
		return &payplus.StatusResult{}, nil
	}
	return st, nil
}

func newTestPoller(store *ledger.Memory, gw payplus.Client) *Service {
	cfg := &config.Config{
		Poller: config.PollerConfig{BatchLimit: 50},
	}
	nop := zap.NewNop().Sugar()
	arbiter := completion.NewService(store, subscription.NewService(cfg, store, nop), nop)
	return NewService(cfg, store, gw, arbiter, nop)
}

func seedStaleTransaction(t *testing.T, store *ledger.Memory, pageUID string, expired bool) *models.Transaction {
	t.Helper()
	expiresAt := time.Now().Add(time.Hour)
	if expired {
		expiresAt = time.Now().Add(-time.Hour)
	}
	txn := &models.Transaction{
		ID:             tool.GenerateUUIDV7(),
		TotalAmount:    10000,
		PaymentStatus:  types.TransactionStatusPending,
		Environment:    types.EnvironmentSandbox,
		PageRequestUID: lo.ToPtr(pageUID),
		ExpiresAt:      &expiresAt,
		CreatedAt:      time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	store.PutPurchase(&models.Purchase{
		ID:              tool.GenerateUUIDV7(),
		BuyerID:         "buyer-1",
		PurchasableType: types.PurchasableTypeCourse,
		PurchasableID:   "course-1",
		OriginalPrice:   10000,
		PaymentStatus:   types.PurchaseStatusPending,
		TransactionID:   lo.ToPtr(txn.ID),
	})
	return txn
}

func TestPollRecoversMissedCompletion(t *testing.T) {
	store := ledger.NewMemory()
	gw := &stubGateway{statuses: map[string]*payplus.StatusResult{
		"page-1": {StatusCode: "000", Status: "approved", Raw: json.RawMessage(`{"status_code":"000"}`)},
	}}
	svc := newTestPoller(store, gw)
	txn := seedStaleTransaction(t, store, "page-1", false)

	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Completed)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
	require.NotNil(t, got.RaceConditionWinner)
	require.Equal(t, types.CompletionSourcePolling, *got.RaceConditionWinner)
	require.NotNil(t, got.StatusLastCheckedAt)
}

func TestPollMarksDeclined(t *testing.T) {
	store := ledger.NewMemory()
	gw := &stubGateway{statuses: map[string]*payplus.StatusResult{
		"page-1": {Status: "rejected", StatusCode: "002"},
	}}
	svc := newTestPoller(store, gw)
	txn := seedStaleTransaction(t, store, "page-1", false)

	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusFailed, got.PaymentStatus)
}

func TestPollInconclusiveStatusLeavesPending(t *testing.T) {
	store := ledger.NewMemory()
	gw := &stubGateway{statuses: map[string]*payplus.StatusResult{
		"page-1": {Status: "", StatusCode: ""},
	}}
	svc := newTestPoller(store, gw)
	txn := seedStaleTransaction(t, store, "page-1", false)

	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.StillPending)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusPending, got.PaymentStatus)
}

func TestPollExpiresOverduePage(t *testing.T) {
	store := ledger.NewMemory()
	gw := &stubGateway{}
	svc := newTestPoller(store, gw)
	txn := seedStaleTransaction(t, store, "page-1", true)

	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)
	require.Zero(t, gw.calls)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusExpired, got.PaymentStatus)

	// purchases are released back into the cart
	purchases, err := store.ListTransactionPurchases(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Empty(t, purchases)
}

func TestPollDoesNotDuplicateCompletionSideEffects(t *testing.T) {
	store := ledger.NewMemory()
	store.PutCoupon(&models.Coupon{Code: "SAVE10"})
	gw := &stubGateway{statuses: map[string]*payplus.StatusResult{
		"page-1": {StatusCode: "000"},
	}}
	svc := newTestPoller(store, gw)
	txn := seedStaleTransaction(t, store, "page-1", false)
	withCoupon, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	withCoupon.CouponSnapshot = []string{"SAVE10"}
	store.PutTransaction(withCoupon)

	// webhook wins first
	nop := zap.NewNop().Sugar()
	arbiter := completion.NewService(store, subscription.NewService(&config.Config{}, store, nop), nop)
	_, err = arbiter.ProcessCompletion(context.Background(), txn.ID,
		&completion.GatewayPayload{StatusCode: "000"}, types.CompletionSourceWebhook)
	require.NoError(t, err)
	require.EqualValues(t, 1, store.Coupon("SAVE10").UsedCount)

	// completed transactions are not stale, so the cycle sees nothing
	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Checked)
	require.EqualValues(t, 1, store.Coupon("SAVE10").UsedCount)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.CompletionSourceWebhook, *got.RaceConditionWinner)
}

func TestPollCyclesAreSingleFlight(t *testing.T) {
	store := ledger.NewMemory()
	gw := &stubGateway{
		statuses: map[string]*payplus.StatusResult{},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	svc := newTestPoller(store, gw)
	seedStaleTransaction(t, store, "page-1", false)

	done := make(chan error, 1)
	go func() {
		_, err := svc.PollAllPending(context.Background())
		done <- err
	}()

	<-gw.started
	report, err := svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Zero(t, report.Checked)

	close(gw.release)
	require.NoError(t, <-done)

	report, err = svc.PollAllPending(context.Background())
	require.NoError(t, err)
	require.False(t, report.Skipped)
}
