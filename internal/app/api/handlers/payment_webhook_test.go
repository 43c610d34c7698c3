package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	notificationlog "github.com/brightseed/checkout/internal/app/service/notification_log"
	"github.com/brightseed/checkout/internal/app/service/subscription"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"
)

func newWebhookRouter(store *ledger.Memory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	nop := zap.NewNop().Sugar()
	arbiter := completion.NewService(store, subscription.NewService(&config.Config{}, store, nop), nop)
	r := gin.New()
	RegisterPaymentWebhookRoutes(r.Group("/api/v1/payment/webhook"), WebhookDeps{
		Store:    store,
		Arbiter:  arbiter,
		NotifLog: notificationlog.New(store, nop),
		Logger:   nop,
	})
	return r
}

func seedWebhookTransaction(t *testing.T, store *ledger.Memory) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:             tool.GenerateUUIDV7(),
		TotalAmount:    10000,
		PaymentStatus:  types.TransactionStatusPending,
		Environment:    types.EnvironmentSandbox,
		PageRequestUID: lo.ToPtr("page-77"),
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	store.PutPurchase(&models.Purchase{
		ID:              tool.GenerateUUIDV7(),
		BuyerID:         "buyer-1",
		PurchasableType: types.PurchasableTypeWorkshop,
		PurchasableID:   "ws-1",
		OriginalPrice:   10000,
		PaymentStatus:   types.PurchaseStatusPending,
		TransactionID:   lo.ToPtr(txn.ID),
	})
	return txn
}

func postWebhook(r *gin.Engine, payload map[string]any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook/payplus", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiPayPlusWebhook_CompletesByMoreInfo(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)
	txn := seedWebhookTransaction(t, store)

	w := postWebhook(r, map[string]any{
		"more_info":       txn.ID,
		"status_code":     "000",
		"transaction_uid": "gw-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":0`)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
	require.Equal(t, types.CompletionSourceWebhook, *got.RaceConditionWinner)
	require.NotNil(t, got.WebhookReceivedAt)
}

func TestApiPayPlusWebhook_MatchesByPageUID(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)
	txn := seedWebhookTransaction(t, store)

	w := postWebhook(r, map[string]any{
		"transaction": map[string]any{
			"page_request_uid": "page-77",
			"status_code":      "000",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
}

func TestApiPayPlusWebhook_DeclineFailsTransaction(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)
	txn := seedWebhookTransaction(t, store)

	w := postWebhook(r, map[string]any{
		"more_info":   txn.ID,
		"status_code": "002",
		"status":      "rejected",
	})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusFailed, got.PaymentStatus)
}

func TestApiPayPlusWebhook_InconclusiveStatusLeavesTransactionAlone(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)
	txn := seedWebhookTransaction(t, store)

	// a non-final notification must not kill a live payment page
	w := postWebhook(r, map[string]any{
		"more_info":   txn.ID,
		"status_code": "777",
		"status":      "pending_authorization",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ignored":true`)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusPending, got.PaymentStatus)

	// the payment can still complete afterwards
	require.Equal(t, http.StatusOK, postWebhook(r, map[string]any{
		"more_info":   txn.ID,
		"status_code": "000",
	}).Code)
	got, err = store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, types.TransactionStatusCompleted, got.PaymentStatus)
}

func TestApiPayPlusWebhook_DuplicateDeliveryIsHarmless(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)
	txn := seedWebhookTransaction(t, store)

	payload := map[string]any{"more_info": txn.ID, "status_code": "000"}
	require.Equal(t, http.StatusOK, postWebhook(r, payload).Code)
	w := postWebhook(r, payload)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"already_processed":true`)

	got, err := store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ProcessingAttempts)
}

func TestApiPayPlusWebhook_UnmatchedCallback(t *testing.T) {
	store := ledger.NewMemory()
	r := newWebhookRouter(store)

	w := postWebhook(r, map[string]any{"status_code": "000"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40000`)
}
