package payplus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightseed/checkout/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{PayPlus: config.PayPlusConfig{
		APIKey:         "key",
		SecretKey:      "secret",
		PaymentPageUID: "page-uid",
		SandboxBaseURL: srv.URL,
		Currency:       "ILS",
		CallbackURL:    "https://checkout.example/webhook",
	}}
	return NewClient(cfg, zap.NewNop().Sugar()), srv
}

func TestGeneratePaymentLink(t *testing.T) {
	var gotBody map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1.0/PaymentPages/generateLink", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("api-key"))
		require.Equal(t, "secret", r.Header.Get("secret-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success", "code": "0"},
			"data": map[string]any{
				"page_request_uid":  "pr-1",
				"payment_page_link": "https://payplus.example/pay/pr-1",
			},
		})
	})

	res, err := c.GeneratePaymentLink(context.Background(), &PaymentLinkRequest{
		MoreInfo: "txn-1",
		Amount:   12550,
	})
	require.NoError(t, err)
	require.Equal(t, "pr-1", res.PageRequestUID)
	require.Equal(t, "https://payplus.example/pay/pr-1", res.PaymentPageURL)

	// amounts cross the wire in currency units, not agorot
	require.InDelta(t, 125.50, gotBody["amount"], 0.001)
	require.Equal(t, "txn-1", gotBody["more_info"])
	require.Equal(t, "page-uid", gotBody["payment_page_uid"])
}

func TestGeneratePaymentLinkRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "error", "code": "401", "description": "bad credentials"},
		})
	})

	_, err := c.GeneratePaymentLink(context.Background(), &PaymentLinkRequest{MoreInfo: "txn-1", Amount: 100})
	require.ErrorContains(t, err, "bad credentials")
}

func TestCheckPaymentStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1.0/PaymentPages/ipn", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success"},
			"data": map[string]any{
				"status_code":     "000",
				"status":          "approved",
				"transaction_uid": "gw-9",
				"more_info":       "txn-9",
				"token":           "tok_1",
				"brand_name":      "Mastercard",
				"four_digits":     "1234",
			},
		})
	})

	st, err := c.CheckPaymentStatus(context.Background(), "pr-9")
	require.NoError(t, err)
	require.Equal(t, "000", st.StatusCode)
	require.Equal(t, "approved", st.Status)
	require.Equal(t, "txn-9", st.MoreInfo)
	require.Equal(t, "Mastercard", st.CardBrand)
	require.NotEmpty(t, st.Raw)
}

func TestChargeToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1.0/Transactions/Charge", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success"},
			"data":    map[string]any{"transaction_uid": "gw-3", "status_code": "000"},
		})
	})

	res, err := c.ChargeToken(context.Background(), &TokenChargeRequest{
		Token: "tok_1", Amount: 5000, BuyerID: "buyer-1", TransactionID: "txn-3",
	})
	require.NoError(t, err)
	require.True(t, res.Approved)
	require.Equal(t, "gw-3", res.GatewayTxnUID)
}

func TestChargeTokenDeclined(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success"},
			"data":    map[string]any{"status_code": "002"},
		})
	})

	res, err := c.ChargeToken(context.Background(), &TokenChargeRequest{Token: "tok_1", Amount: 5000})
	require.NoError(t, err)
	require.False(t, res.Approved)
	require.Equal(t, "002", res.StatusCode)
}

func TestGatewayHTTPErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CheckPaymentStatus(context.Background(), "pr-1")
	require.ErrorContains(t, err, "status 500")
}

func TestCheckChargeStatus(t *testing.T) {
	var gotBody map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1.0/PaymentPages/ipn", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success"},
			"data": map[string]any{
				"status_code":     "000",
				"transaction_uid": "gw-9",
				"more_info":       "txn-9",
			},
		})
	})

	res, err := c.CheckChargeStatus(context.Background(), "txn-9")
	require.NoError(t, err)
	require.Equal(t, "txn-9", gotBody["more_info"])
	require.Equal(t, "gw-9", res.TransactionUID)
	require.True(t, res.Paid())
}

func TestStatusResultClassification(t *testing.T) {
	require.True(t, (&StatusResult{StatusCode: "000"}).Paid())
	require.True(t, (&StatusResult{Status: "Approved"}).Paid())
	require.False(t, (&StatusResult{Status: "pending_authorization"}).Paid())

	require.True(t, (&StatusResult{Status: "rejected"}).Declined())
	require.False(t, (&StatusResult{Status: ""}).Declined())
	require.False(t, (&StatusResult{Status: "pending_authorization"}).Declined())
}
