package payplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightseed/checkout/pkg/config"

	"go.uber.org/zap"
)

// Client talks to the PayPlus REST gateway. All amounts cross the wire in
// currency units (PayPlus convention); callers hold agorot and convert here.
type Client interface {
	// GeneratePaymentLink creates a hosted payment page and returns its
	// reference and redirect URL.
	GeneratePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*PaymentLinkResult, error)
	// CheckPaymentStatus queries the authoritative status of a hosted page.
	CheckPaymentStatus(ctx context.Context, pageRequestUID string) (*StatusResult, error)
	// CheckChargeStatus queries the authoritative status of a charge by the
	// more_info echo, our transaction ID. Used when a token charge response
	// was lost and the capture outcome is unknown.
	CheckChargeStatus(ctx context.Context, transactionID string) (*StatusResult, error)
	// ChargeToken charges a stored payment token without presenting a page.
	ChargeToken(ctx context.Context, req *TokenChargeRequest) (*TokenChargeResult, error)
}

type PaymentLinkItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type RecurringConfig struct {
	// IntervalMonths is the billing cycle length in months.
	IntervalMonths int `json:"interval_months"`
}

type PaymentLinkRequest struct {
	// MoreInfo carries our transaction ID; PayPlus echoes it back in the
	// callback, which is how webhook payloads are matched to transactions.
	MoreInfo      string
	Amount        int64 // agorot
	CustomerID    string
	CustomerEmail string
	Items         []PaymentLinkItem
	// CreateToken asks the gateway to mint a reusable charge token.
	CreateToken bool
	Recurring   *RecurringConfig
}

type PaymentLinkResult struct {
	PageRequestUID string
	PaymentPageURL string
	Raw            json.RawMessage
}

// StatusResult carries the tolerant set of status indicators the gateway may
// populate. Gateways are inconsistent about which field they fill in, so
// callers should treat any single positive indicator as sufficient.
type StatusResult struct {
	Status         string  `json:"status"`
	StatusCode     string  `json:"status_code"`
	TransactionUID string  `json:"transaction_uid"`
	Amount         float64 `json:"amount"`
	MoreInfo       string  `json:"more_info"`
	Token          string  `json:"token"`
	CardBrand      string  `json:"brand_name"`
	FourDigits     string  `json:"four_digits"`
	ApprovalNumber string  `json:"approval_number"`
	Raw            json.RawMessage
}

// Paid treats any single positive indicator as sufficient; gateways are
// inconsistent about which field they populate.
func (st *StatusResult) Paid() bool {
	if st.StatusCode == "000" {
		return true
	}
	switch strings.ToLower(st.Status) {
	case "approved", "success", "completed", "paid":
		return true
	}
	return false
}

// Declined requires an explicit negative answer. An empty or unknown status
// means the buyer may still be on the payment page.
func (st *StatusResult) Declined() bool {
	switch strings.ToLower(st.Status) {
	case "rejected", "failed", "declined", "cancelled", "error":
		return true
	}
	return false
}

type TokenChargeRequest struct {
	Token         string
	Amount        int64 // agorot
	BuyerID       string
	TransactionID string
}

type TokenChargeResult struct {
	Approved       bool
	GatewayTxnUID  string
	StatusCode     string
	Raw            json.RawMessage
}

type httpClient struct {
	cfg     config.PayPlusConfig
	baseURL string
	hc      *http.Client
	log     *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) Client {
	base := cfg.PayPlus.SandboxBaseURL
	if cfg.PayPlus.IsProd {
		base = cfg.PayPlus.BaseURL
	}
	return &httpClient{
		cfg:     cfg.PayPlus,
		baseURL: base,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type gatewayEnvelope struct {
	Results struct {
		Status      string `json:"status"`
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"results"`
	Data json.RawMessage `json:"data"`
}

func (c *httpClient) post(ctx context.Context, path string, payload any) (*gatewayEnvelope, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("secret-key", c.cfg.SecretKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway call %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, raw, fmt.Errorf("gateway call %s returned status %d: %s", path, resp.StatusCode, string(raw))
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, raw, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &env, raw, nil
}

func (c *httpClient) GeneratePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*PaymentLinkResult, error) {
	payload := map[string]any{
		"payment_page_uid": c.cfg.PaymentPageUID,
		"charge_method":    1,
		"amount":           float64(req.Amount) / 100,
		"currency_code":    c.cfg.Currency,
		"more_info":        req.MoreInfo,
		"refURL_success":   c.cfg.SuccessURL,
		"refURL_failure":   c.cfg.FailureURL,
		"refURL_callback":  c.cfg.CallbackURL,
		"create_token":     req.CreateToken,
		"customer": map[string]any{
			"customer_name": req.CustomerID,
			"email":         req.CustomerEmail,
		},
	}
	if len(req.Items) > 0 {
		payload["items"] = req.Items
	}
	if req.Recurring != nil {
		payload["recurring_type"] = 1
		payload["recurring_interval"] = req.Recurring.IntervalMonths
	}

	env, raw, err := c.post(ctx, "/api/v1.0/PaymentPages/generateLink", payload)
	if err != nil {
		return nil, err
	}
	if env.Results.Status != "success" {
		return nil, fmt.Errorf("gateway rejected payment link: %s (%s)", env.Results.Description, env.Results.Code)
	}

	var data struct {
		PageRequestUID string `json:"page_request_uid"`
		PaymentPageURL string `json:"payment_page_link"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode payment link data: %w", err)
	}
	if data.PageRequestUID == "" || data.PaymentPageURL == "" {
		return nil, fmt.Errorf("gateway returned empty payment link data")
	}
	return &PaymentLinkResult{
		PageRequestUID: data.PageRequestUID,
		PaymentPageURL: data.PaymentPageURL,
		Raw:            raw,
	}, nil
}

func (c *httpClient) CheckPaymentStatus(ctx context.Context, pageRequestUID string) (*StatusResult, error) {
	payload := map[string]any{
		"payment_request_uid": pageRequestUID,
		"related_transaction": true,
	}
	env, raw, err := c.post(ctx, "/api/v1.0/PaymentPages/ipn", payload)
	if err != nil {
		return nil, err
	}

	var res StatusResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, fmt.Errorf("failed to decode status data: %w", err)
		}
	}
	res.Raw = raw
	return &res, nil
}

func (c *httpClient) CheckChargeStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	payload := map[string]any{
		"more_info":           transactionID,
		"related_transaction": true,
	}
	env, raw, err := c.post(ctx, "/api/v1.0/PaymentPages/ipn", payload)
	if err != nil {
		return nil, err
	}

	var res StatusResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, fmt.Errorf("failed to decode charge status data: %w", err)
		}
	}
	res.Raw = raw
	return &res, nil
}

func (c *httpClient) ChargeToken(ctx context.Context, req *TokenChargeRequest) (*TokenChargeResult, error) {
	payload := map[string]any{
		"terminal_uid":  c.cfg.PaymentPageUID,
		"token":         req.Token,
		"use_token":     true,
		"amount":        float64(req.Amount) / 100,
		"currency_code": c.cfg.Currency,
		"more_info":     req.TransactionID,
		"customer": map[string]any{
			"customer_name": req.BuyerID,
		},
	}
	env, raw, err := c.post(ctx, "/api/v1.0/Transactions/Charge", payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		TransactionUID string `json:"transaction_uid"`
		StatusCode     string `json:"status_code"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode charge data: %w", err)
		}
	}
	return &TokenChargeResult{
		Approved:      env.Results.Status == "success" && data.StatusCode == "000",
		GatewayTxnUID: data.TransactionUID,
		StatusCode:    data.StatusCode,
		Raw:           raw,
	}, nil
}
