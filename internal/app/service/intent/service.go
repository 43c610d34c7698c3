package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/app/service/pricing"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/internal/platform/payplus"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/logctx"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type CreateIntentRequest struct {
	BuyerID     string   `json:"buyer_id"`
	PurchaseIDs []string `json:"purchase_ids"`
	// CustomerEmail is forwarded to the gateway for the hosted page receipt.
	CustomerEmail string   `json:"customer_email"`
	CouponCodes   []string `json:"coupon_codes"`
	// UseStoredToken attempts a silent charge against the buyer's saved card
	// before falling back to a hosted page.
	UseStoredToken bool   `json:"use_stored_token"`
	PaymentMethod  string `json:"payment_method"`
}

type CreateIntentResult struct {
	TransactionID string                  `json:"transaction_id"`
	Status        types.TransactionStatus `json:"status"`
	// PaymentURL is empty for free carts and successful token charges.
	PaymentURL  string     `json:"payment_url,omitempty"`
	TotalAmount int64      `json:"total_amount"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	// Reused is set when an existing transaction with a live payment page
	// covered the same purchases and was returned instead of a new one.
	Reused bool `json:"reused"`
}

type StatusView struct {
	Transaction *models.Transaction `json:"transaction"`
	Purchases   []*models.Purchase  `json:"purchases"`
}

// Orchestrator creates payment intents and reports their status.
type Orchestrator interface {
	CreatePaymentIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error)
	GetPaymentStatus(ctx context.Context, buyerID, transactionID string) (*StatusView, error)
}

type Service struct {
	cfg     *config.Config
	store   ledger.Store
	gateway payplus.Client
	arbiter completion.Arbiter
	log     *zap.SugaredLogger
}

func NewService(cfg *config.Config, store ledger.Store, gateway payplus.Client, arbiter completion.Arbiter, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, gateway: gateway, arbiter: arbiter, log: log}
}

var _ Orchestrator = (*Service)(nil)

// CreatePaymentIntent validates the buyer's cart, reconciles any prior intent
// over the same purchases, and either completes the transaction immediately
// (free carts, approved token charges) or dispatches a hosted payment page.
//
// Calling it twice for the same purchase set while a payment page is still
// live returns the existing page instead of creating a second charge path.
func (s *Service) CreatePaymentIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error) {
	log := logctx.FromCtx(ctx, s.log)
	if req == nil || req.BuyerID == "" || len(req.PurchaseIDs) == 0 {
		return nil, fmt.Errorf("%w: buyer and at least one purchase are required", ErrCartValidation)
	}

	purchases, err := s.store.FindCheckoutPurchases(ctx, req.BuyerID, req.PurchaseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchases: %w", err)
	}
	if len(purchases) != len(lo.Uniq(req.PurchaseIDs)) {
		return nil, fmt.Errorf("%w: %d of %d purchases are not payable for this buyer",
			ErrCartValidation, len(lo.Uniq(req.PurchaseIDs))-len(purchases), len(lo.Uniq(req.PurchaseIDs)))
	}

	res, resume, err := s.reconcileExisting(ctx, purchases)
	if err != nil || res != nil {
		return res, err
	}
	if resume != nil {
		return s.resumeDispatch(ctx, resume, req, purchases)
	}

	total := pricing.CartTotal(purchases)
	now := time.Now()
	expiresAt := now.Add(s.cfg.Payment.ExpiryHorizon())

	txn := &models.Transaction{
		ID:            tool.GenerateUUIDV7(),
		TotalAmount:   total,
		PaymentStatus: types.TransactionStatusPending,
		Environment:   s.cfg.PayPlus.Environment(),
		ExpiresAt:     &expiresAt,
		CouponSnapshot: lo.Uniq(req.CouponCodes),
		StatusHistory: []models.StatusHistoryEntry{{
			At:      now,
			From:    types.TransactionStatusPending,
			To:      types.TransactionStatusPending,
			Outcome: models.HistoryOutcomeDispatched,
		}},
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := s.store.LinkPurchases(ctx, lo.Map(purchases, func(p *models.Purchase, _ int) string { return p.ID }), txn.ID, req.PaymentMethod); err != nil {
		return nil, fmt.Errorf("failed to link purchases: %w", err)
	}

	log.Infow("payment_intent_created", "transaction_id", txn.ID, "buyer_id", req.BuyerID,
		"total_amount", total, "purchases", len(purchases))

	if total == 0 {
		return s.completeFree(ctx, txn)
	}

	if req.UseStoredToken {
		if res, done, err := s.tryTokenCharge(ctx, txn, req, total); done {
			return res, err
		}
	}

	return s.dispatchHostedPage(ctx, txn, req, purchases, total)
}

// resumeDispatch finishes an intent that created its transaction but never got
// a payment page, typically after a crash or a gateway outage mid-dispatch.
// The gateway is asked about the transaction first: a charge may have landed
// whose response was lost, and opening a second charge path over it would
// collect the money twice.
func (s *Service) resumeDispatch(ctx context.Context, txn *models.Transaction, req *CreateIntentRequest, purchases []*models.Purchase) (*CreateIntentResult, error) {
	log := logctx.FromCtx(ctx, s.log)
	log.Infow("payment_intent_resumed", "transaction_id", txn.ID)

	if st, err := s.gateway.CheckChargeStatus(ctx, txn.ID); err == nil && st.Paid() {
		res, err := s.arbiter.ProcessCompletion(ctx, txn.ID, &completion.GatewayPayload{
			TransactionUID: st.TransactionUID,
			StatusCode:     st.StatusCode,
			Status:         st.Status,
			Token:          st.Token,
			CardBrand:      st.CardBrand,
			FourDigits:     st.FourDigits,
			Raw:            st.Raw,
		}, types.CompletionSourceAPI)
		if err != nil {
			return nil, fmt.Errorf("failed to complete resumed transaction %s: %w", txn.ID, err)
		}
		return &CreateIntentResult{
			TransactionID: txn.ID,
			Status:        res.Status,
			TotalAmount:   txn.TotalAmount,
		}, nil
	}

	if txn.TotalAmount == 0 {
		return s.completeFree(ctx, txn)
	}
	return s.dispatchHostedPage(ctx, txn, req, purchases, txn.TotalAmount)
}

// reconcileExisting handles purchases already linked to a transaction. A live
// payment page is reused; a pending transaction that never got its page is
// handed back for dispatch resumption; a dead transaction releases its
// purchases to the cart; links pointing at two different transactions are a
// hard error.
func (s *Service) reconcileExisting(ctx context.Context, purchases []*models.Purchase) (*CreateIntentResult, *models.Transaction, error) {
	var linkedIDs []string
	txnIDs := map[string]bool{}
	for _, p := range purchases {
		if p.Linked() {
			linkedIDs = append(linkedIDs, p.ID)
			txnIDs[*p.TransactionID] = true
		}
	}
	if len(linkedIDs) == 0 {
		return nil, nil, nil
	}
	if len(txnIDs) > 1 {
		return nil, nil, fmt.Errorf("%w: %d transactions referenced", ErrInconsistentLink, len(txnIDs))
	}
	if len(linkedIDs) != len(purchases) {
		return nil, nil, fmt.Errorf("%w: cart mixes linked and unlinked purchases", ErrInconsistentLink)
	}

	txnID := lo.Keys(txnIDs)[0]
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Dangling link: the transaction row is gone. Clear it and start over.
			logctx.FromCtx(ctx, s.log).Warnw("payment_intent_dangling_link", "transaction_id", txnID)
			if err := s.store.UnlinkPurchases(ctx, linkedIDs, fmt.Sprintf("linked transaction %s missing", txnID)); err != nil {
				return nil, nil, fmt.Errorf("failed to clear dangling links to %s: %w", txnID, err)
			}
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load linked transaction %s: %w", txnID, err)
	}

	now := time.Now()
	live := txn.PaymentStatus == types.TransactionStatusPending || txn.PaymentStatus == types.TransactionStatusInProgress
	if live && txn.HasPaymentURL() && !txn.ExpiredAt(now) {
		logctx.FromCtx(ctx, s.log).Infow("payment_intent_reused", "transaction_id", txn.ID)
		return &CreateIntentResult{
			TransactionID: txn.ID,
			Status:        txn.PaymentStatus,
			PaymentURL:    *txn.PaymentURL,
			TotalAmount:   txn.TotalAmount,
			ExpiresAt:     txn.ExpiresAt,
			Reused:        true,
		}, nil, nil
	}

	if txn.PaymentStatus.Retryable() || txn.ExpiredAt(now) {
		if err := s.store.UnlinkPurchases(ctx, linkedIDs, fmt.Sprintf("released from %s transaction %s", txn.PaymentStatus, txn.ID)); err != nil {
			return nil, nil, fmt.Errorf("failed to release purchases from transaction %s: %w", txn.ID, err)
		}
		return nil, nil, nil
	}

	if live {
		// Pending without a page: dispatch never finished. Resume it on the
		// same row rather than creating a duplicate.
		return nil, txn, nil
	}

	// Terminal completed: not a state a new intent may silently pave over.
	return nil, nil, fmt.Errorf("%w: transaction %s is %s", ErrCartValidation, txn.ID, txn.PaymentStatus)
}

func (s *Service) completeFree(ctx context.Context, txn *models.Transaction) (*CreateIntentResult, error) {
	res, err := s.arbiter.ProcessCompletion(ctx, txn.ID, &completion.GatewayPayload{
		Status: "free",
	}, types.CompletionSourceAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to complete free transaction %s: %w", txn.ID, err)
	}
	return &CreateIntentResult{
		TransactionID: txn.ID,
		Status:        res.Status,
		TotalAmount:   0,
	}, nil
}

// tryTokenCharge attempts a silent charge with the buyer's stored token. The
// done return reports whether the intent was fully resolved here; a false
// means the caller should fall back to the hosted page. Only an explicit
// gateway decline falls back: when the charge response was lost, the charge
// status is looked up first, and an inconclusive answer surfaces
// ErrChargeUnresolved with the transaction left pending. A hosted page over a
// charge that may have landed would collect the money twice.
func (s *Service) tryTokenCharge(ctx context.Context, txn *models.Transaction, req *CreateIntentRequest, total int64) (*CreateIntentResult, bool, error) {
	log := logctx.FromCtx(ctx, s.log)
	token, err := s.store.GetStoredToken(ctx, req.BuyerID)
	if err != nil {
		return nil, false, nil
	}

	charge, err := s.gateway.ChargeToken(ctx, &payplus.TokenChargeRequest{
		Token:         token.Token,
		Amount:        total,
		BuyerID:       req.BuyerID,
		TransactionID: txn.ID,
	})
	if err != nil {
		log.Warnw("token_charge_error", "transaction_id", txn.ID, "error", err.Error())
		s.recordGatewayError(ctx, txn.ID, "token charge error: "+err.Error())
		return s.resolveLostCharge(ctx, txn, token, total, err)
	}
	if !charge.Approved {
		log.Infow("token_charge_declined", "transaction_id", txn.ID, "status_code", charge.StatusCode)
		return nil, false, nil
	}

	res, err := s.arbiter.ProcessCompletion(ctx, txn.ID, &completion.GatewayPayload{
		TransactionUID: charge.GatewayTxnUID,
		StatusCode:     charge.StatusCode,
		Token:          token.Token,
		CardBrand:      token.CardBrand,
		FourDigits:     token.Last4,
		Raw:            charge.Raw,
	}, types.CompletionSourceAPI)
	if err != nil {
		// The charge was approved; whatever went wrong afterwards must not
		// open a second charge path.
		log.Errorw("token_charge_completion_failed", "transaction_id", txn.ID, "error", err.Error())
		return nil, true, fmt.Errorf("approved token charge on %s could not be completed: %w", txn.ID, err)
	}
	return &CreateIntentResult{
		TransactionID: txn.ID,
		Status:        res.Status,
		TotalAmount:   total,
	}, true, nil
}

// resolveLostCharge decides what to do after a token charge whose response
// never arrived. The gateway is asked for the charge status by transaction ID;
// a confirmed capture is completed, an explicit decline falls back to the
// hosted page, and anything else stays unresolved.
func (s *Service) resolveLostCharge(ctx context.Context, txn *models.Transaction, token *models.StoredPaymentToken, total int64, cause error) (*CreateIntentResult, bool, error) {
	log := logctx.FromCtx(ctx, s.log)

	st, err := s.gateway.CheckChargeStatus(ctx, txn.ID)
	if err != nil {
		log.Warnw("token_charge_status_lookup_failed", "transaction_id", txn.ID, "error", err.Error())
		return nil, true, fmt.Errorf("%w: transaction %s: %s", ErrChargeUnresolved, txn.ID, cause.Error())
	}

	if st.Paid() {
		res, err := s.arbiter.ProcessCompletion(ctx, txn.ID, &completion.GatewayPayload{
			TransactionUID: st.TransactionUID,
			StatusCode:     st.StatusCode,
			Status:         st.Status,
			Token:          token.Token,
			CardBrand:      token.CardBrand,
			FourDigits:     token.Last4,
			Raw:            st.Raw,
		}, types.CompletionSourceAPI)
		if err != nil {
			return nil, true, fmt.Errorf("recovered token charge on %s could not be completed: %w", txn.ID, err)
		}
		log.Infow("token_charge_recovered", "transaction_id", txn.ID)
		return &CreateIntentResult{
			TransactionID: txn.ID,
			Status:        res.Status,
			TotalAmount:   total,
		}, true, nil
	}
	if st.Declined() {
		log.Infow("token_charge_confirmed_declined", "transaction_id", txn.ID, "status", st.Status)
		return nil, false, nil
	}
	return nil, true, fmt.Errorf("%w: transaction %s: %s", ErrChargeUnresolved, txn.ID, cause.Error())
}

// recordGatewayError appends a gateway_error history note without changing the
// transaction status.
func (s *Service) recordGatewayError(ctx context.Context, txnID, note string) {
	if err := s.store.AppendStatusHistory(ctx, txnID, models.StatusHistoryEntry{
		At:      time.Now(),
		From:    types.TransactionStatusPending,
		To:      types.TransactionStatusPending,
		Outcome: models.HistoryOutcomeGatewayError,
		Note:    note,
	}); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("history_append_failed", "transaction_id", txnID, "error", err.Error())
	}
}

func (s *Service) dispatchHostedPage(ctx context.Context, txn *models.Transaction, req *CreateIntentRequest, purchases []*models.Purchase, total int64) (*CreateIntentResult, error) {
	log := logctx.FromCtx(ctx, s.log)

	linkReq := &payplus.PaymentLinkRequest{
		MoreInfo:      txn.ID,
		Amount:        total,
		CustomerID:    req.BuyerID,
		CustomerEmail: req.CustomerEmail,
		CreateToken:   true,
	}
	for _, p := range purchases {
		linkReq.Items = append(linkReq.Items, payplus.PaymentLinkItem{
			Name:     fmt.Sprintf("%s:%s", p.PurchasableType, p.PurchasableID),
			Price:    float64(pricing.PurchaseFinalPrice(p)) / 100,
			Quantity: 1,
		})
		if p.IsSubscription() && linkReq.Recurring == nil {
			months := 1
			if plan := s.cfg.GetPlanByID(p.PurchasableID); plan != nil && plan.BillingPeriod == types.BillingPeriodYearly {
				months = 12
			}
			linkReq.Recurring = &payplus.RecurringConfig{IntervalMonths: months}
		}
	}

	link, err := s.gateway.GeneratePaymentLink(ctx, linkReq)
	if err != nil {
		// The transaction stays pending without a page: a retried intent
		// resumes the dispatch on the same row, and the expiry horizon
		// eventually releases the cart if no retry comes.
		log.Errorw("payment_page_dispatch_failed", "transaction_id", txn.ID, "error", err.Error())
		s.recordGatewayError(ctx, txn.ID, "payment page dispatch failed: "+err.Error())
		return nil, fmt.Errorf("%w: %s", ErrGatewayDispatch, err.Error())
	}

	claimed, err := s.store.TransitionTransaction(ctx, txn.ID,
		[]types.TransactionStatus{types.TransactionStatusPending},
		types.TransactionStatusInProgress, map[string]any{
			"payment_url":      link.PaymentPageURL,
			"page_request_uid": link.PageRequestUID,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to persist payment link for %s: %w", txn.ID, err)
	}
	if !claimed {
		// The transaction resolved while the page was being created; report
		// its actual state instead of the fresh page.
		current, err := s.store.GetTransaction(ctx, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload transaction %s: %w", txn.ID, err)
		}
		log.Warnw("payment_page_dispatch_raced", "transaction_id", txn.ID, "status", current.PaymentStatus)
		return &CreateIntentResult{
			TransactionID: txn.ID,
			Status:        current.PaymentStatus,
			TotalAmount:   total,
			ExpiresAt:     current.ExpiresAt,
		}, nil
	}

	log.Infow("payment_page_dispatched", "transaction_id", txn.ID, "page_request_uid", link.PageRequestUID)

	return &CreateIntentResult{
		TransactionID: txn.ID,
		Status:        types.TransactionStatusInProgress,
		PaymentURL:    link.PaymentPageURL,
		TotalAmount:   total,
		ExpiresAt:     txn.ExpiresAt,
	}, nil
}

func (s *Service) GetPaymentStatus(ctx context.Context, buyerID, transactionID string) (*StatusView, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}
	purchases, err := s.store.ListTransactionPurchases(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchases for %s: %w", transactionID, err)
	}
	if buyerID != "" {
		owned := false
		for _, p := range purchases {
			if p.BuyerID == buyerID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrNotFound)
		}
	}
	if err := s.store.TouchStatusChecked(ctx, transactionID, time.Now()); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("status_touch_failed", "transaction_id", transactionID, "error", err.Error())
	}
	return &StatusView{Transaction: txn, Purchases: purchases}, nil
}
