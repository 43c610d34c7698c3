package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/app/service/subscription"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/logctx"
	"github.com/brightseed/checkout/pkg/types"

	"gorm.io/datatypes"

	"go.uber.org/zap"
)

// GatewayPayload is the normalized gateway data handed to the arbiter by
// either a webhook delivery or a poll cycle.
type GatewayPayload struct {
	TransactionUID string          `json:"transaction_uid,omitempty"`
	StatusCode     string          `json:"status_code,omitempty"`
	Status         string          `json:"status,omitempty"`
	Token          string          `json:"token,omitempty"`
	CardBrand      string          `json:"card_brand,omitempty"`
	FourDigits     string          `json:"four_digits,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Result of a completion attempt. AlreadyProcessed is a first-class outcome,
// not an error: it means another source won the race and nothing was done.
type Result struct {
	TransactionID    string                    `json:"transaction_id"`
	AlreadyProcessed bool                      `json:"already_processed"`
	Status           types.TransactionStatus   `json:"status"`
	Summary          *models.CompletionSummary `json:"summary,omitempty"`
}

// Arbiter resolves the completion race: however many sources report the same
// transaction outcome, exactly one claim is applied.
type Arbiter interface {
	ProcessCompletion(ctx context.Context, transactionID string, payload *GatewayPayload, source types.CompletionSource) (*Result, error)
	HandleFailedTransaction(ctx context.Context, transactionID string, payload *GatewayPayload, source types.CompletionSource) (*Result, error)
}

type Service struct {
	store  ledger.Store
	subSvc *subscription.Service
	log    *zap.SugaredLogger
}

func NewService(store ledger.Store, subSvc *subscription.Service, log *zap.SugaredLogger) *Service {
	return &Service{store: store, subSvc: subSvc, log: log}
}

var _ Arbiter = (*Service)(nil)

var claimableStatuses = []types.TransactionStatus{
	types.TransactionStatusPending,
	types.TransactionStatusInProgress,
}

// loadTransaction maps a genuinely missing row to ErrTransactionNotFound,
// gateway data for money we have no record of. A transient store failure is
// not that; it propagates as-is so callers can retry.
func (s *Service) loadTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}
	return txn, nil
}

// ProcessCompletion atomically claims the transaction for this source and, on
// winning, cascades purchases and runs the post-claim side effects. The claim
// is a single conditional update at the storage layer; concurrent callers with
// the same or different sources all funnel through it and at most one wins.
//
// A downstream failure after a won claim never rolls the claim back: the money
// was captured, so the transaction stays completed with an error annotation
// and the error is surfaced for out-of-band reconciliation.
func (s *Service) ProcessCompletion(ctx context.Context, transactionID string, payload *GatewayPayload, source types.CompletionSource) (*Result, error) {
	log := logctx.FromCtx(ctx, s.log)
	if payload == nil {
		payload = &GatewayPayload{}
	}

	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	extra := map[string]any{
		"completed_at":          now,
		"race_condition_winner": source,
		"processing_attempts":   txn.ProcessingAttempts + 1,
	}
	if len(payload.Raw) > 0 {
		extra["gateway_response"] = []byte(payload.Raw)
	}
	if source == types.CompletionSourceWebhook {
		extra["webhook_received_at"] = now
	}

	claimed, err := s.store.TransitionTransaction(ctx, transactionID, claimableStatuses, types.TransactionStatusCompleted, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction %s: %w", transactionID, err)
	}
	if !claimed {
		log.Infow("completion_already_processed", "transaction_id", transactionID, "source", source)
		return &Result{TransactionID: transactionID, AlreadyProcessed: true, Status: txn.PaymentStatus}, nil
	}

	elapsed := now.Sub(txn.CreatedAt).Milliseconds()
	if err := s.store.AppendStatusHistory(ctx, transactionID, models.StatusHistoryEntry{
		At:        now,
		From:      txn.PaymentStatus,
		To:        types.TransactionStatusCompleted,
		Source:    source,
		Outcome:   models.HistoryOutcomeWonRace,
		ElapsedMS: elapsed,
	}); err != nil {
		log.Errorw("completion_history_append_failed", "transaction_id", transactionID, "error", err.Error())
	}

	log.Infow("completion_claimed", "transaction_id", transactionID, "source", source, "elapsed_ms", elapsed)

	summary := &models.CompletionSummary{}
	purchases, err := s.store.ListTransactionPurchases(ctx, transactionID)
	if err != nil {
		return s.failAfterClaim(ctx, transactionID, summary, fmt.Errorf("failed to load purchases after claim: %w", err))
	}

	// Purchase cascade is the critical path: every linked purchase must reach
	// completed, conditioned on not already being terminal.
	updated, err := s.store.CascadePurchases(ctx, transactionID,
		[]types.PurchaseStatus{types.PurchaseStatusPending, types.PurchaseStatusCart},
		types.PurchaseStatusCompleted)
	if err != nil {
		return s.failAfterClaim(ctx, transactionID, summary, fmt.Errorf("purchase cascade failed: %w", err))
	}
	summary.PurchasesCompleted = updated

	if remaining := s.verifyCascade(ctx, transactionID); remaining > 0 {
		return s.failAfterClaim(ctx, transactionID, summary, fmt.Errorf("purchase cascade incomplete: %d purchases not completed", remaining))
	}

	outcomes := runHooks(ctx, s.log, s.completionHooks(txn, purchases, payload, now, summary))
	summary.HookErrors = hookErrors(outcomes)

	if err := s.store.UpdateTransaction(ctx, transactionID, map[string]any{
		"completion_summary": datatypes.NewJSONType(summary),
	}); err != nil {
		log.Errorw("completion_summary_persist_failed", "transaction_id", transactionID, "error", err.Error())
	}

	return &Result{
		TransactionID: transactionID,
		Status:        types.TransactionStatusCompleted,
		Summary:       summary,
	}, nil
}

func (s *Service) completionHooks(txn *models.Transaction, purchases []*models.Purchase, payload *GatewayPayload, now time.Time, summary *models.CompletionSummary) []hook {
	hooks := []hook{
		{name: "save_token", run: func(ctx context.Context) error {
			n, err := s.saveToken(ctx, txn, purchases, payload)
			summary.TokensSaved = n
			return err
		}},
		{name: "activate_subscriptions", run: func(ctx context.Context) error {
			var lastErr error
			for _, p := range purchases {
				if !p.IsSubscription() {
					continue
				}
				if _, err := s.subSvc.ActivateFromPurchase(ctx, p, txn.ID, now); err != nil {
					lastErr = err
					continue
				}
				summary.SubscriptionsActivated++
			}
			return lastErr
		}},
		{name: "commit_coupons", run: func(ctx context.Context) error {
			var lastErr error
			for _, code := range txn.CouponSnapshot {
				if err := s.store.CommitCouponUsage(ctx, code); err != nil {
					lastErr = err
					continue
				}
				summary.CouponsCommitted++
			}
			return lastErr
		}},
		{name: "count_downloads", run: func(ctx context.Context) error {
			var lastErr error
			for _, p := range purchases {
				if p.PurchasableType != types.PurchasableTypeFile {
					continue
				}
				if err := s.store.IncrementDownloadCount(ctx, p.PurchasableID); err != nil {
					lastErr = err
					continue
				}
				summary.DownloadsCounted++
			}
			return lastErr
		}},
	}
	return hooks
}

// saveToken persists a reusable charge token when the payload carries one and
// the transaction resolves to a single buyer.
func (s *Service) saveToken(ctx context.Context, txn *models.Transaction, purchases []*models.Purchase, payload *GatewayPayload) (int, error) {
	if payload.Token == "" || len(purchases) == 0 {
		return 0, nil
	}
	buyerID := purchases[0].BuyerID
	for _, p := range purchases[1:] {
		if p.BuyerID != buyerID {
			return 0, nil
		}
	}
	err := s.store.SaveStoredToken(ctx, &models.StoredPaymentToken{
		BuyerID:             buyerID,
		Token:               payload.Token,
		CardBrand:           payload.CardBrand,
		Last4:               payload.FourDigits,
		SourceTransactionID: txn.ID,
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Service) verifyCascade(ctx context.Context, transactionID string) int {
	purchases, err := s.store.ListTransactionPurchases(ctx, transactionID)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("cascade_verify_failed", "transaction_id", transactionID, "error", err.Error())
		return 0
	}
	remaining := 0
	for _, p := range purchases {
		if p.PaymentStatus != types.PurchaseStatusCompleted {
			remaining++
		}
	}
	return remaining
}

// failAfterClaim annotates a post-claim failure and surfaces it without
// reverting the won claim.
func (s *Service) failAfterClaim(ctx context.Context, transactionID string, summary *models.CompletionSummary, cause error) (*Result, error) {
	logctx.FromCtx(ctx, s.log).Errorw("completion_post_claim_error", "transaction_id", transactionID, "error", cause.Error())
	if err := s.store.AppendStatusHistory(ctx, transactionID, models.StatusHistoryEntry{
		At:      time.Now(),
		From:    types.TransactionStatusCompleted,
		To:      types.TransactionStatusCompleted,
		Outcome: models.HistoryOutcomeHookError,
		Note:    cause.Error(),
	}); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("completion_annotation_failed", "transaction_id", transactionID, "error", err.Error())
	}
	return &Result{
		TransactionID: transactionID,
		Status:        types.TransactionStatusCompleted,
		Summary:       summary,
	}, cause
}

// HandleFailedTransaction is the failure-path twin of ProcessCompletion: it
// claims the transaction into failed and cascades purchases accordingly. A
// failure claim still races against a completion claim; losing to either a
// completion or an earlier failure detection is reported as AlreadyProcessed.
func (s *Service) HandleFailedTransaction(ctx context.Context, transactionID string, payload *GatewayPayload, source types.CompletionSource) (*Result, error) {
	log := logctx.FromCtx(ctx, s.log)
	if payload == nil {
		payload = &GatewayPayload{}
	}

	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	extra := map[string]any{
		"race_condition_winner": source,
		"processing_attempts":   txn.ProcessingAttempts + 1,
	}
	if len(payload.Raw) > 0 {
		extra["gateway_response"] = []byte(payload.Raw)
	}

	claimed, err := s.store.TransitionTransaction(ctx, transactionID, claimableStatuses, types.TransactionStatusFailed, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to claim failed transaction %s: %w", transactionID, err)
	}
	if !claimed {
		return &Result{TransactionID: transactionID, AlreadyProcessed: true, Status: txn.PaymentStatus}, nil
	}

	if err := s.store.AppendStatusHistory(ctx, transactionID, models.StatusHistoryEntry{
		At:        now,
		From:      txn.PaymentStatus,
		To:        types.TransactionStatusFailed,
		Source:    source,
		Outcome:   models.HistoryOutcomeWonRace,
		Note:      fmt.Sprintf("gateway declined: %s %s", payload.StatusCode, payload.Status),
		ElapsedMS: now.Sub(txn.CreatedAt).Milliseconds(),
	}); err != nil {
		log.Errorw("failure_history_append_failed", "transaction_id", transactionID, "error", err.Error())
	}

	updated, err := s.store.CascadePurchases(ctx, transactionID,
		[]types.PurchaseStatus{types.PurchaseStatusPending, types.PurchaseStatusCart},
		types.PurchaseStatusFailed)
	if err != nil {
		return s.failAfterClaim(ctx, transactionID, &models.CompletionSummary{}, fmt.Errorf("failure cascade failed: %w", err))
	}

	log.Infow("transaction_failed", "transaction_id", transactionID, "source", source, "purchases_failed", updated)

	return &Result{
		TransactionID: transactionID,
		Status:        types.TransactionStatusFailed,
	}, nil
}
