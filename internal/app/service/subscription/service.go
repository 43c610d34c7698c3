package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/logctx"
	"github.com/brightseed/checkout/pkg/types"

	"go.uber.org/zap"
)

// Service manages subscription history records. A completed subscription-type
// purchase activates a record here; the record, not the purchase, is what
// grants access.
type Service struct {
	cfg   *config.Config
	store ledger.Store
	log   *zap.SugaredLogger
}

func NewService(cfg *config.Config, store ledger.Store, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, log: log}
}

// ActivateFromPurchase creates an active subscription record for a completed
// subscription-type purchase. The renewal window is computed from the plan's
// billing period; an unknown plan falls back to a monthly window rather than
// blocking a captured payment.
func (s *Service) ActivateFromPurchase(ctx context.Context, purchase *models.Purchase, sourceTransactionID string, activatedAt time.Time) (*models.SubscriptionRecord, error) {
	if purchase == nil || !purchase.IsSubscription() {
		return nil, fmt.Errorf("purchase is not a subscription")
	}

	period := types.BillingPeriodMonthly
	if plan := s.cfg.GetPlanByID(purchase.PurchasableID); plan != nil {
		period = plan.BillingPeriod
	} else {
		logctx.FromCtx(ctx, s.log).Warnw("subscription plan not found, defaulting to monthly window",
			"plan_id", purchase.PurchasableID, "purchase_id", purchase.ID)
	}

	rec := &models.SubscriptionRecord{
		BuyerID:             purchase.BuyerID,
		PlanID:              purchase.PurchasableID,
		Status:              types.SubscriptionStatusActive,
		StartedAt:           activatedAt,
		ExpiresAt:           period.RenewalWindow(activatedAt),
		SourceTransactionID: sourceTransactionID,
		PurchaseID:          purchase.ID,
	}
	if err := s.store.CreateSubscriptionRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create subscription record: %w", err)
	}
	return rec, nil
}

// ActiveRecord returns the buyer's currently valid record with the furthest
// expiry, or nil when the buyer has no active subscription.
func (s *Service) ActiveRecord(ctx context.Context, buyerID string) (*models.SubscriptionRecord, error) {
	rows, err := s.store.ListSubscriptionRecords(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription records: %w", err)
	}
	var best *models.SubscriptionRecord
	for _, r := range rows {
		if !r.Valid() {
			continue
		}
		if best == nil || r.ExpiresAt.After(best.ExpiresAt) {
			best = r
		}
	}
	return best, nil
}
