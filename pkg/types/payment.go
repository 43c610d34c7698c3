package types

import "time"

type PurchaseStatus string

const (
	PurchaseStatusCart      PurchaseStatus = "cart"
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusInProgress TransactionStatus = "in_progress"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusExpired    TransactionStatus = "expired"
)

// Terminal reports whether no further status transition is allowed,
// except the documented failed/cancelled/expired -> cart reset on retry.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired:
		return true
	}
	return false
}

// Retryable reports whether purchases linked to a transaction in this status
// may be unlinked and moved back to cart by a new payment intent.
func (s TransactionStatus) Retryable() bool {
	switch s {
	case TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired:
		return true
	}
	return false
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusInProgress, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired},
	TransactionStatusInProgress: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired},
}

func (s TransactionStatus) CanTransitionTo(to TransactionStatus) bool {
	for _, v := range transactionTransitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusCart:    {PurchaseStatusPending, PurchaseStatusCompleted},
	PurchaseStatusPending: {PurchaseStatusCompleted, PurchaseStatusFailed, PurchaseStatusCart},
	PurchaseStatusFailed:  {PurchaseStatusCart},
}

func (s PurchaseStatus) CanTransitionTo(to PurchaseStatus) bool {
	for _, v := range purchaseTransitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

// CompletionSource identifies which event source delivered gateway data to the
// completion arbiter. Webhook delivery and reconciliation polling race freely;
// "api" is used for free carts completed inline by the orchestrator.
type CompletionSource string

const (
	CompletionSourceWebhook CompletionSource = "webhook"
	CompletionSourcePolling CompletionSource = "polling"
	CompletionSourceAPI     CompletionSource = "api"
)

type PurchasableType string

const (
	PurchasableTypeWorkshop     PurchasableType = "workshop"
	PurchasableTypeCourse       PurchasableType = "course"
	PurchasableTypeFile         PurchasableType = "file"
	PurchasableTypeTool         PurchasableType = "tool"
	PurchasableTypeGame         PurchasableType = "game"
	PurchasableTypeSubscription PurchasableType = "subscription"
)

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// RenewalWindow returns the subscription end time for a period starting at from.
// Unknown periods default to monthly.
func (b BillingPeriod) RenewalWindow(from time.Time) time.Time {
	switch b {
	case BillingPeriodYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// SubscriptionPlan is a sellable plan definition loaded from configuration.
// Prices and discount values are in agorot (minor currency units).
type SubscriptionPlan struct {
	ID                 string        `json:"id" mapstructure:"id"`
	Name               string        `json:"name" mapstructure:"name"`
	Price              int64         `json:"price" mapstructure:"price"`
	BillingPeriod      BillingPeriod `json:"billing_period" mapstructure:"billing_period"`
	HasDiscount        bool          `json:"has_discount" mapstructure:"has_discount"`
	DiscountType       DiscountType  `json:"discount_type" mapstructure:"discount_type"`
	DiscountValue      int64         `json:"discount_value" mapstructure:"discount_value"`
	DiscountValidUntil *time.Time    `json:"discount_valid_until" mapstructure:"discount_valid_until"`
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)
