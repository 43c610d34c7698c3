package models

import (
	"time"

	"github.com/brightseed/checkout/pkg/types"

	"gorm.io/datatypes"
)

// StatusHistoryEntry is one record in a transaction's append-only audit trail.
// Entries are never rewritten or summarized; they are the forensic evidence for
// any race-condition dispute after the fact.
type StatusHistoryEntry struct {
	At      time.Time               `json:"at"`
	From    types.TransactionStatus `json:"from"`
	To      types.TransactionStatus `json:"to"`
	Source  types.CompletionSource  `json:"source,omitempty"`
	Outcome string                  `json:"outcome"`
	Note    string                  `json:"note,omitempty"`
	// ElapsedMS is the time between transaction creation and this entry,
	// recorded for race forensics.
	ElapsedMS int64 `json:"elapsed_ms,omitempty"`
}

// History outcome tags.
const (
	HistoryOutcomeDispatched   = "dispatched"
	HistoryOutcomeWonRace      = "won_race"
	HistoryOutcomeLostRace     = "lost_race"
	HistoryOutcomePollChecked  = "poll_checked"
	HistoryOutcomeGatewayError = "gateway_error"
	HistoryOutcomeHookError    = "hook_error"
	HistoryOutcomeExpired      = "expired"
)

// CompletionSummary records what the arbiter touched after winning the claim.
type CompletionSummary struct {
	TokensSaved            int      `json:"tokens_saved"`
	PurchasesCompleted     int64    `json:"purchases_completed"`
	SubscriptionsActivated int      `json:"subscriptions_activated"`
	CouponsCommitted       int      `json:"coupons_committed"`
	DownloadsCounted       int      `json:"downloads_counted"`
	HookErrors             []string `json:"hook_errors,omitempty"`
}

// Transaction is the payment intent: one gateway charge attempt aggregating one
// or more purchases. Exactly one non-pending terminal claim is allowed per row;
// the claim is a conditional UPDATE at the storage layer, never read-then-write.
type Transaction struct {
	ID            string                  `gorm:"column:id;primary_key;type:uuid" json:"id"`
	TotalAmount   int64                   `gorm:"column:total_amount;type:bigint;not null" json:"total_amount"`
	PaymentStatus types.TransactionStatus `gorm:"column:payment_status;type:varchar(32);not null;index" json:"payment_status"`
	PaymentMethod *string                 `gorm:"column:payment_method;type:varchar(64)" json:"payment_method"`
	Environment   types.Environment       `gorm:"column:environment;type:varchar(32);not null" json:"environment"`
	// PaymentURL is the gateway hosted payment page; nil until dispatch
	// succeeds and always nil for free transactions.
	PaymentURL *string `gorm:"column:payment_url;type:text" json:"payment_url"`
	// PageRequestUID is the gateway page/session reference used for status polling.
	PageRequestUID *string    `gorm:"column:page_request_uid;type:varchar(128);index" json:"page_request_uid"`
	ExpiresAt      *time.Time `gorm:"column:expires_at" json:"expires_at"`

	StatusHistory      datatypes.JSONSlice[StatusHistoryEntry] `gorm:"column:status_history;type:jsonb;default:'[]'" json:"status_history"`
	ProcessingAttempts int                                     `gorm:"column:processing_attempts;not null;default:0" json:"processing_attempts"`
	// RaceConditionWinner is the source whose completion claim landed first.
	RaceConditionWinner *types.CompletionSource `gorm:"column:race_condition_winner;type:varchar(32)" json:"race_condition_winner"`
	WebhookReceivedAt   *time.Time              `gorm:"column:webhook_received_at" json:"webhook_received_at"`
	StatusLastCheckedAt *time.Time              `gorm:"column:status_last_checked_at" json:"status_last_checked_at"`
	CompletedAt         *time.Time              `gorm:"column:completed_at" json:"completed_at"`

	// GatewayResponse is the raw payload from the winning source.
	GatewayResponse datatypes.JSON `gorm:"column:gateway_response;type:jsonb" json:"gateway_response"`
	// CouponSnapshot freezes the coupon codes applied at intent-creation time.
	CouponSnapshot    datatypes.JSONSlice[string]             `gorm:"column:coupon_snapshot;type:jsonb;default:'[]'" json:"coupon_snapshot"`
	CompletionSummary datatypes.JSONType[*CompletionSummary]  `gorm:"column:completion_summary;type:jsonb;default:'null'" json:"completion_summary"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

func (t *Transaction) HasPaymentURL() bool {
	return t != nil && t.PaymentURL != nil && *t.PaymentURL != ""
}

func (t *Transaction) ExpiredAt(now time.Time) bool {
	return t != nil && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}
