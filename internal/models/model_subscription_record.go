package models

import (
	"time"

	"github.com/brightseed/checkout/pkg/types"
)

// SubscriptionRecord grants plan access for one billing window. It is what
// actually entitles the buyer, decoupled from the generic Purchase row.
// Use Valid() to determine whether the record currently grants access.
type SubscriptionRecord struct {
	ID        string                   `gorm:"column:id;primary_key;type:uuid" json:"id"`
	BuyerID   string                   `gorm:"column:buyer_id;type:varchar(64);not null;index" json:"buyer_id"`
	PlanID    string                   `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	Status    types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	StartedAt time.Time                `gorm:"column:started_at;not null" json:"started_at"`
	ExpiresAt time.Time                `gorm:"column:expires_at;not null" json:"expires_at"`
	// SourceTransactionID is the completed payment that activated this window.
	SourceTransactionID string    `gorm:"column:source_transaction_id;type:uuid;not null" json:"source_transaction_id"`
	PurchaseID          string    `gorm:"column:purchase_id;type:uuid;not null" json:"purchase_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (SubscriptionRecord) TableName() string {
	return "subscription_record"
}

func (r *SubscriptionRecord) Valid() bool {
	return r != nil &&
		r.Status == types.SubscriptionStatusActive &&
		r.ExpiresAt.After(time.Now())
}
