package models

import (
	"time"

	"github.com/brightseed/checkout/pkg/types"

	"gorm.io/datatypes"
)

// Purchase is one line item a buyer is purchasing. It lives in "cart" until a
// payment intent links it to a Transaction; from then on its status follows the
// transaction's cascade and the row is never deleted.
type Purchase struct {
	ID              string                `gorm:"column:id;primary_key;type:uuid" json:"id"`
	BuyerID         string                `gorm:"column:buyer_id;type:varchar(64);not null;index:idx_buyer_status,priority:1" json:"buyer_id"`
	PurchasableType types.PurchasableType `gorm:"column:purchasable_type;type:varchar(32);not null" json:"purchasable_type"`
	PurchasableID   string                `gorm:"column:purchasable_id;type:varchar(64);not null" json:"purchasable_id"`
	// PaymentAmount is the pre-computed final price in agorot. When nil the
	// price is derived as max(0, original_price - discount_amount).
	PaymentAmount  *int64               `gorm:"column:payment_amount;type:bigint" json:"payment_amount"`
	OriginalPrice  int64                `gorm:"column:original_price;type:bigint;not null" json:"original_price"`
	DiscountAmount int64                `gorm:"column:discount_amount;type:bigint;not null;default:0" json:"discount_amount"`
	PaymentStatus  types.PurchaseStatus `gorm:"column:payment_status;type:varchar(32);not null;index:idx_buyer_status,priority:2" json:"payment_status"`
	PaymentMethod  *string              `gorm:"column:payment_method;type:varchar(64)" json:"payment_method"`
	TransactionID  *string              `gorm:"column:transaction_id;type:uuid;index" json:"transaction_id"`
	// Metadata holds audit annotations (reset reasons, cascade notes).
	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchase"
}

func (p *Purchase) Linked() bool {
	return p != nil && p.TransactionID != nil && *p.TransactionID != ""
}

func (p *Purchase) IsSubscription() bool {
	return p != nil && p.PurchasableType == types.PurchasableTypeSubscription
}
