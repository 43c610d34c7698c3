package models

import "time"

// StoredPaymentToken is a gateway-issued reference allowing a future charge
// against a previously-used payment method without re-presenting the hosted
// page. One row per buyer; a newer token replaces the old one.
type StoredPaymentToken struct {
	ID        string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	BuyerID   string `gorm:"column:buyer_id;type:varchar(64);not null;uniqueIndex" json:"buyer_id"`
	Token     string `gorm:"column:token;type:varchar(128);not null" json:"token"`
	CardBrand string `gorm:"column:card_brand;type:varchar(32)" json:"card_brand"`
	Last4     string `gorm:"column:last4;type:varchar(4)" json:"last4"`
	// SourceTransactionID is the completed transaction whose payload carried the token.
	SourceTransactionID string    `gorm:"column:source_transaction_id;type:uuid" json:"source_transaction_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (StoredPaymentToken) TableName() string {
	return "stored_payment_token"
}
