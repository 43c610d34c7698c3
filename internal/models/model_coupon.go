package models

import (
	"time"

	"github.com/brightseed/checkout/pkg/types"
)

// Coupon is a discount code. UsedCount is only committed after a successful
// payment completion, so an abandoned checkout never burns a use.
type Coupon struct {
	Code          string             `gorm:"column:code;primary_key;type:varchar(64)" json:"code"`
	DiscountType  types.DiscountType `gorm:"column:discount_type;type:varchar(32);not null" json:"discount_type"`
	DiscountValue int64              `gorm:"column:discount_value;type:bigint;not null" json:"discount_value"`
	UsedCount     int64              `gorm:"column:used_count;type:bigint;not null;default:0" json:"used_count"`
	MaxUses       *int64             `gorm:"column:max_uses;type:bigint" json:"max_uses"`
	ValidUntil    *time.Time         `gorm:"column:valid_until" json:"valid_until"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (Coupon) TableName() string { return "coupon" }
