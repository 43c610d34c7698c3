// Package pricing resolves final prices for the three entities that each
// compute them differently: ad-hoc purchases, products, and subscription
// plans. All amounts are agorot. Resolution never fails a purchase flow over a
// data-quality issue; suspicious inputs yield the undiscounted price plus a
// diagnostic flag.
package pricing

import (
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/types"
)

// PurchaseFinalPrice prefers a pre-computed payment_amount; otherwise it
// derives max(0, original_price - discount_amount).
func PurchaseFinalPrice(p *models.Purchase) int64 {
	if p == nil {
		return 0
	}
	if p.PaymentAmount != nil {
		return *p.PaymentAmount
	}
	final := p.OriginalPrice - p.DiscountAmount
	if final < 0 {
		return 0
	}
	return final
}

// CartTotal sums the final prices of all purchases.
func CartTotal(purchases []*models.Purchase) int64 {
	var total int64
	for _, p := range purchases {
		total += PurchaseFinalPrice(p)
	}
	return total
}

// PlanPrice is the result of resolving a subscription plan price.
type PlanPrice struct {
	OriginalPrice int64 `json:"original_price"`
	FinalPrice    int64 `json:"final_price"`
	IsDiscounted  bool  `json:"is_discounted"`
	// DiscountExpired is set when the plan carries a discount whose validity
	// window has already closed.
	DiscountExpired bool `json:"discount_expired,omitempty"`
	// UnknownDiscountType flags a data-quality issue in the discount record;
	// the undiscounted price is returned rather than failing the flow.
	UnknownDiscountType bool `json:"unknown_discount_type,omitempty"`
}

// PlanFinalPrice applies a plan's discount, if any, as of now. Percentage and
// fixed discounts are capped at the base price and floored at zero.
func PlanFinalPrice(plan *types.SubscriptionPlan, now time.Time) PlanPrice {
	res := PlanPrice{OriginalPrice: plan.Price, FinalPrice: plan.Price}
	if !plan.HasDiscount {
		return res
	}
	if plan.DiscountValidUntil != nil && plan.DiscountValidUntil.Before(now) {
		res.DiscountExpired = true
		return res
	}

	var discount int64
	switch plan.DiscountType {
	case types.DiscountTypePercentage:
		discount = plan.Price * plan.DiscountValue / 100
	case types.DiscountTypeFixed:
		discount = plan.DiscountValue
	default:
		res.UnknownDiscountType = true
		return res
	}

	if discount > plan.Price {
		discount = plan.Price
	}
	if discount < 0 {
		discount = 0
	}

	res.FinalPrice = plan.Price - discount
	res.IsDiscounted = discount > 0
	return res
}
