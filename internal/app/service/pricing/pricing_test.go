package pricing

import (
	"testing"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestPurchaseFinalPrice_DerivesFromOriginalMinusDiscount(t *testing.T) {
	p := &models.Purchase{OriginalPrice: 10000, DiscountAmount: 3000}
	require.Equal(t, int64(7000), PurchaseFinalPrice(p))
}

func TestPurchaseFinalPrice_ExplicitAmountWins(t *testing.T) {
	p := &models.Purchase{
		PaymentAmount:  lo.ToPtr(int64(4200)),
		OriginalPrice:  10000,
		DiscountAmount: 3000,
	}
	require.Equal(t, int64(4200), PurchaseFinalPrice(p))
}

func TestPurchaseFinalPrice_FlooredAtZero(t *testing.T) {
	p := &models.Purchase{OriginalPrice: 1000, DiscountAmount: 5000}
	require.Equal(t, int64(0), PurchaseFinalPrice(p))
}

func TestCartTotal(t *testing.T) {
	total := CartTotal([]*models.Purchase{
		{OriginalPrice: 1000},
		{PaymentAmount: lo.ToPtr(int64(500))},
		{OriginalPrice: 2000, DiscountAmount: 2000},
	})
	require.Equal(t, int64(1500), total)
}

func TestPlanFinalPrice(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		plan types.SubscriptionPlan
		want PlanPrice
	}{
		{
			name: "no discount flag",
			plan: types.SubscriptionPlan{Price: 9900},
			want: PlanPrice{OriginalPrice: 9900, FinalPrice: 9900},
		},
		{
			name: "percentage discount",
			plan: types.SubscriptionPlan{
				Price: 10000, HasDiscount: true,
				DiscountType: types.DiscountTypePercentage, DiscountValue: 25,
			},
			want: PlanPrice{OriginalPrice: 10000, FinalPrice: 7500, IsDiscounted: true},
		},
		{
			name: "fixed discount",
			plan: types.SubscriptionPlan{
				Price: 10000, HasDiscount: true,
				DiscountType: types.DiscountTypeFixed, DiscountValue: 1500,
			},
			want: PlanPrice{OriginalPrice: 10000, FinalPrice: 8500, IsDiscounted: true},
		},
		{
			name: "fixed discount capped at base price",
			plan: types.SubscriptionPlan{
				Price: 1000, HasDiscount: true,
				DiscountType: types.DiscountTypeFixed, DiscountValue: 9999,
			},
			want: PlanPrice{OriginalPrice: 1000, FinalPrice: 0, IsDiscounted: true},
		},
		{
			name: "negative discount treated as zero",
			plan: types.SubscriptionPlan{
				Price: 1000, HasDiscount: true,
				DiscountType: types.DiscountTypeFixed, DiscountValue: -200,
			},
			want: PlanPrice{OriginalPrice: 1000, FinalPrice: 1000},
		},
		{
			name: "unknown discount type yields undiscounted price with flag",
			plan: types.SubscriptionPlan{
				Price: 5000, HasDiscount: true,
				DiscountType: "bogof", DiscountValue: 50,
			},
			want: PlanPrice{OriginalPrice: 5000, FinalPrice: 5000, UnknownDiscountType: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, PlanFinalPrice(&tt.plan, now))
		})
	}
}

func TestPlanFinalPrice_ExpiredDiscountBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	plan := &types.SubscriptionPlan{
		Price: 10000, HasDiscount: true,
		DiscountType: types.DiscountTypePercentage, DiscountValue: 50,
		DiscountValidUntil: lo.ToPtr(now.Add(-time.Minute)),
	}

	res := PlanFinalPrice(plan, now)
	require.False(t, res.IsDiscounted)
	require.True(t, res.DiscountExpired)
	require.Equal(t, res.OriginalPrice, res.FinalPrice)

	// Still valid one minute before the window closes.
	plan.DiscountValidUntil = lo.ToPtr(now.Add(time.Minute))
	res = PlanFinalPrice(plan, now)
	require.True(t, res.IsDiscounted)
	require.Equal(t, int64(5000), res.FinalPrice)
}
