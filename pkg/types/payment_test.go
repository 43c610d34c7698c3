package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransactionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{TransactionStatusPending, TransactionStatusCompleted, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusExpired, true},
		{TransactionStatusInProgress, TransactionStatusCompleted, true},
		{TransactionStatusCompleted, TransactionStatusFailed, false},
		{TransactionStatusCompleted, TransactionStatusPending, false},
		{TransactionStatusFailed, TransactionStatusCompleted, false},
		{TransactionStatusExpired, TransactionStatusCompleted, false},
	}
	for _, c := range cases {
		require.Equal(t, c.allowed, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransactionStatusTerminalAndRetryable(t *testing.T) {
	require.False(t, TransactionStatusPending.Terminal())
	require.False(t, TransactionStatusInProgress.Terminal())
	for _, s := range []TransactionStatus{TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired} {
		require.True(t, s.Terminal(), "%s", s)
	}

	require.False(t, TransactionStatusCompleted.Retryable())
	for _, s := range []TransactionStatus{TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired} {
		require.True(t, s.Retryable(), "%s", s)
	}
}

func TestPurchaseStatusTransitions(t *testing.T) {
	require.True(t, PurchaseStatusCart.CanTransitionTo(PurchaseStatusPending))
	require.True(t, PurchaseStatusPending.CanTransitionTo(PurchaseStatusCart))
	require.True(t, PurchaseStatusFailed.CanTransitionTo(PurchaseStatusCart))
	require.False(t, PurchaseStatusCompleted.CanTransitionTo(PurchaseStatusCart))
	require.False(t, PurchaseStatusCompleted.CanTransitionTo(PurchaseStatusPending))
}

func TestRenewalWindow(t *testing.T) {
	from := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC), BillingPeriodMonthly.RenewalWindow(from))
	require.Equal(t, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), BillingPeriodYearly.RenewalWindow(from))
	require.Equal(t, time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC), BillingPeriod("bogus").RenewalWindow(from))
}
