package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: record not found")

// ScanTransactionsRequest is the admin listing request (filterable, paginated).
type ScanTransactionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanTransactionsResponse struct {
	Items []*models.Transaction `json:"items"`
	Total int64                 `json:"total"`
}

// Store is the durable ledger for purchases and transactions. All correctness
// of the completion race rests on TransitionTransaction being a single
// conditional UPDATE with affected-row feedback; a read-then-write sequence is
// not an acceptable implementation.
type Store interface {
	// Transactions.
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByPageUID(ctx context.Context, pageUID string) (*models.Transaction, error)
	// TransitionTransaction atomically moves a transaction from any of the
	// given statuses to the target status, applying extra column updates in
	// the same statement. It reports whether this caller won the transition.
	TransitionTransaction(ctx context.Context, id string, from []types.TransactionStatus, to types.TransactionStatus, extra map[string]any) (bool, error)
	UpdateTransaction(ctx context.Context, id string, fields map[string]any) error
	// AppendStatusHistory appends audit entries without rewriting prior ones.
	AppendStatusHistory(ctx context.Context, id string, entries ...models.StatusHistoryEntry) error
	TouchStatusChecked(ctx context.Context, id string, at time.Time) error
	// FindStaleTransactions returns pending/in_progress transactions carrying a
	// gateway page reference, newest-first then least-recently-checked.
	FindStaleTransactions(ctx context.Context, limit int, maxAge time.Duration) ([]*models.Transaction, error)
	ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error)

	// Purchases.
	// FindCheckoutPurchases returns the buyer's purchases among ids that are
	// still eligible for checkout (cart, pending, or failed; not completed).
	FindCheckoutPurchases(ctx context.Context, buyerID string, ids []string) ([]*models.Purchase, error)
	ListTransactionPurchases(ctx context.Context, transactionID string) ([]*models.Purchase, error)
	// LinkPurchases attaches the purchases to the transaction and moves them to pending.
	LinkPurchases(ctx context.Context, purchaseIDs []string, transactionID string, paymentMethod string) error
	// UnlinkPurchases clears transaction links and resets the purchases to
	// cart. Completed purchases are never touched.
	UnlinkPurchases(ctx context.Context, purchaseIDs []string, note string) error
	// CascadePurchases conditionally moves every purchase of a transaction
	// from one of the expected statuses to the target, returning the number of
	// rows actually updated.
	CascadePurchases(ctx context.Context, transactionID string, from []types.PurchaseStatus, to types.PurchaseStatus) (int64, error)

	// Stored gateway tokens.
	GetStoredToken(ctx context.Context, buyerID string) (*models.StoredPaymentToken, error)
	SaveStoredToken(ctx context.Context, token *models.StoredPaymentToken) error

	// Subscription records.
	CreateSubscriptionRecord(ctx context.Context, rec *models.SubscriptionRecord) error
	ListSubscriptionRecords(ctx context.Context, buyerID string) ([]*models.SubscriptionRecord, error)

	// Best-effort side effects.
	CommitCouponUsage(ctx context.Context, code string) error
	IncrementDownloadCount(ctx context.Context, fileID string) error

	// Audit.
	SaveNotificationLog(ctx context.Context, entry *models.PaymentNotificationLog) error
}
