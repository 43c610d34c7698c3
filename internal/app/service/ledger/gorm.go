package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *gormStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &t, nil
}

func (s *gormStore) GetTransactionByPageUID(ctx context.Context, pageUID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).Where("page_request_uid = ?", pageUID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transaction for page %s: %w", pageUID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load transaction by page uid: %w", err)
	}
	return &t, nil
}

// TransitionTransaction is the serialization point for the completion race.
// The WHERE clause carries the expected statuses so the check and the write
// are one statement; RowsAffected tells the caller whether it won.
func (s *gormStore) TransitionTransaction(ctx context.Context, id string, from []types.TransactionStatus, to types.TransactionStatus, extra map[string]any) (bool, error) {
	fields := map[string]any{"payment_status": to}
	for k, v := range extra {
		fields[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition transaction: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) UpdateTransaction(ctx context.Context, id string, fields map[string]any) error {
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (s *gormStore) AppendStatusHistory(ctx context.Context, id string, entries ...models.StatusHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history entries: %w", err)
	}
	// jsonb concatenation keeps the append atomic server-side, preserving
	// entries written by a concurrent source.
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("status_history", gorm.Expr("COALESCE(status_history, '[]'::jsonb) || ?::jsonb", string(b))).Error; err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

func (s *gormStore) TouchStatusChecked(ctx context.Context, id string, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).Update("status_last_checked_at", at).Error; err != nil {
		return fmt.Errorf("failed to touch status_last_checked_at: %w", err)
	}
	return nil
}

func (s *gormStore) FindStaleTransactions(ctx context.Context, limit int, maxAge time.Duration) ([]*models.Transaction, error) {
	q := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("payment_status IN ?", []types.TransactionStatus{types.TransactionStatusPending, types.TransactionStatusInProgress}).
		Where("page_request_uid IS NOT NULL")
	if maxAge > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-maxAge))
	}
	var rows []*models.Transaction
	if err := q.Order("created_at DESC").
		Order("status_last_checked_at ASC NULLS FIRST").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	return rows, nil
}

// filtersAnd combines multiple CommonFilter into a single clause.Expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

func (s *gormStore) ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Transaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	var rows []*models.Transaction

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &ScanTransactionsResponse{Items: rows, Total: total}, nil
}

func (s *gormStore) FindCheckoutPurchases(ctx context.Context, buyerID string, ids []string) ([]*models.Purchase, error) {
	var rows []*models.Purchase
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND buyer_id = ?", ids, buyerID).
		Where("payment_status IN ?", []types.PurchaseStatus{types.PurchaseStatusCart, types.PurchaseStatusPending, types.PurchaseStatusFailed}).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load checkout purchases: %w", err)
	}
	return rows, nil
}

func (s *gormStore) ListTransactionPurchases(ctx context.Context, transactionID string) ([]*models.Purchase, error) {
	var rows []*models.Purchase
	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction purchases: %w", err)
	}
	return rows, nil
}

func (s *gormStore) LinkPurchases(ctx context.Context, purchaseIDs []string, transactionID string, paymentMethod string) error {
	fields := map[string]any{
		"transaction_id": transactionID,
		"payment_status": types.PurchaseStatusPending,
	}
	if paymentMethod != "" {
		fields["payment_method"] = paymentMethod
	}
	if err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id IN ? AND payment_status <> ?", purchaseIDs, types.PurchaseStatusCompleted).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to link purchases: %w", err)
	}
	return nil
}

func (s *gormStore) UnlinkPurchases(ctx context.Context, purchaseIDs []string, note string) error {
	if len(purchaseIDs) == 0 {
		return nil
	}
	annotation, _ := json.Marshal(map[string]string{"reset_note": note, "reset_at": time.Now().UTC().Format(time.RFC3339)})
	if err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id IN ? AND payment_status <> ?", purchaseIDs, types.PurchaseStatusCompleted).
		Updates(map[string]any{
			"transaction_id": nil,
			"payment_status": types.PurchaseStatusCart,
			"metadata":       gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(annotation)),
		}).Error; err != nil {
		return fmt.Errorf("failed to unlink purchases: %w", err)
	}
	return nil
}

func (s *gormStore) CascadePurchases(ctx context.Context, transactionID string, from []types.PurchaseStatus, to types.PurchaseStatus) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("transaction_id = ? AND payment_status IN ?", transactionID, from).
		Update("payment_status", to)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cascade purchases: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) GetStoredToken(ctx context.Context, buyerID string) (*models.StoredPaymentToken, error) {
	var t models.StoredPaymentToken
	if err := s.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("stored token for buyer %s: %w", buyerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load stored token: %w", err)
	}
	return &t, nil
}

func (s *gormStore) SaveStoredToken(ctx context.Context, token *models.StoredPaymentToken) error {
	if token.ID == "" {
		token.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "buyer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token", "card_brand", "last4", "source_transaction_id", "updated_at",
		}),
	}).Create(token).Error; err != nil {
		return fmt.Errorf("failed to save stored token: %w", err)
	}
	return nil
}

func (s *gormStore) CreateSubscriptionRecord(ctx context.Context, rec *models.SubscriptionRecord) error {
	if rec.ID == "" {
		rec.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create subscription record: %w", err)
	}
	return nil
}

func (s *gormStore) ListSubscriptionRecords(ctx context.Context, buyerID string) ([]*models.SubscriptionRecord, error) {
	var rows []*models.SubscriptionRecord
	if err := s.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("expires_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscription records: %w", err)
	}
	return rows, nil
}

func (s *gormStore) CommitCouponUsage(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("code = ?", code).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to commit coupon usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("coupon %s: %w", code, ErrNotFound)
	}
	return nil
}

func (s *gormStore) IncrementDownloadCount(ctx context.Context, fileID string) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"download_count": gorm.Expr("file_asset.download_count + 1")}),
	}).Create(&models.FileAsset{ID: fileID, DownloadCount: 1}).Error; err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	return nil
}

func (s *gormStore) SaveNotificationLog(ctx context.Context, entry *models.PaymentNotificationLog) error {
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("failed to save notification log: %w", err)
	}
	return nil
}
