package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/tool"
	"github.com/brightseed/checkout/pkg/types"

	"gorm.io/datatypes"
)

// Memory is an in-process Store used by tests and local development. The
// single mutex gives it the same transition atomicity the SQL implementation
// gets from conditional UPDATEs, so race-sensitive code paths behave the same.
type Memory struct {
	mu            sync.Mutex
	transactions  map[string]*models.Transaction
	purchases     map[string]*models.Purchase
	tokens        map[string]*models.StoredPaymentToken
	subscriptions map[string]*models.SubscriptionRecord
	coupons       map[string]*models.Coupon
	downloads     map[string]int64
	logs          []*models.PaymentNotificationLog
}

func NewMemory() *Memory {
	return &Memory{
		transactions:  map[string]*models.Transaction{},
		purchases:     map[string]*models.Purchase{},
		tokens:        map[string]*models.StoredPaymentToken{},
		subscriptions: map[string]*models.SubscriptionRecord{},
		coupons:       map[string]*models.Coupon{},
		downloads:     map[string]int64{},
	}
}

var _ Store = (*Memory)(nil)

// PutPurchase and PutCoupon seed state directly; intended for tests.
func (m *Memory) PutPurchase(p *models.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.purchases[p.ID] = &cp
}

func (m *Memory) PutTransaction(t *models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
}

func (m *Memory) PutCoupon(c *models.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.coupons[c.Code] = &cp
}

func (m *Memory) Coupon(code string) *models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coupons[code]; ok {
		cp := *c
		return &cp
	}
	return nil
}

func (m *Memory) Downloads(fileID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads[fileID]
}

func (m *Memory) SubscriptionRecords() []*models.SubscriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SubscriptionRecord, 0, len(m.subscriptions))
	for _, r := range m.subscriptions {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func (m *Memory) NotificationLogs() []*models.PaymentNotificationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.PaymentNotificationLog(nil), m.logs...)
}

func (m *Memory) CreateTransaction(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetTransactionByPageUID(_ context.Context, pageUID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.PageRequestUID != nil && *t.PageRequestUID == pageUID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("transaction for page %s: %w", pageUID, ErrNotFound)
}

func (m *Memory) TransitionTransaction(_ context.Context, id string, from []types.TransactionStatus, to types.TransactionStatus, extra map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if t.PaymentStatus == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	t.PaymentStatus = to
	applyTransactionFields(t, extra)
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	applyTransactionFields(t, fields)
	t.UpdatedAt = time.Now()
	return nil
}

func applyTransactionFields(t *models.Transaction, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "payment_status":
			if s, ok := v.(types.TransactionStatus); ok {
				t.PaymentStatus = s
			}
		case "payment_url":
			switch u := v.(type) {
			case string:
				t.PaymentURL = &u
			case *string:
				t.PaymentURL = u
			}
		case "page_request_uid":
			switch u := v.(type) {
			case string:
				t.PageRequestUID = &u
			case *string:
				t.PageRequestUID = u
			}
		case "payment_method":
			switch u := v.(type) {
			case string:
				t.PaymentMethod = &u
			case *string:
				t.PaymentMethod = u
			}
		case "completed_at":
			if ts, ok := v.(time.Time); ok {
				t.CompletedAt = &ts
			}
		case "webhook_received_at":
			if ts, ok := v.(time.Time); ok {
				t.WebhookReceivedAt = &ts
			}
		case "race_condition_winner":
			if s, ok := v.(types.CompletionSource); ok {
				t.RaceConditionWinner = &s
			}
		case "processing_attempts":
			if n, ok := v.(int); ok {
				t.ProcessingAttempts = n
			}
		case "gateway_response":
			if b, ok := v.([]byte); ok {
				t.GatewayResponse = b
			}
		case "completion_summary":
			if s, ok := v.(datatypes.JSONType[*models.CompletionSummary]); ok {
				t.CompletionSummary = s
			}
		}
	}
}

func (m *Memory) AppendStatusHistory(_ context.Context, id string, entries ...models.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	t.StatusHistory = append(t.StatusHistory, entries...)
	return nil
}

func (m *Memory) TouchStatusChecked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok {
		t.StatusLastCheckedAt = &at
	}
	return nil
}

func (m *Memory) FindStaleTransactions(_ context.Context, limit int, maxAge time.Duration) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*models.Transaction
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}
	for _, t := range m.transactions {
		if t.PaymentStatus != types.TransactionStatusPending && t.PaymentStatus != types.TransactionStatusInProgress {
			continue
		}
		if t.PageRequestUID == nil || *t.PageRequestUID == "" {
			continue
		}
		if !cutoff.IsZero() && t.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *t
		rows = append(rows, &cp)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		li, lj := rows[i].StatusLastCheckedAt, rows[j].StatusLastCheckedAt
		if li == nil {
			return true
		}
		if lj == nil {
			return false
		}
		return li.Before(*lj)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) ScanTransactions(_ context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return &ScanTransactionsResponse{Items: out, Total: int64(len(out))}, nil
}

func (m *Memory) FindCheckoutPurchases(_ context.Context, buyerID string, ids []string) ([]*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idSet := map[string]bool{}
	for _, id := range ids {
		idSet[id] = true
	}
	var rows []*models.Purchase
	for _, p := range m.purchases {
		if !idSet[p.ID] || p.BuyerID != buyerID {
			continue
		}
		switch p.PaymentStatus {
		case types.PurchaseStatusCart, types.PurchaseStatusPending, types.PurchaseStatusFailed:
			cp := *p
			rows = append(rows, &cp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) ListTransactionPurchases(_ context.Context, transactionID string) ([]*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*models.Purchase
	for _, p := range m.purchases {
		if p.TransactionID != nil && *p.TransactionID == transactionID {
			cp := *p
			rows = append(rows, &cp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) LinkPurchases(_ context.Context, purchaseIDs []string, transactionID string, paymentMethod string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range purchaseIDs {
		p, ok := m.purchases[id]
		if !ok || p.PaymentStatus == types.PurchaseStatusCompleted {
			continue
		}
		tid := transactionID
		p.TransactionID = &tid
		p.PaymentStatus = types.PurchaseStatusPending
		if paymentMethod != "" {
			pm := paymentMethod
			p.PaymentMethod = &pm
		}
	}
	return nil
}

func (m *Memory) UnlinkPurchases(_ context.Context, purchaseIDs []string, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range purchaseIDs {
		p, ok := m.purchases[id]
		if !ok || p.PaymentStatus == types.PurchaseStatusCompleted {
			continue
		}
		p.TransactionID = nil
		p.PaymentStatus = types.PurchaseStatusCart
		if p.Metadata == nil {
			p.Metadata = map[string]any{}
		}
		p.Metadata["reset_note"] = note
	}
	return nil
}

func (m *Memory) CascadePurchases(_ context.Context, transactionID string, from []types.PurchaseStatus, to types.PurchaseStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.purchases {
		if p.TransactionID == nil || *p.TransactionID != transactionID {
			continue
		}
		for _, f := range from {
			if p.PaymentStatus == f {
				p.PaymentStatus = to
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *Memory) GetStoredToken(_ context.Context, buyerID string) (*models.StoredPaymentToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[buyerID]
	if !ok {
		return nil, fmt.Errorf("stored token for buyer %s: %w", buyerID, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SaveStoredToken(_ context.Context, token *models.StoredPaymentToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token.ID == "" {
		token.ID = tool.GenerateUUIDV7()
	}
	cp := *token
	m.tokens[token.BuyerID] = &cp
	return nil
}

func (m *Memory) CreateSubscriptionRecord(_ context.Context, rec *models.SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = tool.GenerateUUIDV7()
	}
	cp := *rec
	m.subscriptions[rec.ID] = &cp
	return nil
}

func (m *Memory) ListSubscriptionRecords(_ context.Context, buyerID string) ([]*models.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*models.SubscriptionRecord
	for _, r := range m.subscriptions {
		if r.BuyerID == buyerID {
			cp := *r
			rows = append(rows, &cp)
		}
	}
	return rows, nil
}

func (m *Memory) CommitCouponUsage(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return fmt.Errorf("coupon %s: %w", code, ErrNotFound)
	}
	c.UsedCount++
	return nil
}

func (m *Memory) IncrementDownloadCount(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[fileID]++
	return nil
}

func (m *Memory) SaveNotificationLog(_ context.Context, entry *models.PaymentNotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	cp := *entry
	m.logs = append(m.logs, &cp)
	return nil
}
