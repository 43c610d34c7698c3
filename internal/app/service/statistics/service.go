package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatisticType string

const (
	// Daily counts and GMV over completed transactions
	StatisticTypeDailyTransactionCount StatisticType = "daily_transaction_count"
	StatisticTypeDailyGmv              StatisticType = "daily_gmv"
	StatisticTypeTotalGmv              StatisticType = "total_gmv"

	// Race-resolution health
	StatisticTypeCompletionSourceBreakdown StatisticType = "completion_source_breakdown"

	// Subscription related
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
	StatisticTypeActiveSubscriptionCount   StatisticType = "active_subscription_count"

	// Purchase mix by purchasable type
	StatisticTypePurchaseTypeBreakdown StatisticType = "purchase_type_breakdown"
)

type CheckoutStatisticFilterType string

const (
	CheckoutStatisticFilterTypeEnvironment     CheckoutStatisticFilterType = "environment"
	CheckoutStatisticFilterTypePurchasableType CheckoutStatisticFilterType = "purchasable_type"
)

var filterTypes = []CheckoutStatisticFilterType{
	CheckoutStatisticFilterTypeEnvironment,
	CheckoutStatisticFilterTypePurchasableType,
}

var validFilters = map[CheckoutStatisticFilterType][]StatisticType{
	CheckoutStatisticFilterTypeEnvironment: {
		StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeCompletionSourceBreakdown,
	},
	CheckoutStatisticFilterTypePurchasableType: {StatisticTypePurchaseTypeBreakdown},
}

type CheckoutStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type CheckoutStatisticRequest struct {
	Filters   []*types.CommonFilter        `json:"filters"`
	DataItems []*CheckoutStatisticDataItem `json:"data_items"`
}

func (f *CheckoutStatisticRequest) GetFilters(statisticType StatisticType) *CheckoutStatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result CheckoutStatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[CheckoutStatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

func (f *CheckoutStatisticRequest) Build(builder clause.Builder) {
	if f == nil || len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		filter.Build(builder)
	}
}

type CheckoutStatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type CheckoutStatisticResponse struct {
	DataItems map[StatisticType][]CheckoutStatisticResponseDataItem `json:"data_items"`
}

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) getDailyTransactionCount(ctx context.Context, request *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Transaction{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, count(*) as value").
		Where("payment_status = ?", types.TransactionStatusCompleted).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyTransactionCount)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyGmv(ctx context.Context, request *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Transaction{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, sum(total_amount) as value").
		Where("payment_status = ?", types.TransactionStatusCompleted).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyGmv)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalGmv(ctx context.Context, _ *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH min_max_dates AS (
    SELECT MIN(DATE(created_at)) as min_date, MAX(DATE(created_at)) as max_date
    FROM transaction WHERE payment_status = ?
),
distinct_dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval) as date FROM min_max_dates
),
gmv_date AS (
    SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COALESCE(SUM(t.total_amount), 0) as value
    FROM distinct_dates d
    LEFT JOIN transaction t
      ON DATE(t.created_at) = DATE(d.date)
     AND t.payment_status = ?
    GROUP BY d.date
)
SELECT d.date as date, SUM(s.value) as value
FROM gmv_date d
LEFT JOIN gmv_date s ON s.date <= d.date
GROUP BY d.date
ORDER BY d.date DESC
`, types.TransactionStatusCompleted, types.TransactionStatusCompleted).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getCompletionSourceBreakdown(ctx context.Context, request *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Transaction{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, race_condition_winner as label, count(*) as value").
		Where("race_condition_winner IS NOT NULL").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeCompletionSourceBreakdown)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("race_condition_winner").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, _ *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH distinct_dates AS (
    SELECT DISTINCT DATE(started_at) as date FROM subscription_record ORDER BY date
),
buyer_date AS (
    SELECT buyer_id, DATE(started_at) as date FROM subscription_record
)
SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COUNT(DISTINCT s.buyer_id) as value
FROM distinct_dates d
JOIN buyer_date s ON s.date = d.date
GROUP BY d.date
ORDER BY d.date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getActiveSubscriptionCount(ctx context.Context, _ *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SubscriptionRecord{}).TableName()).
		Select("count(*) as value").
		Where("status = ?", types.SubscriptionStatusActive).
		Where("expires_at >= ?", time.Now())
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getPurchaseTypeBreakdown(ctx context.Context, request *CheckoutStatisticRequest) ([]CheckoutStatisticResponseDataItem, error) {
	var results []CheckoutStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Purchase{}).TableName()).
		Select("purchasable_type as label, count(*) as value").
		Where("payment_status = ?", types.PurchaseStatusCompleted).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypePurchaseTypeBreakdown)}}).
		Group("purchasable_type").
		Order("value DESC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getCheckoutStatistic(ctx context.Context, request *CheckoutStatisticRequest, dataItem *CheckoutStatisticDataItem) ([]CheckoutStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyTransactionCount:
		return s.getDailyTransactionCount(ctx, request)
	case StatisticTypeDailyGmv:
		return s.getDailyGmv(ctx, request)
	case StatisticTypeTotalGmv:
		return s.getTotalGmv(ctx, request)
	case StatisticTypeCompletionSourceBreakdown:
		return s.getCompletionSourceBreakdown(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	case StatisticTypeActiveSubscriptionCount:
		return s.getActiveSubscriptionCount(ctx, request)
	case StatisticTypePurchaseTypeBreakdown:
		return s.getPurchaseTypeBreakdown(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

func (s *Service) GetCheckoutStatistic(ctx context.Context, request *CheckoutStatisticRequest) (*CheckoutStatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []CheckoutStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *CheckoutStatisticDataItem) {
			defer wg.Done()
			for _, filter := range request.Filters {
				ft := CheckoutStatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []CheckoutStatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getCheckoutStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []CheckoutStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]CheckoutStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &CheckoutStatisticResponse{DataItems: results}, nil
}
