package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/internal/platform/payplus"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/logctx"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	pollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: "poller",
		Name:      "transaction_checks_total",
		Help:      "Poll checks by outcome.",
	}, []string{"outcome"})
	pollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Completed poll cycles.",
	})
)

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	// Skipped is set when another cycle was already running and this request
	// did nothing.
	Skipped      bool `json:"skipped,omitempty"`
	Checked      int  `json:"checked"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	Expired      int  `json:"expired"`
	LostRaces    int  `json:"lost_races"`
	StillPending int  `json:"still_pending"`
	Errors       int  `json:"errors"`
}

// Service is the reconciliation poller: the safety net for transactions whose
// webhook never arrived. It asks the gateway for the authoritative status of
// stale pending transactions and routes conclusive answers through the same
// arbiter the webhook path uses, so the at-most-once guarantee is shared.
type Service struct {
	cfg     *config.Config
	store   ledger.Store
	gateway payplus.Client
	arbiter completion.Arbiter
	log     *zap.SugaredLogger

	running atomic.Bool
}

func NewService(cfg *config.Config, store ledger.Store, gateway payplus.Client, arbiter completion.Arbiter, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, gateway: gateway, arbiter: arbiter, log: log}
}

// PollAllPending runs one cycle over stale pending transactions. Cycles are
// single-flight: a cycle requested while another runs is a no-op reporting
// Skipped instead of doubling the gateway load.
func (s *Service) PollAllPending(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return &CycleReport{Skipped: true}, nil
	}
	defer s.running.Store(false)

	log := logctx.FromCtx(ctx, s.log)
	report := &CycleReport{}

	rows, err := s.store.FindStaleTransactions(ctx, s.cfg.Poller.BatchLimit, s.cfg.Poller.MaxAge())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}

	for i, txn := range rows {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && s.cfg.Poller.Delay() > 0 {
			time.Sleep(s.cfg.Poller.Delay())
		}
		outcome := s.CheckTransaction(ctx, txn)
		report.Checked++
		switch outcome {
		case outcomeCompleted:
			report.Completed++
		case outcomeFailed:
			report.Failed++
		case outcomeExpired:
			report.Expired++
		case outcomeLostRace:
			report.LostRaces++
		case outcomePending:
			report.StillPending++
		case outcomeError:
			report.Errors++
		}
		pollOutcomes.WithLabelValues(string(outcome)).Inc()
	}

	pollCycles.Inc()
	log.Infow("poll_cycle_finished",
		"checked", report.Checked, "completed", report.Completed, "failed", report.Failed,
		"expired", report.Expired, "lost_races", report.LostRaces,
		"still_pending", report.StillPending, "errors", report.Errors)
	return report, nil
}

type CheckOutcome string

const (
	outcomeCompleted CheckOutcome = "completed"
	outcomeFailed    CheckOutcome = "failed"
	outcomeExpired   CheckOutcome = "expired"
	outcomeLostRace  CheckOutcome = "lost_race"
	outcomePending   CheckOutcome = "pending"
	outcomeError     CheckOutcome = "error"
)

// CheckTransaction resolves one transaction against the gateway. A gateway
// error never changes transaction state; the next cycle retries.
func (s *Service) CheckTransaction(ctx context.Context, txn *models.Transaction) CheckOutcome {
	log := logctx.FromCtx(ctx, s.log)
	now := time.Now()

	if txn.ExpiredAt(now) {
		return s.expire(ctx, txn)
	}
	if txn.PageRequestUID == nil || *txn.PageRequestUID == "" {
		return outcomePending
	}

	status, err := s.gateway.CheckPaymentStatus(ctx, *txn.PageRequestUID)
	if err != nil {
		log.Warnw("poll_gateway_error", "transaction_id", txn.ID, "error", err.Error())
		return outcomeError
	}
	if err := s.store.TouchStatusChecked(ctx, txn.ID, now); err != nil {
		log.Errorw("poll_touch_failed", "transaction_id", txn.ID, "error", err.Error())
	}

	payload := &completion.GatewayPayload{
		TransactionUID: status.TransactionUID,
		StatusCode:     status.StatusCode,
		Status:         status.Status,
		Token:          status.Token,
		CardBrand:      status.CardBrand,
		FourDigits:     status.FourDigits,
		Raw:            status.Raw,
	}

	switch {
	case status.Paid():
		res, err := s.arbiter.ProcessCompletion(ctx, txn.ID, payload, types.CompletionSourcePolling)
		if err != nil {
			log.Errorw("poll_completion_failed", "transaction_id", txn.ID, "error", err.Error())
			return outcomeError
		}
		if res.AlreadyProcessed {
			log.Infow("poll_lost_race", "transaction_id", txn.ID)
			return outcomeLostRace
		}
		log.Infow("poll_recovered_completion", "transaction_id", txn.ID)
		return outcomeCompleted

	case status.Declined():
		res, err := s.arbiter.HandleFailedTransaction(ctx, txn.ID, payload, types.CompletionSourcePolling)
		if err != nil {
			log.Errorw("poll_failure_handling_failed", "transaction_id", txn.ID, "error", err.Error())
			return outcomeError
		}
		if res.AlreadyProcessed {
			return outcomeLostRace
		}
		return outcomeFailed

	default:
		return outcomePending
	}
}

// expire claims an overdue transaction into expired and releases its
// purchases back to the cart. The claim races webhook completion like any
// other transition; losing it means the payment actually landed.
func (s *Service) expire(ctx context.Context, txn *models.Transaction) CheckOutcome {
	log := logctx.FromCtx(ctx, s.log)
	claimed, err := s.store.TransitionTransaction(ctx, txn.ID,
		[]types.TransactionStatus{types.TransactionStatusPending, types.TransactionStatusInProgress},
		types.TransactionStatusExpired, nil)
	if err != nil {
		log.Errorw("poll_expire_failed", "transaction_id", txn.ID, "error", err.Error())
		return outcomeError
	}
	if !claimed {
		return outcomeLostRace
	}
	if err := s.store.AppendStatusHistory(ctx, txn.ID, models.StatusHistoryEntry{
		At:      time.Now(),
		From:    txn.PaymentStatus,
		To:      types.TransactionStatusExpired,
		Source:  types.CompletionSourcePolling,
		Outcome: models.HistoryOutcomeExpired,
		Note:    "payment page expired without a conclusive gateway status",
	}); err != nil {
		log.Errorw("poll_expire_history_failed", "transaction_id", txn.ID, "error", err.Error())
	}

	purchases, err := s.store.ListTransactionPurchases(ctx, txn.ID)
	if err != nil {
		log.Errorw("poll_expire_list_failed", "transaction_id", txn.ID, "error", err.Error())
		return outcomeExpired
	}
	var ids []string
	for _, p := range purchases {
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		if err := s.store.UnlinkPurchases(ctx, ids, fmt.Sprintf("transaction %s expired", txn.ID)); err != nil {
			log.Errorw("poll_expire_unlink_failed", "transaction_id", txn.ID, "error", err.Error())
		}
	}
	log.Infow("transaction_expired", "transaction_id", txn.ID, "released_purchases", len(ids))
	return outcomeExpired
}
