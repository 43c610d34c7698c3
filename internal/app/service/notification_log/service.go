package notification_log

import (
	"context"

	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/logctx"

	"go.uber.org/zap"
)

type Service struct {
	store ledger.Store
	log   *zap.SugaredLogger
}

func New(store ledger.Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

// Save asynchronously persists a payment notification log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.PaymentNotificationLog) {
	go func() {
		if entry == nil {
			return
		}
		if err := s.store.SaveNotificationLog(context.WithoutCancel(ctx), entry); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}
