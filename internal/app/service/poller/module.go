package poller

import (
	"context"

	"github.com/brightseed/checkout/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(registerSchedule),
)

// registerSchedule ties the poll cycle to the process lifecycle. The cron
// entry fires on cfg.Poller.CronSpec; overlapping fires are shed by the
// cycle's own single-flight guard.
func registerSchedule(lc fx.Lifecycle, cfg *config.Config, svc *Service, log *zap.SugaredLogger) error {
	c := cron.New()
	_, err := c.AddFunc(cfg.Poller.CronSpec, func() {
		if _, err := svc.PollAllPending(context.Background()); err != nil {
			log.Errorw("poll_cycle_error", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			log.Infow("poller_started", "schedule", cfg.Poller.CronSpec)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
