package app

import (
	"time"

	"github.com/brightseed/checkout/internal/app/api/server"
	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/intent"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	notificationlog "github.com/brightseed/checkout/internal/app/service/notification_log"
	"github.com/brightseed/checkout/internal/app/service/poller"
	"github.com/brightseed/checkout/internal/app/service/statistics"
	"github.com/brightseed/checkout/internal/app/service/subscription"
	"github.com/brightseed/checkout/internal/platform/db"
	"github.com/brightseed/checkout/internal/platform/payplus"
	"github.com/brightseed/checkout/pkg/config"
	"github.com/brightseed/checkout/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	server.Module,
	ledger.Module,
	payplus.Module,
	subscription.Module,
	completion.Module,
	intent.Module,
	poller.Module,
	statistics.Module,
	notificationlog.Module,
)
