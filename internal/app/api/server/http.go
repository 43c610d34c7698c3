package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brightseed/checkout/docs"
	"github.com/brightseed/checkout/internal/app/api/handlers"
	mw "github.com/brightseed/checkout/internal/app/api/middleware"
	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/intent"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	notificationlog "github.com/brightseed/checkout/internal/app/service/notification_log"
	"github.com/brightseed/checkout/internal/app/service/poller"
	"github.com/brightseed/checkout/internal/app/service/statistics"
	cfgpkg "github.com/brightseed/checkout/pkg/config"
	metrics "github.com/brightseed/checkout/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Request tracing only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	store ledger.Store,
	orch intent.Orchestrator,
	arbiter completion.Arbiter,
	pollSvc *poller.Service,
	stats *statistics.Service,
	notifLog *notificationlog.Service,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Payment APIs: intent creation, status, and the gateway callback
	apiV1Payment := r.Group("/api/v1/payment")
	apiV1Payment.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterPaymentRoutes(apiV1Payment, orch)
	handlers.RegisterPaymentWebhookRoutes(apiV1Payment.Group("/webhook"), handlers.WebhookDeps{
		Store:    store,
		Arbiter:  arbiter,
		NotifLog: notifLog,
		Logger:   log,
	})

	// Admin APIs behind the bearer guard
	apiV1Admin := r.Group("/api/v1/admin")
	apiV1Admin.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.AdminAuthMiddleware(cfg))
	handlers.RegisterAdminRoutes(apiV1Admin, store, pollSvc, stats)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
