package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	"github.com/smallbiznis/clubpay/internal/observability"
	obslogger "github.com/smallbiznis/clubpay/internal/observability/logger"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	webhookservice "github.com/smallbiznis/clubpay/internal/webhook/service"
	"github.com/smallbiznis/clubpay/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *telemetry.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationID())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(RequestMetrics(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	tenantSvc       tenantdomain.Service
	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service
	analyticsSvc    analyticsdomain.Service
	pipeline        *webhookservice.Pipeline
	tenantLimiter   *ratelimit.TenantLimiter
	telemetry       *telemetry.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	TenantSvc       tenantdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service
	AnalyticsSvc    analyticsdomain.Service
	Pipeline        *webhookservice.Pipeline
	TenantLimiter   *ratelimit.TenantLimiter `optional:"true"`
	Telemetry       *telemetry.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		clock:           p.Clock,
		tenantSvc:       p.TenantSvc,
		subscriptionSvc: p.SubscriptionSvc,
		planSvc:         p.PlanSvc,
		analyticsSvc:    p.AnalyticsSvc,
		pipeline:        p.Pipeline,
		tenantLimiter:   p.TenantLimiter,
		telemetry:       p.Telemetry,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/stripe", s.HandleStripeWebhook)
	hooks.POST("/stripe/:tenant_id", s.HandleTenantStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	// -------- Billing --------
	api.POST("/billing/checkout", s.Checkout)
	api.POST("/billing/cancel", s.Cancel)
	api.POST("/billing/resume", s.Resume)
	api.POST("/billing/swap", s.SwapPlan)
	api.POST("/billing/portal", s.BillingPortal)

	// -------- Plans --------
	api.POST("/plans/:id/sync", s.SyncPlan)

	// -------- Analytics --------
	api.GET("/analytics/mrr", s.GetMRR)
	api.GET("/analytics/movement", s.GetMRRMovement)
	api.GET("/analytics/churn", s.GetChurn)
	api.GET("/analytics/cohorts", s.GetCohorts)
	api.GET("/analytics/ltv", s.GetLTV)
	api.GET("/analytics/trials", s.GetTrialConversion)
	api.GET("/analytics/snapshots", s.GetSnapshots)
}

func (s *Server) maxBodyBytes() int64 {
	if n := s.cfg.Webhook.MaxBodyBytes; n > 0 {
		return n
	}
	return defaultMaxBodyBytes
}
