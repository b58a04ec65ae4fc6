package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/savethedate/payments/internal/config"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	"github.com/savethedate/payments/internal/observability"
	obsmiddleware "github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	obstracing "github.com/savethedate/payments/internal/observability/tracing"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	"github.com/savethedate/payments/internal/ratelimit"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	reportingdomain "github.com/savethedate/payments/internal/reporting/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	giftItemSvc  giftitemdomain.Service
	paymentSvc   paymentdomain.Service
	webhookSvc   paymentdomain.WebhookService
	payoutSvc    payoutdomain.Service
	refundSvc    refunddomain.Service
	reportingSvc reportingdomain.Service
	initLimiter  *ratelimit.InitializeLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	GiftItemSvc  giftitemdomain.Service
	PaymentSvc   paymentdomain.Service
	WebhookSvc   paymentdomain.WebhookService
	PayoutSvc    payoutdomain.Service
	RefundSvc    refunddomain.Service
	ReportingSvc reportingdomain.Service
	InitLimiter  *ratelimit.InitializeLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		giftItemSvc:  p.GiftItemSvc,
		paymentSvc:   p.PaymentSvc,
		webhookSvc:   p.WebhookSvc,
		payoutSvc:    p.PayoutSvc,
		refundSvc:    p.RefundSvc,
		reportingSvc: p.ReportingSvc,
		initLimiter:  p.InitLimiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerDashboardRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/", CORS())

	public.OPTIONS("/webhooks/paystack", preflight)
	public.POST("/webhooks/paystack", s.HandlePaystackWebhook)

	// -------- Checkout --------
	public.OPTIONS("/api/payments/initialize", preflight)
	public.POST("/api/payments/initialize", s.InitializeRateLimit(), s.InitializePayment)
	public.OPTIONS("/api/payments/verify/:reference", preflight)
	public.GET("/api/payments/verify/:reference", s.VerifyPayment)
}

func (s *Server) registerDashboardRoutes() {
	api := s.engine.Group("/api", s.ServiceTokenRequired())

	// -------- Gift items --------
	api.POST("/events/:event_id/gift-items", s.CreateGiftItem)
	api.GET("/events/:event_id/gift-items", s.ListGiftItems)

	// -------- Reporting --------
	api.GET("/events/:event_id/transactions", s.ListTransactions)
	api.GET("/events/:event_id/transactions/export", s.ExportTransactions)
	api.GET("/events/:event_id/payout-summary", s.GetPayoutSummary)
	api.GET("/transactions/:id/receipt", s.GetReceipt)
	api.GET("/reports/reconciliation", s.GetReconciliationReport)

	// -------- Payouts --------
	api.POST("/events/:event_id/payouts", s.CreateEventPayout)
	api.POST("/users/:user_id/payouts", s.CreateUserPayout)
	api.POST("/payouts/:reference/requeue", s.RequeuePayout)

	// -------- Refunds --------
	api.POST("/transactions/:id/refund", s.RefundTransaction)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
