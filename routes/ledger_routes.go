package routes

import (
	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/handlers/admin"
	"affiliate-ledger/internal/handlers/shared"
	"affiliate-ledger/internal/middleware"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Webhooks *shared.WebhookHandler
	Tracking *shared.TrackingHandler
	Health   *shared.HealthHandler
	Admin    *admin.LedgerHandler
}

// NewRouter builds the gin engine with the common middleware chain and every
// ledger route.
func NewRouter(cfg *config.Config, h *Handlers, log *logger.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.CORSMiddleware(cfg.Security.CORSAllowedOrigins),
	)

	r.GET("/health", h.Health.Health)
	SetupTrackingRoutes(r, h.Tracking)

	v1 := r.Group("/api/v1")
	SetupWebhookRoutes(v1, h.Webhooks)
	SetupProgramRoutes(v1, h.Tracking)
	SetupAdminRoutes(v1, h.Admin, cfg.Security, log)

	return r, nil
}

// SetupTrackingRoutes mounts the public referral link at the root so links
// stay short.
func SetupTrackingRoutes(r *gin.Engine, tracking *shared.TrackingHandler) {
	r.GET("/go/:affiliateId/:vendorId", tracking.RedirectClick)
}

// SetupWebhookRoutes sets up the payment provider endpoints. Providers sign
// their deliveries, so no auth middleware applies.
func SetupWebhookRoutes(r *gin.RouterGroup, webhooks *shared.WebhookHandler) {
	r.POST("/webhooks/:provider", webhooks.HandleWebhook)
}

func SetupProgramRoutes(r *gin.RouterGroup, tracking *shared.TrackingHandler) {
	r.POST("/track", tracking.TrackEvent)
	r.GET("/programs/:vendorId", tracking.GetProgram)
}

func SetupAdminRoutes(r *gin.RouterGroup, ledger *admin.LedgerHandler, security *config.SecurityConfig, log *logger.Logger) {
	group := r.Group("/admin")
	group.Use(middleware.AdminRequired(security.JWTSecret, security.AdminRole, log)...)
	{
		group.GET("/conversions/:id", ledger.GetConversion)
		group.GET("/affiliates/:affiliateId/commissions", ledger.ListAffiliateCommissions)
		group.GET("/outbox", ledger.ListOutboxTasks)
		group.POST("/outbox/:id/retry", ledger.RetryOutboxTask)
	}
}
