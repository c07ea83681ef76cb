package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignatzorin/freelance-payments/internal/config"
	"github.com/ignatzorin/freelance-payments/internal/http/handlers"
	"github.com/ignatzorin/freelance-payments/internal/http/middleware"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	paymentHandler *handlers.PaymentHandler,
	webhookHandler *handlers.WebhookHandler,
	accountHandler *handlers.AccountHandler,
	disputeHandler *handlers.DisputeHandler,
	notificationHandler *handlers.NotificationHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	wsHandler *handlers.WSHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Webhook шлюза аутентифицируется подписью, а не JWT.
	api.POST("/webhooks/gateway", webhookHandler.Handle)

	api.GET("/ws", wsHandler.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		// Создание платежа лимитируется отдельно: каждый вызов создаёт
		// интент на стороне шлюза.
		createRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
		protected.POST("/payments", createRateLimit, paymentHandler.Create)

		protected.GET("/payments", paymentHandler.List)
		protected.GET("/payments/stats", paymentHandler.Stats)
		protected.GET("/payments/:id", middleware.UUIDValidator("id"), paymentHandler.Get)
		protected.POST("/payments/:id/confirm", middleware.UUIDValidator("id"), paymentHandler.Confirm)
		protected.POST("/payments/:id/release", middleware.UUIDValidator("id"), paymentHandler.Release)
		protected.POST("/payments/:id/refund", middleware.UUIDValidator("id"), paymentHandler.Refund)
		protected.GET("/payments/:id/events", middleware.UUIDValidator("id"), paymentHandler.Events)

		protected.POST("/payments/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.Open)
		protected.GET("/payments/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.GetByPayment)
		protected.GET("/disputes", disputeHandler.List)

		protected.POST("/accounts/onboard", accountHandler.Onboard)
		protected.GET("/accounts/me", accountHandler.Get)
		protected.POST("/accounts/me/refresh", accountHandler.Refresh)

		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		protected.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkRead)

		admin := protected.Group("/admin")
		admin.Use(handlers.RequireAdmin)
		{
			admin.POST("/sweeps/auto-release", adminHandler.RunAutoRelease)
			admin.POST("/sweeps/stuck", adminHandler.RunStuckSweep)
			admin.POST("/sweeps/webhooks", adminHandler.RunWebhookMaintenance)
			admin.GET("/webhooks/stuck", adminHandler.StuckWebhooks)
		}
	}

	return r
}
