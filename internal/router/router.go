package router

import (
	"time"

	"chamalink/config"
	"chamalink/internal/dispatcher"
	"chamalink/internal/handler"
	"chamalink/internal/middleware"
	"chamalink/internal/repository"
	"chamalink/internal/service"
	"chamalink/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the explicitly constructed collaborators. Gateways are
// built in main and injected, never initialized as package globals.
type Deps struct {
	FCM      *service.FCMService
	SMS      *service.SMSGateway
	Email    *service.EmailGateway
	Disp     *dispatcher.Dispatcher
	Sweeper  *dispatcher.Sweeper
	Hub      *ws.Hub
	NotifSvc *service.NotificationService
}

func Setup(cfg *config.Config, db *gorm.DB, deps Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewRateLimiter(100, 60*time.Second)))

	userRepo := repository.NewUserRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)

	authHandler := handler.NewAuthHandler(cfg, userRepo)
	notifHandler := handler.NewNotificationHandler(deps.NotifSvc)
	tokenHandler := handler.NewDeviceTokenHandler(tokenRepo)
	webhookHandler := handler.NewSMSWebhookHandler(notifRepo)
	adminHandler := handler.NewAdminHandler(deps.Disp, deps.Sweeper, deps.FCM, tokenRepo)
	healthHandler := handler.NewHealthHandler(deps.FCM, deps.SMS, deps.Email)

	authMw := middleware.AuthRequired(&cfg.JWT)
	officerMw := middleware.OfficerRequired()
	adminMw := middleware.AdminRequired()

	r.GET("/health", healthHandler.Status)

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", authHandler.Login)

		// Provider callbacks carry no member JWT.
		api.POST("/webhooks/sms/delivery", webhookHandler.DeliveryReport)

		api.GET("/ws/notifications", ws.UpgradeFeedWS(&cfg.JWT, deps.Hub))

		notif := api.Group("/notifications")
		notif.Use(authMw)
		{
			notif.GET("", notifHandler.List)
			notif.GET("/unread-count", notifHandler.UnreadCount)
			notif.GET("/:id", notifHandler.Get)
			notif.PATCH("/:id/read", notifHandler.MarkRead)
			notif.POST("/read-all", notifHandler.MarkAllRead)
			notif.POST("/:id/archive", notifHandler.Archive)

			notif.POST("", officerMw, notifHandler.Create)
			notif.POST("/bulk", officerMw, notifHandler.CreateBulk)
			notif.POST("/:id/reschedule", adminMw, notifHandler.Reschedule)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.POST("/device-tokens", tokenHandler.Register)
			me.DELETE("/device-tokens", tokenHandler.Remove)
			me.POST("/topics/:topic/subscribe", adminHandler.SubscribeTopic)
			me.POST("/topics/:topic/unsubscribe", adminHandler.UnsubscribeTopic)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, adminMw)
		{
			admin.POST("/dispatch/run", adminHandler.RunDispatch)
			admin.POST("/sweep/run", adminHandler.RunSweep)
		}
	}

	return r
}
