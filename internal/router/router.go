package router

import (
	"time"

	"fwstore/config"
	"fwstore/internal/handler"
	"fwstore/internal/middleware"
	"fwstore/internal/repository"
	"fwstore/internal/service"
	"fwstore/internal/ws"
	"fwstore/pkg/cloudinary"
	"fwstore/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the external collaborators built in main. Optional ones may be nil.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client     // optional: shared rate limits
	Images   cloudinary.Client // optional: icon uploads
	Provider payment.Provider
	Events   service.EventPublisher
	Mailer   service.Mailer
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewLimiter(d.Redis, "rl:global:", 100, 60*time.Second)))

	db := d.DB

	// Repositories
	userRepo := repository.NewUserRepository(db)
	brandRepo := repository.NewBrandRepository(db)
	firmwareRepo := repository.NewFirmwareRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// Services
	emails := service.NewEmailService(d.Mailer, cfg.Server.PublicURL)
	auditSvc := service.NewAuditService(auditRepo)
	tokenSvc := service.NewTokenService(db, tokenRepo, cfg.Download.TokenTTL)
	authSvc := service.NewAuthService(cfg, userRepo, emails)
	catalogSvc := service.NewCatalogService(brandRepo, firmwareRepo, d.Images)
	purchaseSvc := service.NewPurchaseService(db, paymentRepo, firmwareRepo, userRepo, tokenSvc, d.Provider, auditSvc, d.Events, emails)
	withdrawalSvc := service.NewWithdrawalService(db, paymentRepo, withdrawalRepo, d.Provider, auditSvc, d.Events)
	adminSvc := service.NewAdminService(adminRepo, userRepo, paymentRepo, auditSvc)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	purchaseHandler := handler.NewPurchaseHandler(purchaseSvc, auditSvc)
	webhookHandler := handler.NewMpesaWebhookHandler(purchaseSvc, withdrawalSvc)
	adminHandler := handler.NewAdminHandler(adminSvc, auditSvc)
	adminCatalogHandler := handler.NewAdminCatalogHandler(catalogSvc)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc)
	paymentStream := ws.NewPaymentStream(&cfg.JWT, purchaseSvc)

	authMw := middleware.AuthRequired(&cfg.JWT)
	redeemLimit := middleware.RateLimit(middleware.NewLimiter(d.Redis, "rl:redeem:", cfg.Download.RedeemRateLimit, cfg.Download.RedeemWindow))
	authLimit := middleware.RateLimit(middleware.NewLimiter(d.Redis, "rl:auth:", 10, time.Minute))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authGroup.Use(authLimit)
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/verify-email", authHandler.VerifyEmail)
			authGroup.POST("/resend-verification", authHandler.ResendVerification)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/forgot-password", authHandler.ForgotPassword)
			authGroup.POST("/reset-password", authHandler.ResetPassword)
		}

		api.GET("/brands", catalogHandler.ListBrands)
		api.GET("/brands/:id", catalogHandler.GetBrand)
		api.GET("/firmwares", catalogHandler.ListFirmware)
		api.GET("/firmwares/:id", catalogHandler.GetFirmware)
		api.POST("/firmwares/:id/purchase", authMw, purchaseHandler.Purchase)
		api.GET("/firmwares/:id/free-download", authMw, purchaseHandler.FreeDownload)

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("", authHandler.Me)
			me.PUT("/password", authHandler.ChangePassword)
			me.GET("/payments", purchaseHandler.History)
		}

		api.GET("/payments/:reference/status", authMw, purchaseHandler.Status)
		api.POST("/payments/:reference/download-link", authMw, purchaseHandler.DownloadLink)
		api.GET("/downloads/:token", redeemLimit, authMw, purchaseHandler.Redeem)
		api.GET("/ws/payments", paymentStream.Handle)

		webhooks := api.Group("/webhooks/mpesa/:secret")
		webhooks.Use(middleware.CallbackSecret(cfg.Mpesa.CallbackSecret))
		{
			webhooks.POST("/stk", webhookHandler.STKCallback)
			webhooks.POST("/b2c/result", webhookHandler.B2CResult)
			webhooks.POST("/b2c/timeout", webhookHandler.B2CTimeout)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired(userRepo))
		{
			admin.GET("/dashboard", adminHandler.Dashboard)
			admin.GET("/revenue", adminHandler.Revenue)
			admin.GET("/users", adminHandler.ListUsers)
			admin.POST("/users/:id/verify", adminHandler.VerifyUser)
			admin.DELETE("/users/:id", adminHandler.DeleteUser)
			admin.GET("/payments", adminHandler.ListPayments)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)

			admin.POST("/brands", adminCatalogHandler.CreateBrand)
			admin.PUT("/brands/:id", adminCatalogHandler.UpdateBrand)
			admin.DELETE("/brands/:id", adminCatalogHandler.DeleteBrand)
			admin.GET("/firmwares", adminCatalogHandler.ListFirmware)
			admin.GET("/firmwares/:id", adminCatalogHandler.GetFirmware)
			admin.POST("/firmwares", adminCatalogHandler.CreateFirmware)
			admin.PUT("/firmwares/:id", adminCatalogHandler.UpdateFirmware)
			admin.DELETE("/firmwares/:id", adminCatalogHandler.DeleteFirmware)

			admin.GET("/balance", withdrawalHandler.Balance)
			admin.GET("/withdrawals", withdrawalHandler.List)
			admin.POST("/withdrawals", withdrawalHandler.Create)
		}
	}

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	return r
}
