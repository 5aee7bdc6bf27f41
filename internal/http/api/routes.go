package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/ledger"
	"github.com/campusloop/loyalty/internal/ratelimit"
	"github.com/campusloop/loyalty/internal/roles"
)

// RegisterRoutes mounts the full API surface on the router.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, limiter *ratelimit.Manager) {
	engine := ledger.New(db)

	authHandler := NewAuthHandler(db, jwtCfg)
	userHandler := NewUserHandler(db, engine)
	transactionHandler := NewTransactionHandler(db, engine)
	promotionHandler := NewPromotionHandler(db)
	eventHandler := NewEventHandler(db, engine)
	settingHandler := NewSettingHandler(db)

	r.POST("/auth/tokens", authHandler.Login)
	r.POST("/auth/resets", authHandler.RequestReset)
	r.POST("/auth/resets/:resetToken", authHandler.ApplyReset)

	authed := r.Group("")
	authed.Use(authMiddleware(db, jwtCfg), rateLimitMiddleware(limiter))

	users := authed.Group("/users")
	{
		users.POST("", requireLevel(roles.Cashier), userHandler.Register)
		users.GET("", requireLevel(roles.Manager), userHandler.List)
		users.GET("/me", userHandler.Me)
		users.PATCH("/me", userHandler.UpdateMe)
		users.PATCH("/me/password", userHandler.ChangePassword)
		users.POST("/me/transactions", userHandler.CreateRedemption)
		users.GET("/me/transactions", userHandler.ListOwnTransactions)
		users.GET("/:userId", requireLevel(roles.Cashier), userHandler.Get)
		users.PATCH("/:userId", requireLevel(roles.Manager), userHandler.Update)
		users.POST("/:userId/transactions", userHandler.CreateTransfer)
	}

	transactions := authed.Group("/transactions")
	{
		transactions.POST("", requireLevel(roles.Cashier), transactionHandler.Create)
		transactions.GET("", requireLevel(roles.Manager), transactionHandler.List)
		transactions.GET("/reconciliation", requireLevel(roles.Manager), transactionHandler.Reconcile)
		transactions.GET("/:transactionId", requireLevel(roles.Manager), transactionHandler.Get)
		transactions.PATCH("/:transactionId/suspicious", requireLevel(roles.Manager), transactionHandler.SetSuspicious)
		transactions.PATCH("/:transactionId/processed", requireLevel(roles.Cashier), transactionHandler.Process)
		transactions.PATCH("/:transactionId", requireLevel(roles.Manager), transactionHandler.UpdateRemark)
		transactions.DELETE("/:transactionId", requireLevel(roles.Manager), transactionHandler.Delete)
	}

	promotions := authed.Group("/promotions")
	{
		promotions.POST("", requireLevel(roles.Manager), promotionHandler.Create)
		promotions.GET("", promotionHandler.List)
		promotions.GET("/:promotionId", promotionHandler.Get)
		promotions.PATCH("/:promotionId", requireLevel(roles.Manager), promotionHandler.Update)
		promotions.DELETE("/:promotionId", requireLevel(roles.Manager), promotionHandler.Delete)
	}

	events := authed.Group("/events")
	{
		events.POST("", requireLevel(roles.Manager), eventHandler.Create)
		events.GET("", eventHandler.List)
		events.GET("/:eventId", eventHandler.Get)
		events.PATCH("/:eventId", eventHandler.Update)
		events.DELETE("/:eventId", requireLevel(roles.Manager), eventHandler.Delete)
		events.POST("/:eventId/organizers", requireLevel(roles.Manager), eventHandler.AddOrganizer)
		events.DELETE("/:eventId/organizers/:userId", requireLevel(roles.Manager), eventHandler.RemoveOrganizer)
		events.POST("/:eventId/guests", eventHandler.AddGuest)
		events.POST("/:eventId/guests/me", eventHandler.RSVP)
		events.DELETE("/:eventId/guests/:userId", requireLevel(roles.Manager), eventHandler.RemoveGuest)
		events.POST("/:eventId/transactions", eventHandler.Award)
	}

	authedSettings := authed.Group("/settings")
	{
		authedSettings.GET("", settingHandler.List)
		authedSettings.PATCH("", requireLevel(roles.Manager), settingHandler.Update)
	}
}
