// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"corapay/internal/config"
	"corapay/internal/handlers"
	"corapay/internal/locks"
	"corapay/internal/middleware"
	"corapay/internal/repositories"
	"corapay/internal/services/ledger"
	"corapay/internal/services/provider"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Initialize the store-backed coordination pieces
	repo := repositories.NewLedgerRepository(db)
	locker := locks.NewRedisLocker(
		repositories.CacheService.Client(),
		config.GetDurationEnv("LOCK_LEASE", 0),
		config.GetDurationEnv("LOCK_WAIT_BUDGET", 0),
	)
	breakers := ledger.NewBreakerRegistry(ledger.DefaultBreakerSettings())
	payoutProvider := provider.NewStripeAdapter()

	ledgerService := ledger.NewService(
		repo,
		locker,
		breakers,
		payoutProvider,
		repositories.CacheService,
		&ledger.NoopMetricsCollector{},
	)

	// Initialize handlers
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	adminHandler := handlers.NewAdminHandler(ledgerService)
	webhookHandler := handlers.NewWebhookHandler(ledgerService)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to Corapay API",
			"version": "1.0.0",
			"docs":    "/api",
		})
	})
	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api")

	// Provider callbacks authenticate by signature, not bearer token
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	authMiddleware := middleware.NewAuthMiddleware(config.GetEnv("JWT_SECRET", ""))
	protected := api.Use(authMiddleware.Handler)

	// Wallets
	protected.Post("/wallets", ledgerHandler.CreateWallet)
	protected.Get("/wallets/:asset", ledgerHandler.GetWallet)

	// Money-creating operations (Idempotency-Key required)
	protected.Post("/withdrawals", ledgerHandler.Withdraw)
	protected.Post("/exchanges", ledgerHandler.Exchange)
	protected.Post("/exchanges/:id/cancel", ledgerHandler.CancelExchange)
	protected.Post("/exchanges/:id/complete", ledgerHandler.CompleteExchange)
	protected.Post("/transfers", ledgerHandler.Transfer)

	// Read side
	protected.Get("/transactions", ledgerHandler.ListTransactions)
	protected.Get("/transactions/:id", ledgerHandler.GetTransaction)

	// Operator endpoints
	admin := protected.Group("/admin", middleware.RequireAdmin)
	admin.Post("/transactions/:id/resolve", adminHandler.ResolveReview)
	admin.Post("/transactions/:id/review", adminHandler.FlagForReview)
	admin.Post("/transactions/:id/settle", adminHandler.Settle)
}
