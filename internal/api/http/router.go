package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/http/handlers"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Accounts       *handlers.AccountsHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Handler())
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/password/reset/request", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)

	accounts := app.Group("/accounts")
	accounts.Post("", cfg.Accounts.Setup)
	accounts.Post("/activate", cfg.Accounts.Activate)
	accounts.Post("/email/confirm", cfg.Accounts.ConfirmEmail)

	protected := accounts.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/me", auth.RequireScope(domain.ScopeUser, domain.ScopeAdmin), cfg.Accounts.Me)

	owned := protected.Group("/:id", auth.RequireSelfOrAdmin("id"))
	owned.Get("", cfg.Accounts.Get)
	owned.Patch("", cfg.Accounts.Update)
	owned.Delete("", cfg.Accounts.Delete)
	owned.Post("/password", cfg.Accounts.ChangePassword)
	owned.Post("/email", cfg.Accounts.RequestEmailChange)
	owned.Post("/email/verify", cfg.Accounts.RequestEmailVerification)
}
