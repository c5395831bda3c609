package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/api/http/handlers"
	"github.com/maisonluxe/storefront/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health     *handlers.HealthHandler
	Auth       *handlers.AuthHandler
	Account    *handlers.AccountHandler
	AdminUsers *handlers.AdminUsersHandler
	Pages      *handlers.PageHandler
	Gate       *auth.Gate
	Registry   *auth.Registry

	// MetricsPath and MetricsHandler expose the Prometheus scrape endpoint.
	MetricsPath    string
	MetricsHandler fiber.Handler
}

// RegisterRoutes wires HTTP routes. Health checks and metrics are registered ahead
// of the gate; everything after it is gated.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		app.Get(cfg.MetricsPath, cfg.MetricsHandler)
	}

	app.Use(cfg.Gate.Handle)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Get("/csrf", cfg.Auth.CSRF)
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)

	api.Get("/profile", cfg.Account.Profile)

	admin := api.Group("/admin/users", auth.RequireCapabilities(cfg.Registry, auth.CapManageUsers))
	admin.Get("/", cfg.AdminUsers.List)
	admin.Patch("/:id/role", cfg.AdminUsers.UpdateRole)

	api.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "route not found")
	})

	app.Use(cfg.Pages.Serve)
}
