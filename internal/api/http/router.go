package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/pondem87/thuso-monorepo-sub000/internal/api/http/handlers"
	"github.com/pondem87/thuso-monorepo-sub000/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Dispatch       *handlers.DispatchHandler
	Metrics        nethttp.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Get("/webhook", cfg.Webhook.Verify)
	app.Post("/webhook", cfg.Webhook.Receive)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)
	api.Post("/dispatch", auth.RequireScope(auth.ScopeDispatch), cfg.Dispatch.Dispatch)
}
