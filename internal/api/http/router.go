package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-bridge/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	WebhookPath string
	Health      *handlers.HealthHandler
	Webhook     *handlers.WebhookHandler
	Metrics     *handlers.MetricsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/healthz", cfg.Health.Live)
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	path := cfg.WebhookPath
	if path == "" {
		path = "/webhook"
	}
	app.Post(path, cfg.Webhook.Receive)
}
