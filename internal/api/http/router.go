package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Queues *handlers.QueuesHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	queues := app.Group("/queues")
	queues.Get("/", cfg.Queues.List)
	queues.Post("/:name/pause", cfg.Queues.Pause)
	queues.Post("/:name/resume", cfg.Queues.Resume)
}
