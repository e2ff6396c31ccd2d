package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-speaking-lab/internal/config"
	"github.com/noah-isme/gema-speaking-lab/internal/handler"
	"github.com/noah-isme/gema-speaking-lab/internal/middleware"
	"github.com/noah-isme/gema-speaking-lab/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	PracticeHandler *handler.PracticeHandler
	SocketHandler   *handler.RecordingSocketHandler
	ReviewHandler   *handler.ReviewHandler
	JWTMiddleware   fiber.Handler
	// UploadLimit guards multipart recording uploads.
	UploadLimit  fiber.Handler
	HealthChecks map[string]handler.HealthCheckFunc
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	workspaces := api.Group("/practice/workspaces", jwtMiddleware)
	if deps.SocketHandler != nil {
		deps.SocketHandler.Register(workspaces)
	}
	if deps.PracticeHandler != nil {
		deps.PracticeHandler.Register(workspaces, deps.UploadLimit)
	}

	if deps.ReviewHandler != nil {
		review := api.Group("/review", jwtMiddleware, middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin))
		deps.ReviewHandler.Register(review)
	}
}
