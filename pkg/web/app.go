package web

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// App builds the fiber application with every route mounted.
func App(h *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Post("/", h.SaveWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/triggers", h.GetWorkflowTriggers)
	w.Post("/:id/runs", h.StartRun)

	t := app.Group("/triggers")
	t.Post("/:id/fire", h.FireTrigger)
	t.Patch("/:id", h.SetTrigger)

	r := app.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)

	app.Post("/hooks/*", h.Webhook)
	app.Post("/events/:source/:type", h.IntegrationEvent)

	return app
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	return app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}
