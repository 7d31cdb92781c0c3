package app

import (
	"pdf2html/internal/handlers"
	"pdf2html/internal/metrics"
	u "pdf2html/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// Deps are the long-lived objects the routes need.
type Deps struct {
	Service *handlers.ConvertService
	Metrics *metrics.Metrics
}

// SetupApp creates and configures a new Fiber app instance.
func SetupApp(cfg u.Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			apiErr := handlers.AsAPIError(err)
			if apiErr.Code >= fiber.StatusInternalServerError {
				u.Error("Request failed", "path", c.Path(), "status", apiErr.Code, "error", apiErr.Kind)
			} else {
				u.Warn("Request failed", "path", c.Path(), "status", apiErr.Code, "error", apiErr.Kind)
			}
			return handlers.WriteError(c, apiErr)
		},
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, cfg, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts the conversion API, operational endpoints and the
// optional static bundle.
func RegisterRoutes(app *fiber.App, cfg u.Config, deps Deps) {
	app.Get("/api/*", deps.Service.HandleConvert)

	ops := app.Group("/ops")
	ops.Get("/converter/stats", deps.Service.HandleConverterStats)
	if deps.Metrics != nil {
		ops.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}
	ops.Get("/monitor", monitor.New())

	if cfg.Static.DocsDir != "" {
		app.Static("/docs", cfg.Static.DocsDir)
	}
	if cfg.Static.Dir != "" {
		app.Static("/", cfg.Static.Dir)
	}
}
