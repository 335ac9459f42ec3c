package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	PromptHandler  *handler.PromptHandler
	JWTMiddleware  fiber.Handler
	AgentNames     []string
	// GradingRateLimit caps batch and question grading calls per user per minute.
	GradingRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.AgentNames))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	gradingGroup := app.Group("/api/v2/grading", jwtMiddleware)

	if deps.PromptHandler != nil {
		// Rubrics are staff-only; writes also need an identified user for the version history.
		prompts := gradingGroup.Group("/prompts", middleware.RequireRole("admin", "teacher"))
		deps.PromptHandler.Register(prompts, func(h fiber.Handler) fiber.Handler {
			return middleware.WithAuth(h, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true})
		})
	}

	if deps.GradingHandler != nil {
		limited := gradingGroup.Group("", middleware.RateLimit("grading", deps.GradingRateLimit, time.Minute))
		deps.GradingHandler.Register(limited)
	}
}
