package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/exam-portal-api/internal/config"
	"github.com/noah-isme/exam-portal-api/internal/handler"
	"github.com/noah-isme/exam-portal-api/internal/middleware"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	UserHandler       *handler.UserHandler
	QuestionHandler   *handler.QuestionHandler
	ExamHandler       *handler.ExamHandler
	SubmissionHandler *handler.SubmissionHandler
	MonitorHandler    *handler.MonitorHandler
	ActivityHandler   *handler.AdminActivityHandler
	JWTMiddleware     fiber.Handler
	HealthProbes      map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	if deps.AuthHandler != nil {
		limiter := middleware.RateLimit("auth", cfg.LoginRateLimit, rateWindow(cfg))
		deps.AuthHandler.Register(api.Group("/auth"), limiter, jwtMiddleware)
	}

	if deps.UserHandler != nil {
		deps.UserHandler.Register(api.Group("/users", jwtMiddleware))
	}

	if deps.QuestionHandler != nil {
		questions := api.Group("/questions", jwtMiddleware, middleware.RequireStaff())
		deps.QuestionHandler.Register(questions)
	}

	if deps.ExamHandler != nil {
		deps.ExamHandler.Register(api.Group("/exams", jwtMiddleware))
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(api.Group("/submissions", jwtMiddleware))
	}

	if deps.MonitorHandler != nil {
		deps.MonitorHandler.Register(api.Group("/monitor", jwtMiddleware))
	}

	if deps.ActivityHandler != nil {
		activity := api.Group("/admin/activity", jwtMiddleware, middleware.RequireRole(models.RoleAdmin))
		deps.ActivityHandler.Register(activity)
	}
}

func rateWindow(cfg config.Config) time.Duration {
	if cfg.LoginRateWindow <= 0 {
		return time.Minute
	}
	return cfg.LoginRateWindow
}
