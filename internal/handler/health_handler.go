package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/exam-portal-api/internal/config"
	"github.com/noah-isme/exam-portal-api/internal/service"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

// HealthProbe checks one backing dependency.
type HealthProbe func(ctx context.Context) error

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

const probeTimeout = 2 * time.Second

// HealthCheck reports service identity plus the state of each probed dependency.
// Any failing probe turns the response into a 503 listing the unreachable dependencies.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		var failures []service.FieldError
		if len(probes) > 0 {
			payload.Dependencies = make(map[string]string, len(probes))
			ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
			defer cancel()

			for name, probe := range probes {
				if probe == nil {
					continue
				}
				if err := probe(ctx); err != nil {
					payload.Dependencies[name] = "down"
					failures = append(failures, service.FieldError{Field: name, Message: err.Error()})
					continue
				}
				payload.Dependencies[name] = "up"
			}
		}

		if len(failures) > 0 {
			return utils.Fail(c, fiber.StatusServiceUnavailable, "service degraded", failures)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
