package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLogsApiRequests(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(CorrelationID())
	app.Use(Observability(zerolog.New(&buf)))
	app.Get("/api/v1/exams/:id", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(5))
		return c.Status(fiber.StatusNotFound).SendString("missing")
	})
	app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/9", nil)
	req.Header.Set(HeaderCorrelationID, "corr-9")
	_, err := app.Test(req, -1)
	require.NoError(t, err)

	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "/api/v1/exams/:id", entry["route"])
	require.Equal(t, "corr-9", entry["correlation_id"])
	require.EqualValues(t, 404, entry["status"])
	require.EqualValues(t, 5, entry["user_id"])
}

func TestRequestLevel(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, requestLevel(fiber.StatusCreated))
	require.Equal(t, zerolog.WarnLevel, requestLevel(fiber.StatusTooManyRequests))
	require.Equal(t, zerolog.ErrorLevel, requestLevel(fiber.StatusServiceUnavailable))
}
