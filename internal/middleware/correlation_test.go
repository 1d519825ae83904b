package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/observability"
)

func TestCorrelationIDReusesOrGenerates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, GetCorrelationID(c), observability.CorrelationID(c.UserContext()))
		return c.SendString(GetCorrelationID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "exam-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "exam-42", resp.Header.Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-7")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-7", resp.Header.Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, strings.Repeat("x", maxCorrelationLength+1))
	resp, err = app.Test(req)
	require.NoError(t, err)
	generated := resp.Header.Get(HeaderCorrelationID)
	require.Len(t, generated, 36)
}

func TestAcceptCorrelationRejectsUnsafeValues(t *testing.T) {
	require.Equal(t, "abc-123", acceptCorrelation("  abc-123 "))
	require.Empty(t, acceptCorrelation("has space"))
	require.Empty(t, acceptCorrelation("line\nbreak"))
	require.Empty(t, acceptCorrelation(""))
}
