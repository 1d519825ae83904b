package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func roleApp(id uint, role string, guard fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id > 0 {
			c.Locals("user_id", id)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Get("/", guard, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func status(t *testing.T, app *fiber.App) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name  string
		id    uint
		role  string
		guard fiber.Handler
		want  int
	}{
		{"admin allowed", 1, "admin", RequireRole("admin", "teacher"), fiber.StatusOK},
		{"mixed case role", 1, "Teacher", RequireStaff(), fiber.StatusOK},
		{"student forbidden", 2, "student", RequireStaff(), fiber.StatusForbidden},
		{"unknown role forbidden", 2, "guest", RequireRole("student"), fiber.StatusForbidden},
		{"missing role", 3, "", RequireRole("admin"), fiber.StatusUnauthorized},
		{"missing user", 0, "admin", RequireRole("admin"), fiber.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, status(t, roleApp(tc.id, tc.role, tc.guard)))
		})
	}
}

func TestWithAuth(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }

	noop := func(c *fiber.Ctx) error { return c.Next() }
	wrap := func(id uint, role string, roles ...string) *fiber.App {
		app := roleApp(id, role, noop)
		app.Get("/guarded", WithAuth(ok, roles...))
		return app
	}
	get := func(app *fiber.App) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil), -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusNoContent, get(wrap(10, "student")))
	require.Equal(t, fiber.StatusNoContent, get(wrap(10, "student", "student")))
	require.Equal(t, fiber.StatusForbidden, get(wrap(10, "teacher", "admin")))
	require.Equal(t, fiber.StatusUnauthorized, get(wrap(0, "")))
}
