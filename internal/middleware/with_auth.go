package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/exam-portal-api/internal/utils"
)

// WithAuth guards a single handler instead of a route group. Without roles any
// authenticated user passes.
func WithAuth(handler fiber.Handler, roles ...string) fiber.Handler {
	allowed := newRoleSet(roles)
	return func(c *fiber.Ctx) error {
		if status, msg := allowed.authorize(c); status != 0 {
			return utils.Fail(c, status, msg, nil)
		}
		return handler(c)
	}
}
