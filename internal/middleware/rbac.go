package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

type roleSet map[string]struct{}

func newRoleSet(roles []string) roleSet {
	set := make(roleSet, len(roles))
	for _, role := range roles {
		if normalized := strings.ToLower(strings.TrimSpace(role)); models.IsValidRole(normalized) {
			set[normalized] = struct{}{}
		}
	}
	return set
}

// authorize returns the rejection status for the current request, or 0 when it may proceed.
// An empty set only demands an authenticated user.
func (s roleSet) authorize(c *fiber.Ctx) (int, string) {
	userID, _ := c.Locals("user_id").(uint)
	role, _ := c.Locals("user_role").(string)
	if userID == 0 || role == "" {
		return fiber.StatusUnauthorized, "authentication required"
	}
	if len(s) == 0 {
		return 0, ""
	}
	if _, ok := s[strings.ToLower(role)]; !ok {
		return fiber.StatusForbidden, "insufficient permissions"
	}
	return 0, ""
}

// RequireRole admits authenticated users holding one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := newRoleSet(roles)
	return func(c *fiber.Ctx) error {
		if status, msg := allowed.authorize(c); status != 0 {
			return utils.SendError(c, status, msg)
		}
		return c.Next()
	}
}

// RequireStaff admits teachers and admins.
func RequireStaff() fiber.Handler {
	return RequireRole(models.RoleTeacher, models.RoleAdmin)
}
