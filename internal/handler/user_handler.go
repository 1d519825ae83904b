package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/middleware"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/service"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

// UserHandler wires profile, dashboard and admin account routes.
type UserHandler struct {
	users  service.UserService
	exams  service.ExamService
	logger zerolog.Logger
}

// NewUserHandler constructs the handler.
func NewUserHandler(users service.UserService, exams service.ExamService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		exams:  exams,
		logger: logger.With().Str("component", "user_handler").Logger(),
	}
}

// Register attaches user endpoints. Static paths go before /:id.
func (h *UserHandler) Register(router fiber.Router) {
	admin := middleware.RequireRole(models.RoleAdmin)
	staff := middleware.RequireStaff()

	router.Get("/profile", middleware.WithAuth(h.profile))
	router.Put("/profile", middleware.WithAuth(h.updateProfile))
	router.Get("/dashboard/stats", middleware.WithAuth(h.dashboardStats))
	router.Get("/students/enrolled/:examId", staff, h.enrolledStudents)

	router.Get("", admin, h.list)
	router.Get("/:id", admin, h.get)
	router.Put("/:id", admin, h.update)
	router.Delete("/:id", admin, h.deactivate)
	router.Post("/:id/activate", admin, h.activate)
}

func (h *UserHandler) profile(c *fiber.Ctx) error {
	user, err := h.users.Profile(c.UserContext(), actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "profile retrieved", user)
}

func (h *UserHandler) updateProfile(c *fiber.Ctx) error {
	var payload dto.ProfileUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.users.UpdateProfile(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "profile updated successfully", user)
}

func (h *UserHandler) dashboardStats(c *fiber.Ctx) error {
	stats, err := h.users.DashboardStats(c.UserContext(), actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "dashboard stats retrieved", stats)
}

func (h *UserHandler) enrolledStudents(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	students, err := h.exams.EnrolledStudents(c.UserContext(), actorFromContext(c), examID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "enrolled students retrieved", students)
}

func (h *UserHandler) list(c *fiber.Ctx) error {
	page, size, err := pagination(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	active, err := parseQueryBool(c, "is_active")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid is_active filter")
	}

	result, err := h.users.List(c.UserContext(), dto.UserListRequest{
		Page:     page,
		PageSize: size,
		Role:     c.Query("role"),
		Search:   c.Query("search"),
		IsActive: active,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "users retrieved", result.Pagination)
}

func (h *UserHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.users.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "user retrieved", user)
}

func (h *UserHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AdminUserUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.users.Update(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "user updated successfully", user)
}

func (h *UserHandler) deactivate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.users.Deactivate(c.UserContext(), actorFromContext(c), id); err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "user deactivated successfully", fiber.Map{"id": id})
}

func (h *UserHandler) activate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.users.Activate(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "user activated successfully", user)
}
