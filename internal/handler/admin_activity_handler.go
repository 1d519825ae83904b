package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/service"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

const (
	defaultActivityPageSize = 25
	maxActivityPageSize     = 200
)

// AdminActivityHandler exposes the audit trail to admins.
type AdminActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewAdminActivityHandler constructs the handler.
func NewAdminActivityHandler(service service.ActivityService, logger zerolog.Logger) *AdminActivityHandler {
	return &AdminActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_activity_handler").Logger(),
	}
}

// Register attaches activity log routes to the router group.
func (h *AdminActivityHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

type activityQuery struct {
	Page       int    `query:"page"`
	PageSize   int    `query:"page_size"`
	ActorID    uint   `query:"actor_id"`
	Action     string `query:"action"`
	EntityType string `query:"entity_type"`
	EntityID   uint   `query:"entity_id"`
	From       string `query:"from"`
	To         string `query:"to"`
}

// list filters the trail; from and to take RFC3339 timestamps.
func (h *AdminActivityHandler) list(c *fiber.Ctx) error {
	var query activityQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	req := dto.ActivityListRequest{
		Page:       max(query.Page, 1),
		PageSize:   query.PageSize,
		ActorID:    query.ActorID,
		Action:     query.Action,
		EntityType: query.EntityType,
		EntityID:   query.EntityID,
	}
	switch {
	case req.PageSize <= 0:
		req.PageSize = defaultActivityPageSize
	case req.PageSize > maxActivityPageSize:
		req.PageSize = maxActivityPageSize
	}

	var errs []service.FieldError
	req.From = parseTimestamp(query.From, "from", &errs)
	req.To = parseTimestamp(query.To, "to", &errs)
	if len(errs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", errs)
	}

	response, err := h.service.List(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, response.Items, "activity logs", response.Pagination)
}

func parseTimestamp(raw, field string, errs *[]service.FieldError) *time.Time {
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		*errs = append(*errs, service.FieldError{Field: field, Message: field + " must be an RFC3339 timestamp"})
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}
