package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/exam-portal-api/internal/middleware"
	"github.com/noah-isme/exam-portal-api/internal/service"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

const monitorPingInterval = 30 * time.Second

// MonitorHandler streams live submission events of one exam to its teacher over a websocket.
type MonitorHandler struct {
	monitor service.MonitorService
	exams   service.ExamService
	logger  zerolog.Logger
}

// NewMonitorHandler constructs the handler.
func NewMonitorHandler(monitor service.MonitorService, exams service.ExamService, logger zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		exams:   exams,
		logger:  logger.With().Str("component", "monitor_handler").Logger(),
	}
}

// Register binds the monitor stream under the provided router group.
func (h *MonitorHandler) Register(router fiber.Router) {
	router.Get("/exams/:id/ws",
		middleware.RequireStaff(),
		h.authorize,
		websocket.New(h.handleConnection),
	)
}

// authorize checks exam access before the upgrade so failures still get a JSON envelope.
func (h *MonitorHandler) authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	examID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if _, err := h.exams.Get(c.UserContext(), actorFromContext(c), examID); err != nil {
		return respondError(c, h.logger, err)
	}

	c.Locals("exam_id", examID)
	c.Locals("correlation_id", middleware.GetCorrelationID(c))
	return c.Next()
}

func (h *MonitorHandler) handleConnection(conn *websocket.Conn) {
	examID, _ := conn.Locals("exam_id").(uint)
	correlation, _ := conn.Locals("correlation_id").(string)
	logger := h.logger.With().Uint("exam_id", examID).Str("correlation_id", correlation).Logger()

	events, unsubscribe := h.monitor.Subscribe(examID)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("monitor websocket connected")
	defer logger.Info().Msg("monitor websocket disconnected")

	ticker := time.NewTicker(monitorPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("monitor write loop terminated")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				logger.Debug().Err(err).Msg("monitor ping failed")
				return
			}
		case <-closed:
			return
		}
	}
}
