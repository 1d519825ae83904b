package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
)

func TestExamRoutesEnforceRolesAndOwnership(t *testing.T) {
	p := newPortal(t)
	owner := p.register(t, "Grace Hopper", "grace@example.com", models.RoleTeacher)
	other := p.register(t, "Edsger Dijkstra", "edsger@example.com", models.RoleTeacher)
	student := p.register(t, "Alan Turing", "alan@example.com", "")

	status, _ := p.call(t, http.MethodPost, "/api/v1/questions", student.Token, mcqPayload(2))
	require.Equal(t, fiber.StatusForbidden, status)

	exam, _ := p.publishedExam(t, owner.Token, nil, 2, 3)
	require.True(t, exam.IsPublished)
	require.Equal(t, 2, exam.QuestionCount)
	require.Equal(t, string(models.ExamStatusActive), exam.Status)

	title := "Stolen exam"
	status, _ = p.call(t, http.MethodPut, idPath("/api/v1/exams/", exam.ID), other.Token, dto.ExamUpdateRequest{Title: &title})
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = p.call(t, http.MethodPut, idPath("/api/v1/exams/", exam.ID), student.Token, dto.ExamUpdateRequest{Title: &title})
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = p.call(t, http.MethodGet, idPath("/api/v1/exams/", exam.ID)+"/analytics", other.Token, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, body := p.call(t, http.MethodGet, idPath("/api/v1/exams/", exam.ID), student.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	view := decode[dto.ExamResponse](t, body.Data)
	require.Empty(t, view.AccessCode)

	status, body = p.call(t, http.MethodGet, idPath("/api/v1/exams/", exam.ID), owner.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	ownerView := decode[dto.ExamResponse](t, body.Data)
	require.Len(t, ownerView.AccessCode, 8)

	status, body = p.call(t, http.MethodGet, "/api/v1/exams/code/"+ownerView.AccessCode, student.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, exam.ID, decode[dto.ExamResponse](t, body.Data).ID)

	status, _ = p.call(t, http.MethodPost, idPath("/api/v1/exams/", exam.ID)+"/enroll", owner.Token, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = p.call(t, http.MethodPost, idPath("/api/v1/exams/", exam.ID)+"/enroll", student.Token, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body = p.call(t, http.MethodGet, idPath("/api/v1/users/students/enrolled/", exam.ID), owner.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	enrolled := decode[[]dto.EnrolledStudentResponse](t, body.Data)
	require.Len(t, enrolled, 1)
	require.Equal(t, student.User.ID, enrolled[0].ID)

	status, body = p.call(t, http.MethodGet, idPath("/api/v1/exams/", exam.ID)+"/analytics", owner.Token, nil)
	require.Equal(t, fiber.StatusOK, status, body.Message)
}

func TestExamCreateRejectsInvalidSchedule(t *testing.T) {
	p := newPortal(t)
	teacher := p.register(t, "Grace Hopper", "grace@example.com", models.RoleTeacher)

	start := time.Now().UTC().Add(time.Hour)
	status, body := p.call(t, http.MethodPost, "/api/v1/exams", teacher.Token, dto.ExamCreateRequest{
		Title:        "Final",
		Description:  "End of term assessment",
		Subject:      "General",
		Duration:     60,
		TotalMarks:   10,
		PassingMarks: 20,
		StartDate:    start,
		EndDate:      start.Add(-time.Minute),
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "validation failed", body.Message)
	require.NotEmpty(t, body.Errors)

	status, body = p.call(t, http.MethodPatch, "/api/v1/exams/12345/publish", teacher.Token, nil)
	require.Equal(t, fiber.StatusNotFound, status)
	require.False(t, body.Success)
}

func TestExamListPaginates(t *testing.T) {
	p := newPortal(t)
	teacher := p.register(t, "Grace Hopper", "grace@example.com", models.RoleTeacher)
	p.publishedExam(t, teacher.Token, nil, 1)
	p.publishedExam(t, teacher.Token, nil, 1)

	status, body := p.call(t, http.MethodGet, "/api/v1/exams?page=1&limit=1", teacher.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, decode[[]dto.ExamResponse](t, body.Data), 1)
	meta := decode[dto.PaginationMeta](t, body.Meta)
	require.Equal(t, int64(2), meta.TotalItems)

	status, body = p.call(t, http.MethodGet, "/api/v1/exams?page=abc", teacher.Token, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "invalid page", body.Message)
}

func TestAdminRoutes(t *testing.T) {
	p := newPortal(t)
	teacher := p.register(t, "Grace Hopper", "grace@example.com", models.RoleTeacher)
	student := p.register(t, "Alan Turing", "alan@example.com", "")
	admin := adminToken(t, 999)

	status, _ := p.call(t, http.MethodGet, "/api/v1/admin/activity", teacher.Token, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, body := p.call(t, http.MethodGet, "/api/v1/admin/activity?action=user.registered", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	logs := decode[[]dto.ActivityLogResponse](t, body.Data)
	require.Len(t, logs, 2)

	later := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	earlier := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	status, body = p.call(t, http.MethodGet, "/api/v1/admin/activity?action=user.registered&from="+later, admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Empty(t, decode[[]dto.ActivityLogResponse](t, body.Data))

	status, body = p.call(t, http.MethodGet, "/api/v1/admin/activity?from="+earlier+"&to="+later, admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NotEmpty(t, decode[[]dto.ActivityLogResponse](t, body.Data))

	status, _ = p.call(t, http.MethodGet, "/api/v1/admin/activity?from=yesterday", admin, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	status, _ = p.call(t, http.MethodGet, "/api/v1/admin/activity?from="+later+"&to="+earlier, admin, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	status, _ = p.call(t, http.MethodGet, "/api/v1/admin/activity?actor_id=abc", admin, nil)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body = p.call(t, http.MethodGet, "/api/v1/users?role=student", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	users := decode[[]dto.UserResponse](t, body.Data)
	require.Len(t, users, 1)
	require.Equal(t, student.User.ID, users[0].ID)

	status, _ = p.call(t, http.MethodDelete, idPath("/api/v1/users/", student.User.ID), admin, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body = p.call(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: "alan@example.com", Password: "secret123"})
	require.Equal(t, fiber.StatusForbidden, status)

	status, body = p.call(t, http.MethodGet, "/api/v1/users/dashboard/stats", teacher.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, models.RoleTeacher, decode[dto.DashboardStatsResponse](t, body.Data).Role)
}
