package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/config"
	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/handler"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
	"github.com/noah-isme/exam-portal-api/internal/router"
	"github.com/noah-isme/exam-portal-api/internal/service"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

const portalSecret = "handler-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

type portal struct {
	app     *fiber.App
	db      *gorm.DB
	monitor service.MonitorService
	cfg     config.Config
}

func newPortal(t *testing.T, overrides ...func(*config.Config)) portal {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	cfg := config.Config{
		AppName:         "Exam Portal Test",
		AppEnv:          "test",
		JWTSecret:       portalSecret,
		JWTTTL:          time.Hour,
		LoginRateLimit:  100,
		LoginRateWindow: time.Minute,
	}
	for _, override := range overrides {
		override(&cfg)
	}
	logger := zerolog.Nop()
	validate := utils.NewValidator()

	users := repository.NewUserRepository(db)
	questions := repository.NewQuestionRepository(db)
	exams := repository.NewExamRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)

	authService := service.NewAuthService(users, activity, validate, service.AuthConfig{
		Secret:     cfg.JWTSecret,
		TTL:        cfg.JWTTTL,
		BcryptCost: bcrypt.MinCost,
	}, logger)
	userService := service.NewUserService(users, exams, questions, submissions, activity, nil, time.Minute, validate, logger)
	questionService := service.NewQuestionService(questions, activity, validate, logger)
	examService := service.NewExamService(exams, questions, submissions, activity, nil, time.Minute, validate, logger)
	monitor := service.NewMonitorService(nil, "", nil, logger)
	submissionService := service.NewSubmissionService(submissions, exams, questions, validate, service.SubmissionOptions{
		Events:    monitor,
		Activity:  activity,
		Analytics: examService,
	}, logger)

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(authService, logger),
		UserHandler:       handler.NewUserHandler(userService, examService, logger),
		QuestionHandler:   handler.NewQuestionHandler(questionService, logger),
		ExamHandler:       handler.NewExamHandler(examService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		MonitorHandler:    handler.NewMonitorHandler(monitor, examService, logger),
		ActivityHandler:   handler.NewAdminActivityHandler(activity, logger),
	})

	return portal{app: app, db: db, monitor: monitor, cfg: cfg}
}

// call sends a JSON request and decodes the response envelope.
func (p portal) call(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := p.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func (p portal) register(t *testing.T, name, email, role string) dto.AuthResponse {
	t.Helper()

	req := dto.RegisterRequest{Name: name, Email: email, Password: "secret123", Role: role}
	if role == models.RoleTeacher {
		req.Institution = "Open University"
		req.Department = "Computing"
	}

	status, body := p.call(t, http.MethodPost, "/api/v1/auth/register", "", req)
	require.Equal(t, fiber.StatusCreated, status, body.Message)

	var auth dto.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &auth))
	return auth
}

// adminToken mints a token directly since admins cannot self-register.
func adminToken(t *testing.T, id uint) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatUint(uint64(id), 10),
		"role": models.RoleAdmin,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(portalSecret))
	require.NoError(t, err)
	return token
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(raw, &value))
	return value
}

func mcqPayload(marks int) dto.QuestionRequest {
	return dto.QuestionRequest{
		Text:       "Which option is correct?",
		Type:       string(models.QuestionTypeMCQ),
		Subject:    "General",
		Difficulty: "easy",
		Marks:      marks,
		Options: []dto.OptionRequest{
			{ID: "a", Text: "Correct", IsCorrect: true},
			{ID: "b", Text: "Wrong"},
		},
	}
}

// publishedExam creates questions and a running, published exam owned by the teacher.
func (p portal) publishedExam(t *testing.T, teacherToken string, settings *dto.ExamSettingsRequest, marks ...int) (dto.ExamResponse, []uint) {
	t.Helper()

	ids := make([]uint, 0, len(marks))
	total := 0
	for _, m := range marks {
		status, body := p.call(t, http.MethodPost, "/api/v1/questions", teacherToken, mcqPayload(m))
		require.Equal(t, fiber.StatusCreated, status, body.Message)
		ids = append(ids, decode[dto.QuestionResponse](t, body.Data).ID)
		total += m
	}

	start := time.Now().UTC().Add(-time.Minute)
	status, body := p.call(t, http.MethodPost, "/api/v1/exams", teacherToken, dto.ExamCreateRequest{
		Title:        "Midterm",
		Description:  "Covers the first half of the course",
		Subject:      "General",
		Duration:     30,
		TotalMarks:   total,
		PassingMarks: total / 2,
		StartDate:    start,
		EndDate:      start.Add(2 * time.Hour),
		QuestionIDs:  ids,
		Settings:     settings,
	})
	require.Equal(t, fiber.StatusCreated, status, body.Message)
	exam := decode[dto.ExamResponse](t, body.Data)

	published := true
	status, body = p.call(t, http.MethodPatch, "/api/v1/exams/"+strconv.FormatUint(uint64(exam.ID), 10)+"/publish", teacherToken, dto.PublishRequest{Published: &published})
	require.Equal(t, fiber.StatusOK, status, body.Message)
	return decode[dto.ExamResponse](t, body.Data), ids
}

func idPath(format string, id uint) string {
	return format + strconv.FormatUint(uint64(id), 10)
}
