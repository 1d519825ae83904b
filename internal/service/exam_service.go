package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	mathrand "math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
	"github.com/noah-isme/exam-portal-api/internal/scoring"
)

const (
	accessCodeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	accessCodeLength    = 8
	accessCodeAttempts  = 5
	topPerformersLimit  = 10
	defaultInstructions = "Please read all questions carefully before answering."
)

// AnalyticsRefresher recomputes the analytics snapshot of an exam.
type AnalyticsRefresher interface {
	RefreshAnalytics(ctx context.Context, examID uint) (models.ExamAnalytics, error)
}

// ExamService manages exam authoring, scheduling, enrollment and analytics.
type ExamService interface {
	AnalyticsRefresher
	Create(ctx context.Context, actor Actor, req dto.ExamCreateRequest) (dto.ExamResponse, error)
	List(ctx context.Context, actor Actor, req dto.ExamListRequest) (dto.ExamListResponse, error)
	Get(ctx context.Context, actor Actor, id uint) (dto.ExamResponse, error)
	GetByAccessCode(ctx context.Context, actor Actor, code string) (dto.ExamResponse, error)
	Update(ctx context.Context, actor Actor, id uint, req dto.ExamUpdateRequest) (dto.ExamResponse, error)
	Delete(ctx context.Context, actor Actor, id uint) error
	AddQuestions(ctx context.Context, actor Actor, id uint, req dto.AddQuestionsRequest) (dto.ExamResponse, int, error)
	Publish(ctx context.Context, actor Actor, id uint, req dto.PublishRequest) (dto.ExamResponse, error)
	Enroll(ctx context.Context, actor Actor, id uint) (dto.EnrollResponse, error)
	Analytics(ctx context.Context, actor Actor, id uint) (dto.ExamAnalyticsResponse, error)
	EnrolledStudents(ctx context.Context, actor Actor, id uint) ([]dto.EnrolledStudentResponse, error)
}

type examService struct {
	exams       repository.ExamRepository
	questions   repository.QuestionRepository
	submissions repository.SubmissionRepository
	activity    ActivityRecorder
	cache       *redis.Client
	cacheTTL    time.Duration
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewExamService constructs the exam service. The cache is optional.
func NewExamService(exams repository.ExamRepository, questions repository.QuestionRepository, submissions repository.SubmissionRepository, activity ActivityRecorder, cache *redis.Client, cacheTTL time.Duration, validate *validator.Validate, logger zerolog.Logger) ExamService {
	return &examService{
		exams:       exams,
		questions:   questions,
		submissions: submissions,
		activity:    activity,
		cache:       cache,
		cacheTTL:    cacheTTL,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "exam_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/exam-portal-api/internal/service/exam"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *examService) Create(ctx context.Context, actor Actor, req dto.ExamCreateRequest) (dto.ExamResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamResponse{}, err
	}
	if err := validateSchedule(req.TotalMarks, req.PassingMarks, req.StartDate, req.EndDate); err != nil {
		return dto.ExamResponse{}, err
	}

	exam := models.Exam{
		Title:        s.clean(req.Title),
		Description:  s.clean(req.Description),
		Subject:      strings.TrimSpace(req.Subject),
		CreatedBy:    actor.ID,
		Duration:     req.Duration,
		TotalMarks:   req.TotalMarks,
		PassingMarks: req.PassingMarks,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		Settings:     defaultExamSettings(),
		IsActive:     true,
		Instructions: s.clean(req.Instructions),
		Category:     req.Category,
		Difficulty:   req.Difficulty,
		Tags:         cleanTags(req.Tags),
	}
	applySettings(&exam.Settings, req.Settings)
	if exam.Instructions == "" {
		exam.Instructions = defaultInstructions
	}
	if exam.Category == "" {
		exam.Category = "academic"
	}
	if exam.Difficulty == "" {
		exam.Difficulty = "medium"
	}

	if len(req.QuestionIDs) > 0 {
		ids := dedupeIDs(req.QuestionIDs)
		questions, err := s.questions.FindActiveOwned(ctx, ids, s.ownerScope(actor))
		if err != nil {
			return dto.ExamResponse{}, err
		}
		if len(questions) != len(ids) {
			return dto.ExamResponse{}, ErrQuestionsNotAccessible
		}
		exam.Questions = orderedExamQuestions(ids, questions, 0)
	}

	code := strings.ToUpper(strings.TrimSpace(req.AccessCode))
	if code != "" {
		exists, err := s.exams.AccessCodeExists(ctx, code)
		if err != nil {
			return dto.ExamResponse{}, err
		}
		if exists {
			return dto.ExamResponse{}, invalidField("access_code", "access code already in use")
		}
	} else {
		generated, err := s.generateAccessCode(ctx)
		if err != nil {
			return dto.ExamResponse{}, err
		}
		code = generated
	}
	exam.AccessCode = code

	if err := s.exams.Create(ctx, &exam); err != nil {
		return dto.ExamResponse{}, err
	}
	if ids := exam.QuestionIDs(); len(ids) > 0 {
		if err := s.questions.IncrementUsage(ctx, ids); err != nil {
			s.logger.Warn().Err(err).Uint("exam_id", exam.ID).Msg("failed to increment question usage")
		}
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "exam.created",
		EntityType: "exam",
		EntityID:   uintPtr(exam.ID),
		Metadata:   map[string]interface{}{"title": exam.Title, "question_count": len(exam.Questions)},
	})

	created, err := s.exams.GetByID(ctx, exam.ID)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	return s.view(created, actor, true), nil
}

func (s *examService) List(ctx context.Context, actor Actor, req dto.ExamListRequest) (dto.ExamListResponse, error) {
	filter := repository.ExamFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
		Subject:  strings.TrimSpace(req.Subject),
		Search:   req.Search,
		Status:   strings.ToLower(strings.TrimSpace(req.Status)),
		Now:      s.now(),
	}
	switch actor.Role {
	case models.RoleTeacher:
		filter.CreatedBy = &actor.ID
	case models.RoleStudent:
		filter.PublishedOnly = true
	}

	exams, total, err := s.exams.List(ctx, filter)
	if err != nil {
		return dto.ExamListResponse{}, err
	}

	items := make([]dto.ExamResponse, 0, len(exams))
	for _, exam := range exams {
		items = append(items, s.view(exam, actor, false))
	}
	return dto.ExamListResponse{Items: items, Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total)}, nil
}

func (s *examService) Get(ctx context.Context, actor Actor, id uint) (dto.ExamResponse, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	switch actor.Role {
	case models.RoleStudent:
		if !exam.IsActive || !exam.IsPublished {
			return dto.ExamResponse{}, ErrExamNotAvailable
		}
	default:
		if !canManageExam(actor, exam) {
			return dto.ExamResponse{}, ErrForbidden
		}
	}
	return s.view(exam, actor, true), nil
}

// GetByAccessCode resolves a join code. The exam must be inside its schedule window.
func (s *examService) GetByAccessCode(ctx context.Context, actor Actor, code string) (dto.ExamResponse, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != accessCodeLength {
		return dto.ExamResponse{}, invalidField("access_code", fmt.Sprintf("access code must be %d characters", accessCodeLength))
	}

	exam, err := s.exams.GetByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExamResponse{}, ErrExamNotFound
		}
		return dto.ExamResponse{}, err
	}
	if exam.Status(s.now()) != models.ExamStatusActive {
		return dto.ExamResponse{}, ErrExamNotAvailable
	}
	if actor.Role == models.RoleStudent && (!exam.IsActive || !exam.IsPublished) {
		return dto.ExamResponse{}, ErrExamNotAvailable
	}
	return s.view(exam, actor, true), nil
}

func (s *examService) Update(ctx context.Context, actor Actor, id uint, req dto.ExamUpdateRequest) (dto.ExamResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamResponse{}, err
	}

	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.ExamResponse{}, ErrForbidden
	}

	count, err := s.submissions.CountByExam(ctx, exam.ID)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	if count > 0 && exam.Status(s.now()) == models.ExamStatusActive {
		return dto.ExamResponse{}, ErrExamHasActiveAttempts
	}

	if req.Title != nil {
		exam.Title = s.clean(*req.Title)
	}
	if req.Description != nil {
		exam.Description = s.clean(*req.Description)
	}
	if req.Subject != nil {
		exam.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Duration != nil {
		exam.Duration = *req.Duration
	}
	if req.TotalMarks != nil {
		exam.TotalMarks = *req.TotalMarks
	}
	if req.PassingMarks != nil {
		exam.PassingMarks = *req.PassingMarks
	}
	if req.StartDate != nil {
		exam.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		exam.EndDate = req.EndDate.UTC()
	}
	if req.Instructions != nil {
		exam.Instructions = s.clean(*req.Instructions)
	}
	if req.Category != nil {
		exam.Category = *req.Category
	}
	if req.Difficulty != nil {
		exam.Difficulty = *req.Difficulty
	}
	if req.Tags != nil {
		exam.Tags = cleanTags(req.Tags)
	}
	if req.IsActive != nil {
		exam.IsActive = *req.IsActive
	}
	applySettings(&exam.Settings, req.Settings)

	if err := validateSchedule(exam.TotalMarks, exam.PassingMarks, exam.StartDate, exam.EndDate); err != nil {
		return dto.ExamResponse{}, err
	}

	if err := s.exams.Update(ctx, &exam); err != nil {
		return dto.ExamResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "exam.updated",
		EntityType: "exam",
		EntityID:   uintPtr(exam.ID),
	})
	return s.view(exam, actor, true), nil
}

func (s *examService) Delete(ctx context.Context, actor Actor, id uint) error {
	exam, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canManageExam(actor, exam) {
		return ErrForbidden
	}

	count, err := s.submissions.CountByExam(ctx, exam.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrExamHasSubmissions
	}

	if err := s.exams.Delete(ctx, exam.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrExamNotFound
		}
		return err
	}
	s.invalidateAnalytics(ctx, exam.ID)

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "exam.deleted",
		EntityType: "exam",
		EntityID:   uintPtr(exam.ID),
		Metadata:   map[string]interface{}{"title": exam.Title},
	})
	return nil
}

// AddQuestions appends the caller's active questions, skipping ones already in the exam.
// Total marks grow by the marks of the questions actually added.
func (s *examService) AddQuestions(ctx context.Context, actor Actor, id uint, req dto.AddQuestionsRequest) (dto.ExamResponse, int, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamResponse{}, 0, err
	}

	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, 0, err
	}
	if !canManageExam(actor, exam) {
		return dto.ExamResponse{}, 0, ErrForbidden
	}

	ids := dedupeIDs(req.QuestionIDs)
	questions, err := s.questions.FindActiveOwned(ctx, ids, s.ownerScope(actor))
	if err != nil {
		return dto.ExamResponse{}, 0, err
	}
	if len(questions) != len(ids) {
		return dto.ExamResponse{}, 0, ErrQuestionsNotAccessible
	}

	existing := make(map[uint]struct{}, len(exam.Questions))
	for _, item := range exam.Questions {
		existing[item.QuestionID] = struct{}{}
	}
	fresh := make([]uint, 0, len(ids))
	for _, questionID := range ids {
		if _, ok := existing[questionID]; !ok {
			fresh = append(fresh, questionID)
		}
	}

	if len(fresh) > 0 {
		items := orderedExamQuestions(fresh, questions, len(exam.Questions))
		totalMarks := exam.TotalMarks
		for _, item := range items {
			totalMarks += item.Question.Marks
		}
		if err := s.exams.AddQuestions(ctx, exam.ID, items, totalMarks); err != nil {
			return dto.ExamResponse{}, 0, err
		}
		if err := s.questions.IncrementUsage(ctx, fresh); err != nil {
			s.logger.Warn().Err(err).Uint("exam_id", exam.ID).Msg("failed to increment question usage")
		}
	}

	updated, err := s.load(ctx, exam.ID)
	if err != nil {
		return dto.ExamResponse{}, 0, err
	}
	return s.view(updated, actor, true), len(fresh), nil
}

func (s *examService) Publish(ctx context.Context, actor Actor, id uint, req dto.PublishRequest) (dto.ExamResponse, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.ExamResponse{}, ErrForbidden
	}

	published := !exam.IsPublished
	if req.Published != nil {
		published = *req.Published
	}
	if published && len(exam.Questions) == 0 {
		return dto.ExamResponse{}, invalidField("questions", "an exam needs at least one question before it is published")
	}

	if err := s.exams.SetPublished(ctx, exam.ID, published); err != nil {
		return dto.ExamResponse{}, err
	}
	exam.IsPublished = published

	action := "exam.unpublished"
	if published {
		action = "exam.published"
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     action,
		EntityType: "exam",
		EntityID:   uintPtr(exam.ID),
	})
	return s.view(exam, actor, true), nil
}

// Enroll registers a student. Ended exams and exams outside their availability window are rejected.
func (s *examService) Enroll(ctx context.Context, actor Actor, id uint) (dto.EnrollResponse, error) {
	ctx, span := s.tracer.Start(ctx, "exams.enroll", trace.WithAttributes(
		attribute.Int64("exam.id", int64(id)),
		attribute.Int64("student.id", int64(actor.ID)),
	))
	defer span.End()

	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.EnrollResponse{}, err
	}

	now := s.now()
	switch {
	case exam.Status(now) == models.ExamStatusCompleted:
		return dto.EnrollResponse{}, ErrExamEnded
	case !exam.IsAvailable(now):
		return dto.EnrollResponse{}, ErrExamNotOpenForEnroll
	case exam.EnrollmentFor(actor.ID) != nil:
		return dto.EnrollResponse{}, ErrAlreadyEnrolled
	}

	enrollment := models.Enrollment{
		ExamID:     exam.ID,
		StudentID:  actor.ID,
		Status:     models.EnrollmentEnrolled,
		EnrolledAt: now,
	}
	if err := s.exams.CreateEnrollment(ctx, &enrollment); err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.EnrollResponse{}, ErrAlreadyEnrolled
		}
		return dto.EnrollResponse{}, err
	}
	s.invalidateAnalytics(ctx, exam.ID)

	s.logger.Info().Uint("exam_id", exam.ID).Uint("student_id", actor.ID).Msg("student enrolled")
	return dto.EnrollResponse{ExamID: exam.ID}, nil
}

// RefreshAnalytics is the single writer of the analytics snapshot. It recomputes from terminal
// submissions and writes only the analytics columns.
func (s *examService) RefreshAnalytics(ctx context.Context, examID uint) (models.ExamAnalytics, error) {
	ctx, span := s.tracer.Start(ctx, "exams.refresh_analytics", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
	))
	defer span.End()

	rows, err := s.submissions.ListTerminal(ctx, examID)
	if err != nil {
		span.RecordError(err)
		return models.ExamAnalytics{}, err
	}
	enrolled, err := s.exams.CountEnrollments(ctx, examID)
	if err != nil {
		span.RecordError(err)
		return models.ExamAnalytics{}, err
	}

	analytics := computeAnalytics(rows, enrolled)
	if err := s.exams.UpdateAnalytics(ctx, examID, analytics); err != nil {
		span.RecordError(err)
		return models.ExamAnalytics{}, err
	}
	s.invalidateAnalytics(ctx, examID)
	return analytics, nil
}

func (s *examService) Analytics(ctx context.Context, actor Actor, id uint) (dto.ExamAnalyticsResponse, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamAnalyticsResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.ExamAnalyticsResponse{}, ErrForbidden
	}

	cacheKey := analyticsCacheKey(exam.ID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.ExamAnalyticsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Uint("exam_id", exam.ID).Msg("analytics cache hit")
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read analytics cache")
		}
	}

	rows, err := s.submissions.ListTerminal(ctx, exam.ID)
	if err != nil {
		return dto.ExamAnalyticsResponse{}, err
	}

	names := make(map[uint]string, len(exam.Enrollments))
	enrollments, err := s.exams.ListEnrollments(ctx, exam.ID)
	if err != nil {
		return dto.ExamAnalyticsResponse{}, err
	}
	for _, enrollment := range enrollments {
		names[enrollment.StudentID] = enrollment.Student.Name
	}

	response := buildAnalyticsResponse(exam, rows, int64(len(enrollments)), names, s.now())

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store analytics cache")
			}
		}
	}
	return response, nil
}

func (s *examService) EnrolledStudents(ctx context.Context, actor Actor, id uint) ([]dto.EnrolledStudentResponse, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageExam(actor, exam) {
		return nil, ErrForbidden
	}

	enrollments, err := s.exams.ListEnrollments(ctx, exam.ID)
	if err != nil {
		return nil, err
	}
	students := make([]dto.EnrolledStudentResponse, 0, len(enrollments))
	for _, enrollment := range enrollments {
		students = append(students, dto.NewEnrolledStudentResponse(enrollment))
	}
	return students, nil
}

func (s *examService) load(ctx context.Context, id uint) (models.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exam{}, ErrExamNotFound
		}
		return models.Exam{}, err
	}
	return exam, nil
}

// view maps an exam for actor. Students never see the access code, and answer keys stay hidden
// from them until the exam has completed.
func (s *examService) view(exam models.Exam, actor Actor, withQuestions bool) dto.ExamResponse {
	now := s.now()
	response := dto.NewExamResponse(exam, now)

	if actor.Role != models.RoleStudent {
		if withQuestions {
			response.Questions = questionViews(exam.Questions, true)
		}
		return response
	}

	response.AccessCode = ""
	enrolled := exam.EnrollmentFor(actor.ID) != nil
	response.IsEnrolled = &enrolled
	if withQuestions {
		reveal := exam.Status(now) == models.ExamStatusCompleted
		views := questionViews(exam.Questions, reveal)
		seed := int64(exam.ID)<<32 | int64(actor.ID)
		if exam.Settings.RandomizeQuestions {
			shuffleQuestions(views, seed)
		}
		if exam.Settings.RandomizeOptions {
			for i := range views {
				shuffleOptions(views[i].Options, seed+int64(views[i].ID))
			}
		}
		response.Questions = views
	}
	return response
}

func (s *examService) ownerScope(actor Actor) *uint {
	if actor.IsAdmin() {
		return nil
	}
	return &actor.ID
}

func (s *examService) generateAccessCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < accessCodeAttempts; attempt++ {
		code, err := randomAccessCode()
		if err != nil {
			return "", err
		}
		exists, err := s.exams.AccessCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique access code")
}

func (s *examService) invalidateAnalytics(ctx context.Context, examID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, analyticsCacheKey(examID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("exam_id", examID).Msg("failed to invalidate analytics cache")
	}
}

func (s *examService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func analyticsCacheKey(examID uint) string {
	return fmt.Sprintf("exam:analytics:%d", examID)
}

func canManageExam(actor Actor, exam models.Exam) bool {
	return actor.IsAdmin() || (actor.Role == models.RoleTeacher && exam.CreatedBy == actor.ID)
}

func validateSchedule(totalMarks, passingMarks int, start, end time.Time) error {
	if passingMarks > totalMarks {
		return invalidField("passing_marks", "passing marks cannot exceed total marks")
	}
	if !end.After(start) {
		return invalidField("end_date", "end date must be after start date")
	}
	return nil
}

func defaultExamSettings() models.ExamSettings {
	return models.ExamSettings{
		ShowResults: true,
		AllowReview: true,
		MaxAttempts: models.DefaultMaxAttempts,
		AutoSubmit:  true,
		ShowTimer:   true,
		WarningTime: models.DefaultWarningTime,
		Proctoring: models.ProctoringSettings{
			TabSwitchLimit:  models.DefaultTabSwitchLimit,
			WindowBlurLimit: models.DefaultWindowBlurLimit,
		},
	}
}

func applySettings(settings *models.ExamSettings, req *dto.ExamSettingsRequest) {
	if req == nil {
		return
	}
	setBool(&settings.RandomizeQuestions, req.RandomizeQuestions)
	setBool(&settings.RandomizeOptions, req.RandomizeOptions)
	setBool(&settings.ShowResults, req.ShowResults)
	setBool(&settings.AllowReview, req.AllowReview)
	setBool(&settings.ShowCorrectAnswers, req.ShowCorrectAnswers)
	setBool(&settings.AutoSubmit, req.AutoSubmit)
	setBool(&settings.ShowTimer, req.ShowTimer)
	setInt(&settings.MaxAttempts, req.MaxAttempts)
	setInt(&settings.WarningTime, req.WarningTime)

	if proctoring := req.Proctoring; proctoring != nil {
		setBool(&settings.Proctoring.Enabled, proctoring.Enabled)
		setBool(&settings.Proctoring.Webcam, proctoring.Webcam)
		setBool(&settings.Proctoring.Microphone, proctoring.Microphone)
		setBool(&settings.Proctoring.ScreenShare, proctoring.ScreenShare)
		setInt(&settings.Proctoring.TabSwitchLimit, proctoring.TabSwitchLimit)
		setInt(&settings.Proctoring.WindowBlurLimit, proctoring.WindowBlurLimit)
	}
}

func setBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func computeAnalytics(rows []repository.TerminalSubmission, enrolled int64) models.ExamAnalytics {
	analytics := models.ExamAnalytics{TotalAttempts: len(rows)}
	if len(rows) == 0 {
		return analytics
	}

	percentageSum := 0
	passed := 0
	students := make(map[uint]struct{}, len(rows))
	for _, row := range rows {
		percentageSum += row.Percentage
		if row.Passed {
			passed++
		}
		students[row.StudentID] = struct{}{}
	}

	analytics.AverageScore = round2(float64(percentageSum) / float64(len(rows)))
	analytics.PassRate = round2(float64(passed) * 100 / float64(len(rows)))
	if enrolled > 0 {
		analytics.CompletionRate = round2(math.Min(100, float64(len(students))*100/float64(enrolled)))
	}
	return analytics
}

func buildAnalyticsResponse(exam models.Exam, rows []repository.TerminalSubmission, enrolled int64, names map[uint]string, now time.Time) dto.ExamAnalyticsResponse {
	response := dto.ExamAnalyticsResponse{
		ExamID:            exam.ID,
		Title:             exam.Title,
		TotalEnrolled:     enrolled,
		TotalSubmissions:  len(rows),
		Summary:           computeAnalytics(rows, enrolled),
		GradeDistribution: map[string]int{"A+": 0, "A": 0, "B+": 0, "B": 0, "C+": 0, "C": 0, "D": 0, "F": 0},
		StatusBreakdown:   map[string]int{},
		TopPerformers:     make([]dto.TopPerformer, 0, topPerformersLimit),
		GeneratedAt:       now,
	}

	timeSum := 0
	for _, row := range rows {
		response.GradeDistribution[scoring.LetterGrade(row.Percentage)]++
		response.StatusBreakdown[string(row.Status)]++
		timeSum += row.TimeSpent
		if len(response.TopPerformers) < topPerformersLimit && row.Status != models.SubmissionDisqualified {
			response.TopPerformers = append(response.TopPerformers, dto.TopPerformer{
				StudentID:     row.StudentID,
				Name:          names[row.StudentID],
				Percentage:    row.Percentage,
				MarksObtained: row.MarksObtained,
				TimeSpent:     row.TimeSpent,
			})
		}
	}
	if len(rows) > 0 {
		response.AverageTimeSpent = round2(float64(timeSum) / float64(len(rows)))
	}
	return response
}

func orderedExamQuestions(ids []uint, questions []models.Question, offset int) []models.ExamQuestion {
	byID := make(map[uint]models.Question, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}
	items := make([]models.ExamQuestion, 0, len(ids))
	for i, id := range ids {
		items = append(items, models.ExamQuestion{
			QuestionID: id,
			Position:   offset + i + 1,
			Question:   byID[id],
		})
	}
	return items
}

func questionViews(items []models.ExamQuestion, reveal bool) []dto.ExamQuestionView {
	views := make([]dto.ExamQuestionView, 0, len(items))
	for _, item := range items {
		views = append(views, dto.NewExamQuestionView(item, reveal))
	}
	return views
}

// shuffleQuestions is deterministic per seed so a student sees a stable order across reloads.
func shuffleQuestions(views []dto.ExamQuestionView, seed int64) {
	rng := mathrand.New(mathrand.NewSource(seed))
	rng.Shuffle(len(views), func(i, j int) { views[i], views[j] = views[j], views[i] })
}

func shuffleOptions(options []models.QuestionOption, seed int64) {
	rng := mathrand.New(mathrand.NewSource(seed))
	rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
}

func randomAccessCode() (string, error) {
	var builder strings.Builder
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := 0; i < accessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		builder.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return builder.String(), nil
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	unique := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}

func cleanTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.ToLower(strings.TrimSpace(tag)); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
