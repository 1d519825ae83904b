package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/observability"
	"github.com/noah-isme/exam-portal-api/internal/proctoring"
	"github.com/noah-isme/exam-portal-api/internal/repository"
	"github.com/noah-isme/exam-portal-api/internal/scoring"
	"github.com/noah-isme/exam-portal-api/pkg/ai"
)

const maxScreenshotBytes = 2 << 20

var allowedScreenshotTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// ScreenshotUploader stores violation evidence and returns its URL.
type ScreenshotUploader interface {
	Upload(ctx context.Context, subfolder, name string, reader io.Reader) (string, error)
}

// SubmissionOptions wires the optional collaborators of the submission service.
type SubmissionOptions struct {
	Runner        CodeRunner
	Evaluator     ai.Evaluator
	Uploader      ScreenshotUploader
	Events        EventPublisher
	Activity      ActivityRecorder
	Analytics     AnalyticsRefresher
	DeadlineGrace time.Duration
}

// SubmissionService drives an exam attempt from start to grading.
type SubmissionService interface {
	Start(ctx context.Context, actor Actor, req dto.StartSubmissionRequest, client dto.ClientInfo) (dto.StartSubmissionResponse, error)
	SaveAnswer(ctx context.Context, actor Actor, id uint, req dto.SaveAnswerRequest) (dto.SaveAnswerResponse, error)
	Submit(ctx context.Context, actor Actor, id uint, req dto.SubmitRequest) (dto.SubmitResponse, error)
	RecordViolation(ctx context.Context, actor Actor, id uint, req dto.ViolationRequest) (dto.ViolationResponse, error)
	Grade(ctx context.Context, actor Actor, id uint, req dto.GradeRequest) (dto.GradeResponse, error)
	Get(ctx context.Context, actor Actor, id uint) (dto.SubmissionResponse, error)
	ListForExam(ctx context.Context, actor Actor, examID uint, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error)
	ListMine(ctx context.Context, actor Actor, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error)
	RunCode(ctx context.Context, actor Actor, id, questionID uint, req dto.RunCodeRequest) (models.CodeExecution, error)
	Assess(ctx context.Context, actor Actor, id, questionID uint) (dto.AssessmentResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	exams       repository.ExamRepository
	questions   repository.QuestionRepository
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	runner      CodeRunner
	evaluator   ai.Evaluator
	uploader    ScreenshotUploader
	events      EventPublisher
	activity    ActivityRecorder
	analytics   AnalyticsRefresher
	grace       time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs the submission lifecycle service.
func NewSubmissionService(submissions repository.SubmissionRepository, exams repository.ExamRepository, questions repository.QuestionRepository, validate *validator.Validate, opts SubmissionOptions, logger zerolog.Logger) SubmissionService {
	events := opts.Events
	if events == nil {
		events = noopPublisher{}
	}

	return &submissionService{
		submissions: submissions,
		exams:       exams,
		questions:   questions,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		runner:      opts.Runner,
		evaluator:   opts.Evaluator,
		uploader:    opts.Uploader,
		events:      events,
		activity:    opts.Activity,
		analytics:   opts.Analytics,
		grace:       opts.DeadlineGrace,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/exam-portal-api/internal/service/submission"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a new attempt, or returns the attempt that is still in progress.
func (s *submissionService) Start(ctx context.Context, actor Actor, req dto.StartSubmissionRequest, client dto.ClientInfo) (dto.StartSubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StartSubmissionResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "submissions.start", trace.WithAttributes(
		attribute.Int64("exam.id", int64(req.ExamID)),
		attribute.Int64("student.id", int64(actor.ID)),
	))
	defer span.End()

	exam, err := s.loadExam(ctx, req.ExamID)
	if err != nil {
		return dto.StartSubmissionResponse{}, err
	}

	now := s.now()
	if !exam.IsAvailable(now) {
		return dto.StartSubmissionResponse{}, ErrExamNotAvailable
	}
	if !exam.CanAccess(actor.ID, now) {
		return dto.StartSubmissionResponse{}, ErrNotEnrolled
	}

	existing, err := s.submissions.FindInProgress(ctx, exam.ID, actor.ID)
	switch {
	case err == nil:
		if !s.pastDeadline(existing, exam, now) {
			observability.SubmissionsStarted().WithLabelValues("true").Inc()
			return dto.StartSubmissionResponse{
				SubmissionID:  existing.ID,
				StartTime:     existing.StartTime,
				Duration:      exam.Duration,
				AttemptNumber: existing.AttemptNumber,
				Resumed:       true,
			}, nil
		}
		if err := s.finalize(ctx, &existing, exam, models.SubmissionAutoSubmitted); err != nil {
			return dto.StartSubmissionResponse{}, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return dto.StartSubmissionResponse{}, err
	}

	prior, err := s.submissions.CountAttempts(ctx, exam.ID, actor.ID)
	if err != nil {
		return dto.StartSubmissionResponse{}, err
	}
	if prior >= int64(exam.Settings.MaxAttempts) {
		return dto.StartSubmissionResponse{}, ErrMaxAttemptsExceeded
	}

	submission := models.Submission{
		ExamID:        exam.ID,
		StudentID:     actor.ID,
		AttemptNumber: int(prior) + 1,
		Status:        models.SubmissionInProgress,
		StartTime:     now,
		UserAgent:     truncate(client.UserAgent, 512),
		IPAddress:     truncate(client.IPAddress, 64),
		Answers:       make([]models.SubmissionAnswer, 0, len(exam.Questions)),
	}
	for _, item := range exam.Questions {
		submission.Answers = append(submission.Answers, models.SubmissionAnswer{
			QuestionID: item.QuestionID,
			Position:   item.Position,
			Answer:     datatypes.JSON("null"),
			HintsUsed:  datatypes.JSONSlice[models.HintUsage]{},
			CodeResult: datatypes.NewJSONType(models.CodeExecution{}),
		})
	}

	if err := s.submissions.Create(ctx, &submission, models.EnrollmentStarted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.StartSubmissionResponse{}, err
	}

	observability.SubmissionsStarted().WithLabelValues("false").Inc()
	s.publish(ctx, EventSubmissionStarted, submission, nil)
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("exam_id", exam.ID).
		Uint("student_id", actor.ID).
		Int("attempt", submission.AttemptNumber).
		Msg("submission started")

	return dto.StartSubmissionResponse{
		SubmissionID:  submission.ID,
		StartTime:     submission.StartTime,
		Duration:      exam.Duration,
		AttemptNumber: submission.AttemptNumber,
	}, nil
}

// SaveAnswer overwrites one answer slot. Scores are not recomputed until submit.
func (s *submissionService) SaveAnswer(ctx context.Context, actor Actor, id uint, req dto.SaveAnswerRequest) (dto.SaveAnswerResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SaveAnswerResponse{}, err
	}

	submission, exam, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return dto.SaveAnswerResponse{}, err
	}

	slot := submission.AnswerFor(req.QuestionID)
	if slot == nil {
		return dto.SaveAnswerResponse{}, ErrQuestionNotInSubmission
	}

	answer := bytes.TrimSpace(req.Answer)
	if len(answer) == 0 {
		answer = []byte("null")
	}
	if !json.Valid(answer) {
		return dto.SaveAnswerResponse{}, invalidField("answer", "answer must be valid JSON")
	}

	if req.HintIndex != nil {
		question, err := s.question(ctx, req.QuestionID)
		if err != nil {
			return dto.SaveAnswerResponse{}, err
		}
		penalty, ok := question.HintPenalty(*req.HintIndex)
		if !ok {
			return dto.SaveAnswerResponse{}, invalidField("hint_index", "hint does not exist")
		}
		if !hintUsed(slot.HintsUsed, *req.HintIndex) {
			slot.HintsUsed = append(slot.HintsUsed, models.HintUsage{
				HintIndex: *req.HintIndex,
				UsedAt:    s.now(),
				Penalty:   penalty,
			})
		}
	}

	slot.Answer = datatypes.JSON(answer)
	slot.TimeSpent = req.TimeSpent
	if req.Flagged != nil {
		slot.Flagged = *req.Flagged
	}

	if err := s.submissions.SaveAnswer(ctx, slot); err != nil {
		return dto.SaveAnswerResponse{}, err
	}

	s.logger.Debug().Uint("submission_id", submission.ID).Uint("exam_id", exam.ID).Uint("question_id", req.QuestionID).Msg("answer saved")
	return dto.SaveAnswerResponse{QuestionID: req.QuestionID, Saved: true}, nil
}

// Submit finalizes the attempt. It is auto-submitted when the client says so or the deadline has passed.
func (s *submissionService) Submit(ctx context.Context, actor Actor, id uint, req dto.SubmitRequest) (dto.SubmitResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.submit", trace.WithAttributes(
		attribute.Int64("submission.id", int64(id)),
	))
	defer span.End()

	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmitResponse{}, err
	}
	if submission.StudentID != actor.ID {
		return dto.SubmitResponse{}, ErrForbidden
	}
	if submission.Status != models.SubmissionInProgress {
		return dto.SubmitResponse{}, ErrSubmissionNotActive
	}

	exam, err := s.loadExam(ctx, submission.ExamID)
	if err != nil {
		return dto.SubmitResponse{}, err
	}

	status := models.SubmissionSubmitted
	if req.Auto || s.pastDeadline(submission, exam, s.now()) {
		status = models.SubmissionAutoSubmitted
	}

	if err := s.finalize(ctx, &submission, exam, status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.SubmitResponse{}, err
	}

	return dto.SubmitResponse{
		SubmissionID: submission.ID,
		Status:       string(submission.Status),
		Score:        submission.Scoring,
		TimeSpent:    submission.TimeSpent,
	}, nil
}

// RecordViolation appends a proctoring violation and disqualifies the attempt once a limit is exceeded.
func (s *submissionService) RecordViolation(ctx context.Context, actor Actor, id uint, req dto.ViolationRequest) (dto.ViolationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ViolationResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "submissions.violation", trace.WithAttributes(
		attribute.Int64("submission.id", int64(id)),
		attribute.String("violation.type", req.Type),
	))
	defer span.End()

	submission, exam, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return dto.ViolationResponse{}, err
	}

	violation := models.Violation{
		Type:        models.ViolationType(req.Type),
		Description: truncate(s.clean(req.Description), 500),
		Severity:    req.Severity,
	}
	if req.Screenshot != "" {
		url, err := s.storeScreenshot(ctx, submission, req.Screenshot)
		if err != nil {
			return dto.ViolationResponse{}, err
		}
		violation.ScreenshotURL = url
	}

	now := s.now()
	recorded, err := proctoring.Record(&submission, violation, now)
	if err != nil {
		return dto.ViolationResponse{}, invalidField("type", err.Error())
	}

	enrollmentStatus := ""
	disqualified := proctoring.ShouldDisqualify(exam.Settings.Proctoring, submission.Proctoring)
	if disqualified {
		if err := submission.Transition(models.SubmissionDisqualified); err != nil {
			return dto.ViolationResponse{}, err
		}
		submission.EndTime = &now
		submission.TimeSpent = elapsedSeconds(submission.StartTime, now)
		submission.Scoring = scoring.Summarize(examQuestionMarks(exam), 0, exam.PassingMarks)
		submission.Scoring.Passed = false
		enrollmentStatus = models.EnrollmentDisqualified
	}

	if err := s.submissions.AppendViolation(ctx, &submission, &recorded, enrollmentStatus); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.ViolationResponse{}, err
	}

	observability.Violations().WithLabelValues(string(recorded.Type), recorded.Severity).Inc()
	s.publish(ctx, EventViolationRecorded, submission, map[string]interface{}{
		"type":     recorded.Type,
		"severity": recorded.Severity,
		"count":    submission.ViolationCount(),
	})

	if disqualified {
		observability.Disqualifications().Inc()
		observability.SubmissionsFinalized().WithLabelValues(string(models.SubmissionDisqualified)).Inc()
		s.publish(ctx, EventSubmissionDisqualified, submission, nil)
		s.refreshAnalytics(ctx, exam.ID)
		s.logger.Warn().
			Uint("submission_id", submission.ID).
			Uint("student_id", submission.StudentID).
			Interface("counters", submission.Proctoring).
			Msg("submission disqualified")
	}

	return dto.ViolationResponse{ViolationCount: submission.ViolationCount(), Disqualified: disqualified}, nil
}

// Grade applies manual mark overrides and moves the attempt to graded.
func (s *submissionService) Grade(ctx context.Context, actor Actor, id uint, req dto.GradeRequest) (dto.GradeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GradeResponse{}, err
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	exam, err := s.loadExam(ctx, submission.ExamID)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.GradeResponse{}, ErrForbidden
	}
	if !submission.Status.CanTransitionTo(models.SubmissionGraded) {
		return dto.GradeResponse{}, ErrCannotGradeInProgress
	}

	questions, err := s.questionMap(ctx, submission)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	for _, override := range req.Answers {
		question, ok := questions[override.QuestionID]
		if !ok || submission.AnswerFor(override.QuestionID) == nil {
			continue
		}
		if *override.MarksAwarded > question.Marks {
			return dto.GradeResponse{}, invalidField("answers", fmt.Sprintf("marks for question %d cannot exceed %d", override.QuestionID, question.Marks))
		}
	}

	for _, override := range req.Answers {
		slot := submission.AnswerFor(override.QuestionID)
		if slot == nil {
			continue
		}
		if _, ok := questions[override.QuestionID]; !ok {
			continue
		}
		slot.MarksAwarded = scoring.ApplyPenalty(*override.MarksAwarded, slot.HintPenalty())
		correct := slot.MarksAwarded > 0
		slot.IsCorrect = &correct
		slot.Feedback = s.clean(override.Feedback)
		slot.ReviewNotes = s.clean(override.ReviewNotes)
	}

	scoring.Aggregate(&submission, questions, exam.PassingMarks)

	now := s.now()
	reviewer := actor.ID
	submission.Review = models.Review{
		ReviewedBy: &reviewer,
		ReviewedAt: &now,
		Comments:   s.clean(req.Comments),
	}
	if err := submission.Transition(models.SubmissionGraded); err != nil {
		return dto.GradeResponse{}, err
	}

	if err := s.submissions.Finalize(ctx, &submission, ""); err != nil {
		return dto.GradeResponse{}, err
	}

	observability.SubmissionsFinalized().WithLabelValues(string(models.SubmissionGraded)).Inc()
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "submission.graded",
		EntityType: "submission",
		EntityID:   uintPtr(submission.ID),
		Metadata: map[string]interface{}{
			"exam_id":        exam.ID,
			"student_id":     submission.StudentID,
			"marks_obtained": submission.Scoring.MarksObtained,
			"overrides":      len(req.Answers),
		},
	})
	s.publish(ctx, EventSubmissionGraded, submission, map[string]interface{}{"percentage": submission.Scoring.Percentage})
	s.refreshAnalytics(ctx, exam.ID)

	return dto.GradeResponse{
		SubmissionID: submission.ID,
		Status:       string(submission.Status),
		Scoring:      submission.Scoring,
		Review:       submission.Review,
	}, nil
}

// Get returns an attempt to its student or to the staff who own the exam.
func (s *submissionService) Get(ctx context.Context, actor Actor, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	exam, err := s.loadExam(ctx, submission.ExamID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	submission.Exam = exam

	switch {
	case submission.StudentID == actor.ID:
		return dto.NewSubmissionResponse(submission, dto.SubmissionView{
			IncludeAnswers: true,
			IncludeResults: exam.Settings.ShowResults,
		}), nil
	case canManageExam(actor, exam):
		return dto.NewSubmissionResponse(submission, dto.SubmissionView{IncludeAnswers: true, IncludeResults: true}), nil
	default:
		return dto.SubmissionResponse{}, ErrForbidden
	}
}

func (s *submissionService) ListForExam(ctx context.Context, actor Actor, examID uint, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.SubmissionListResponse{}, ErrForbidden
	}

	filter := repository.SubmissionFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
		ExamID:   &exam.ID,
		Status:   strings.TrimSpace(req.Status),
		Sort:     req.Sort,
	}
	submissions, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, dto.NewSubmissionResponse(submission, dto.SubmissionView{IncludeResults: true}))
	}
	return dto.SubmissionListResponse{Items: items, Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total)}, nil
}

func (s *submissionService) ListMine(ctx context.Context, actor Actor, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error) {
	filter := repository.SubmissionFilter{
		Page:      req.Page,
		PageSize:  req.PageSize,
		StudentID: &actor.ID,
		Status:    strings.TrimSpace(req.Status),
		Sort:      req.Sort,
	}
	submissions, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, dto.NewSubmissionResponse(submission, dto.SubmissionView{
			IncludeResults: submission.Exam.Settings.ShowResults,
		}))
	}
	return dto.SubmissionListResponse{Items: items, Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total)}, nil
}

// RunCode executes a coding answer in the sandbox and stores the result on the answer slot.
// Hidden test cases count towards the result but their data is never returned.
func (s *submissionService) RunCode(ctx context.Context, actor Actor, id, questionID uint, req dto.RunCodeRequest) (models.CodeExecution, error) {
	if s.runner == nil {
		return models.CodeExecution{}, ErrCodeRunnerUnavailable
	}
	if err := s.validator.Struct(req); err != nil {
		return models.CodeExecution{}, err
	}

	submission, _, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return models.CodeExecution{}, err
	}
	slot := submission.AnswerFor(questionID)
	if slot == nil {
		return models.CodeExecution{}, ErrQuestionNotInSubmission
	}

	question, err := s.question(ctx, questionID)
	if err != nil {
		return models.CodeExecution{}, err
	}
	if question.Type != models.QuestionTypeCoding {
		return models.CodeExecution{}, ErrNotCodingQuestion
	}

	coding := question.Coding.Data()
	language := req.Language
	if strings.TrimSpace(language) == "" {
		language = coding.Language
	}
	if !s.runner.Supports(language) {
		return models.CodeExecution{}, ErrUnsupportedLanguage
	}

	execution, err := s.runner.Run(ctx, language, req.Code, coding.TestCases)
	if err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Uint("question_id", questionID).Msg("code run failed")
		return models.CodeExecution{}, err
	}
	masked := maskHiddenCases(execution, coding.TestCases)

	answer, err := json.Marshal(map[string]string{"code": req.Code, "language": execution.Language})
	if err != nil {
		return models.CodeExecution{}, err
	}
	slot.Answer = datatypes.JSON(answer)
	slot.CodeResult = datatypes.NewJSONType(masked)
	if err := s.submissions.SaveAnswer(ctx, slot); err != nil {
		return models.CodeExecution{}, err
	}
	return masked, nil
}

// Assess asks the AI evaluator for a suggested mark. The suggestion is returned to the grader and never stored.
func (s *submissionService) Assess(ctx context.Context, actor Actor, id, questionID uint) (dto.AssessmentResponse, error) {
	if s.evaluator == nil {
		return dto.AssessmentResponse{}, ErrEvaluatorUnavailable
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	exam, err := s.loadExam(ctx, submission.ExamID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if !canManageExam(actor, exam) {
		return dto.AssessmentResponse{}, ErrForbidden
	}

	slot := submission.AnswerFor(questionID)
	if slot == nil {
		return dto.AssessmentResponse{}, ErrQuestionNotInSubmission
	}
	question, err := s.question(ctx, questionID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if question.Type != models.QuestionTypeEssay && question.Type != models.QuestionTypeShortAnswer {
		return dto.AssessmentResponse{}, ErrNotEssayQuestion
	}

	result, err := s.evaluator.Evaluate(ctx, ai.EvaluationInput{
		Subject:      question.Subject,
		QuestionText: question.Text,
		SampleAnswer: question.SampleAnswer,
		Keywords:     question.Keywords,
		MaxLength:    question.MaxLength,
		MaxMarks:     question.Marks,
		Answer:       answerText(slot.Answer),
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("essay assessment failed")
		return dto.AssessmentResponse{}, err
	}

	return dto.AssessmentResponse{
		SubmissionID:   submission.ID,
		QuestionID:     questionID,
		MaxMarks:       question.Marks,
		SuggestedMarks: int(math.Round(result.Score * float64(question.Marks))),
		Score:          result.Score,
		Feedback:       result.Feedback,
		Strengths:      result.Strengths,
		Improvements:   result.Improvements,
		Provider:       "openai",
		Model:          s.evaluator.Model(),
	}, nil
}

// finalize scores the attempt and persists it together with the enrollment flip.
func (s *submissionService) finalize(ctx context.Context, submission *models.Submission, exam models.Exam, status models.SubmissionStatus) error {
	if err := submission.Transition(status); err != nil {
		return err
	}

	now := s.now()
	submission.EndTime = &now
	submission.SubmittedAt = &now
	submission.TimeSpent = elapsedSeconds(submission.StartTime, now)

	questions, err := s.questionMap(ctx, *submission)
	if err != nil {
		return err
	}
	submission.Review.NeedsManualGrading = scoring.Grade(submission, questions, exam.PassingMarks)

	if err := s.submissions.Finalize(ctx, submission, models.EnrollmentCompleted); err != nil {
		return err
	}

	observability.SubmissionsFinalized().WithLabelValues(string(status)).Inc()
	s.publish(ctx, EventSubmissionSubmitted, *submission, map[string]interface{}{
		"percentage":           submission.Scoring.Percentage,
		"needs_manual_grading": submission.Review.NeedsManualGrading,
	})
	s.refreshAnalytics(ctx, exam.ID)

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("status", string(status)).
		Int("percentage", submission.Scoring.Percentage).
		Msg("submission finalized")
	return nil
}

// loadActive loads an in-progress attempt owned by actor. A lapsed attempt is auto-submitted and rejected.
func (s *submissionService) loadActive(ctx context.Context, actor Actor, id uint) (models.Submission, models.Exam, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return models.Submission{}, models.Exam{}, err
	}
	if submission.StudentID != actor.ID {
		return models.Submission{}, models.Exam{}, ErrForbidden
	}
	if submission.Status != models.SubmissionInProgress {
		return models.Submission{}, models.Exam{}, ErrSubmissionNotActive
	}

	exam, err := s.loadExam(ctx, submission.ExamID)
	if err != nil {
		return models.Submission{}, models.Exam{}, err
	}
	if s.pastDeadline(submission, exam, s.now()) {
		if err := s.finalize(ctx, &submission, exam, models.SubmissionAutoSubmitted); err != nil {
			return models.Submission{}, models.Exam{}, err
		}
		return models.Submission{}, models.Exam{}, ErrDeadlinePassed
	}
	return submission, exam, nil
}

// pastDeadline reports whether now is after the earlier of the attempt's time budget and the exam's end, plus grace.
func (s *submissionService) pastDeadline(submission models.Submission, exam models.Exam, now time.Time) bool {
	deadline := submission.StartTime.Add(time.Duration(exam.Duration) * time.Minute)
	if exam.EndDate.Before(deadline) {
		deadline = exam.EndDate
	}
	return now.After(deadline.Add(s.grace))
}

func (s *submissionService) storeScreenshot(ctx context.Context, submission models.Submission, encoded string) (string, error) {
	payload := encoded
	if idx := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && idx >= 0 {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", invalidField("screenshot", "screenshot must be base64 encoded")
	}
	if len(data) > maxScreenshotBytes {
		return "", invalidField("screenshot", "screenshot exceeds 2MB")
	}

	detected := mimetype.Detect(data)
	ext, ok := allowedScreenshotTypes[detected.String()]
	if !ok {
		return "", ErrScreenshotRejected
	}

	if s.uploader == nil {
		s.logger.Debug().Uint("submission_id", submission.ID).Msg("screenshot uploader not configured, dropping evidence")
		return "", nil
	}

	url, err := s.uploader.Upload(ctx, fmt.Sprintf("exam-%d", submission.ExamID), fmt.Sprintf("submission-%d%s", submission.ID, ext), bytes.NewReader(data))
	if err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to upload violation screenshot")
		return "", nil
	}
	return url, nil
}

func (s *submissionService) load(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) loadExam(ctx context.Context, id uint) (models.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exam{}, ErrExamNotFound
		}
		return models.Exam{}, err
	}
	return exam, nil
}

func (s *submissionService) question(ctx context.Context, id uint) (models.Question, error) {
	questions, err := s.questions.GetByIDs(ctx, []uint{id})
	if err != nil {
		return models.Question{}, err
	}
	if len(questions) == 0 {
		return models.Question{}, ErrQuestionNotFound
	}
	return questions[0], nil
}

func (s *submissionService) questionMap(ctx context.Context, submission models.Submission) (map[uint]models.Question, error) {
	ids := make([]uint, 0, len(submission.Answers))
	for _, answer := range submission.Answers {
		ids = append(ids, answer.QuestionID)
	}
	questions, err := s.questions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Question, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}
	return byID, nil
}

func (s *submissionService) refreshAnalytics(ctx context.Context, examID uint) {
	if s.analytics == nil {
		return
	}
	if _, err := s.analytics.RefreshAnalytics(ctx, examID); err != nil {
		s.logger.Error().Err(err).Uint("exam_id", examID).Msg("failed to refresh exam analytics")
	}
}

func (s *submissionService) publish(ctx context.Context, eventType string, submission models.Submission, data map[string]interface{}) {
	s.events.Publish(ctx, ExamEvent{
		Type:         eventType,
		ExamID:       submission.ExamID,
		SubmissionID: submission.ID,
		StudentID:    submission.StudentID,
		Status:       string(submission.Status),
		Data:         data,
		OccurredAt:   s.now(),
	})
}

func (s *submissionService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func hintUsed(usages []models.HintUsage, index int) bool {
	for _, usage := range usages {
		if usage.HintIndex == index {
			return true
		}
	}
	return false
}

func examQuestionMarks(exam models.Exam) int {
	total := 0
	for _, item := range exam.Questions {
		total += item.Question.Marks
	}
	return total
}

func elapsedSeconds(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Second)
}

// answerText unwraps a JSON string answer; other shapes are passed through as raw JSON.
func answerText(raw datatypes.JSON) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// truncate cuts value to at most limit bytes without splitting a UTF-8 sequence.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
