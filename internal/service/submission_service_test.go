package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/pkg/ai"
)

type stubEvaluator struct {
	result ai.EvaluationResult
	input  ai.EvaluationInput
}

func (e *stubEvaluator) Evaluate(_ context.Context, input ai.EvaluationInput) (ai.EvaluationResult, error) {
	e.input = input
	return e.result, nil
}

func (e *stubEvaluator) Model() string {
	return "gpt-test"
}

type submissionFixture struct {
	store     testStore
	service   *submissionService
	events    *recordingPublisher
	teacher   models.User
	student   models.User
	exam      models.Exam
	questions []models.Question
}

func newSubmissionFixture(t *testing.T, settings models.ExamSettings, build func(store testStore, owner uint) []models.Question) submissionFixture {
	t.Helper()
	store := newTestStore(t)
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")
	student := store.user(t, models.RoleStudent, "student@example.com")

	questions := build(store, teacher.ID)
	exam := store.activeExam(t, teacher.ID, settings, questions...)
	store.enroll(t, exam.ID, student.ID)

	events := &recordingPublisher{}
	activity := NewActivityService(store.activity, testLogger())
	exams := NewExamService(store.exams, store.questions, store.submissions, activity, nil, time.Minute, testValidator, testLogger())
	svc := NewSubmissionService(store.submissions, store.exams, store.questions, testValidator, SubmissionOptions{
		Events:    events,
		Activity:  activity,
		Analytics: exams,
	}, testLogger())

	return submissionFixture{
		store:     store,
		service:   svc.(*submissionService),
		events:    events,
		teacher:   teacher,
		student:   student,
		exam:      exam,
		questions: questions,
	}
}

func (f submissionFixture) start(t *testing.T) dto.StartSubmissionResponse {
	t.Helper()
	started, err := f.service.Start(context.Background(), studentActor(f.student), dto.StartSubmissionRequest{ExamID: f.exam.ID}, dto.ClientInfo{UserAgent: "test-agent", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return started
}

func (f submissionFixture) answer(t *testing.T, submissionID, questionID uint, answer string) {
	t.Helper()
	_, err := f.service.SaveAnswer(context.Background(), studentActor(f.student), submissionID, dto.SaveAnswerRequest{
		QuestionID: questionID,
		Answer:     json.RawMessage(answer),
		TimeSpent:  30,
	})
	require.NoError(t, err)
}

func TestSubmissionStartCreatesAttemptAndResumes(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4), store.mcq(t, owner, 6)}
	})

	started := f.start(t)
	require.False(t, started.Resumed)
	require.Equal(t, 1, started.AttemptNumber)
	require.Equal(t, 60, started.Duration)

	resumed := f.start(t)
	require.True(t, resumed.Resumed)
	require.Equal(t, started.SubmissionID, resumed.SubmissionID)

	stored, err := f.store.submissions.GetByID(context.Background(), started.SubmissionID)
	require.NoError(t, err)
	require.Len(t, stored.Answers, 2)
	require.Equal(t, "test-agent", stored.UserAgent)

	enrollments, err := f.store.exams.ListEnrollments(context.Background(), f.exam.ID)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStarted, enrollments[0].Status)
	require.Equal(t, []string{EventSubmissionStarted}, f.events.types())
}

func TestSubmissionStartRequiresEnrollmentAndAvailability(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 5)}
	})
	outsider := f.store.user(t, models.RoleStudent, "outsider@example.com")

	_, err := f.service.Start(context.Background(), studentActor(outsider), dto.StartSubmissionRequest{ExamID: f.exam.ID}, dto.ClientInfo{})
	require.ErrorIs(t, err, ErrNotEnrolled)

	f.service.now = func() time.Time { return f.exam.EndDate.Add(time.Minute) }
	_, err = f.service.Start(context.Background(), studentActor(f.student), dto.StartSubmissionRequest{ExamID: f.exam.ID}, dto.ClientInfo{})
	require.ErrorIs(t, err, ErrExamNotAvailable)

	_, err = f.service.Start(context.Background(), studentActor(f.student), dto.StartSubmissionRequest{ExamID: 9999}, dto.ClientInfo{})
	require.ErrorIs(t, err, ErrExamNotFound)
}

func TestSubmissionStartRejectsWhenAttemptsExhausted(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 5)}
	})

	started := f.start(t)
	_, err := f.service.Submit(context.Background(), studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)

	_, err = f.service.Start(context.Background(), studentActor(f.student), dto.StartSubmissionRequest{ExamID: f.exam.ID}, dto.ClientInfo{})
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)
}

func TestSubmitScoresAnswersWithHintPenalty(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{
			store.mcq(t, owner, 4, models.Hint{Text: "think", Penalty: 1}),
			store.mcq(t, owner, 6),
		}
	})
	ctx := context.Background()
	started := f.start(t)

	hint := 0
	_, err := f.service.SaveAnswer(ctx, studentActor(f.student), started.SubmissionID, dto.SaveAnswerRequest{
		QuestionID: f.questions[0].ID,
		Answer:     json.RawMessage(`["a"]`),
		TimeSpent:  12,
		HintIndex:  &hint,
	})
	require.NoError(t, err)
	f.answer(t, started.SubmissionID, f.questions[1].ID, `["b"]`)

	result, err := f.service.Submit(ctx, studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionSubmitted), result.Status)
	require.Equal(t, 10, result.Score.TotalMarks)
	require.Equal(t, 3, result.Score.MarksObtained)
	require.Equal(t, 30, result.Score.Percentage)
	require.False(t, result.Score.Passed)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, stored.SubmittedAt)
	first := stored.AnswerFor(f.questions[0].ID)
	require.Len(t, first.HintsUsed, 1)
	require.Equal(t, 3, first.MarksAwarded)
	require.NotNil(t, first.IsCorrect)
	require.True(t, *first.IsCorrect)

	exam, err := f.store.exams.GetByID(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Equal(t, 1, exam.Analytics.TotalAttempts)
	require.Equal(t, models.EnrollmentCompleted, exam.EnrollmentFor(f.student.ID).Status)

	_, err = f.service.Submit(ctx, studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.ErrorIs(t, err, ErrSubmissionNotActive)
}

func TestSaveAnswerValidatesSlotAndHint(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)

	_, err := f.service.SaveAnswer(ctx, studentActor(f.student), started.SubmissionID, dto.SaveAnswerRequest{QuestionID: 9999, Answer: json.RawMessage(`"x"`)})
	require.ErrorIs(t, err, ErrQuestionNotInSubmission)

	missing := 3
	_, err = f.service.SaveAnswer(ctx, studentActor(f.student), started.SubmissionID, dto.SaveAnswerRequest{QuestionID: f.questions[0].ID, HintIndex: &missing})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "hint_index", validationErr.Fields[0].Field)

	other := f.store.user(t, models.RoleStudent, "other@example.com")
	_, err = f.service.SaveAnswer(ctx, studentActor(other), started.SubmissionID, dto.SaveAnswerRequest{QuestionID: f.questions[0].ID})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSaveAnswerAfterDeadlineAutoSubmits(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)
	f.answer(t, started.SubmissionID, f.questions[0].ID, `["a"]`)

	f.service.now = func() time.Time { return started.StartTime.Add(61 * time.Minute) }
	_, err := f.service.SaveAnswer(ctx, studentActor(f.student), started.SubmissionID, dto.SaveAnswerRequest{QuestionID: f.questions[0].ID, Answer: json.RawMessage(`["b"]`)})
	require.ErrorIs(t, err, ErrDeadlinePassed)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionAutoSubmitted, stored.Status)
	require.Equal(t, 4, stored.Scoring.MarksObtained)
}

func TestSubmitHonoursGracePeriod(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	f.service.grace = 2 * time.Minute
	started := f.start(t)

	f.service.now = func() time.Time { return started.StartTime.Add(61 * time.Minute) }
	result, err := f.service.Submit(context.Background(), studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionSubmitted), result.Status)
}

func TestSubmitMarksAutoWhenRequested(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	started := f.start(t)

	result, err := f.service.Submit(context.Background(), studentActor(f.student), started.SubmissionID, dto.SubmitRequest{Auto: true})
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionAutoSubmitted), result.Status)
}

func TestRecordViolationDisqualifiesAfterLimit(t *testing.T) {
	f := newSubmissionFixture(t, proctoredSettings(1), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)
	f.answer(t, started.SubmissionID, f.questions[0].ID, `["a"]`)

	first, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch", Description: "<b>left</b> the tab"})
	require.NoError(t, err)
	require.False(t, first.Disqualified)
	require.Equal(t, 1, first.ViolationCount)

	second, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
	require.NoError(t, err)
	require.True(t, second.Disqualified)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionDisqualified, stored.Status)
	require.Equal(t, 0, stored.Scoring.MarksObtained)
	require.False(t, stored.Scoring.Passed)
	require.Len(t, stored.Violations, 2)
	require.Equal(t, "left the tab", stored.Violations[0].Description)
	require.Equal(t, models.SeverityMedium, stored.Violations[0].Severity)

	exam, err := f.store.exams.GetByID(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentDisqualified, exam.EnrollmentFor(f.student.ID).Status)
	require.Contains(t, f.events.types(), EventSubmissionDisqualified)

	_, err = f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
	require.ErrorIs(t, err, ErrSubmissionNotActive)
}

func TestRecordViolationFourthTabSwitchOverLimitOfThree(t *testing.T) {
	f := newSubmissionFixture(t, proctoredSettings(3), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)

	for i := 1; i <= 3; i++ {
		result, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
		require.NoError(t, err)
		require.False(t, result.Disqualified, "violation %d", i)
	}

	fourth, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
	require.NoError(t, err)
	require.True(t, fourth.Disqualified)
	require.Equal(t, 4, fourth.ViolationCount)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionDisqualified, stored.Status)
	require.Equal(t, 4, stored.Proctoring.TabSwitches)
	require.NotNil(t, stored.EndTime)
}

func TestRecordViolationAfterDeadlineAutoSubmits(t *testing.T) {
	f := newSubmissionFixture(t, proctoredSettings(3), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)

	f.service.now = func() time.Time { return started.StartTime.Add(61 * time.Minute) }
	_, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
	require.ErrorIs(t, err, ErrDeadlinePassed)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionAutoSubmitted, stored.Status)
	require.Empty(t, stored.Violations)
}

func TestRecordViolationKeepsMultibyteDescriptionValid(t *testing.T) {
	f := newSubmissionFixture(t, proctoredSettings(3), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)

	_, err := f.service.RecordViolation(ctx, studentActor(f.student), started.SubmissionID, dto.ViolationRequest{
		Type:        "window-blur",
		Description: strings.Repeat("€", 200),
	})
	require.NoError(t, err)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Len(t, stored.Violations, 1)
	description := stored.Violations[0].Description
	require.True(t, utf8.ValidString(description))
	require.LessOrEqual(t, len(description), 500)
	require.Equal(t, 166, utf8.RuneCountInString(description))
}

func TestTruncateStopsAtRuneBoundary(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "ab", truncate("abcd", 2))
	require.Equal(t, "a", truncate("aé", 2))
	require.Equal(t, "", truncate("€", 2))
}

func TestRecordViolationWithoutProctoringNeverDisqualifies(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	started := f.start(t)

	for i := 0; i < 5; i++ {
		result, err := f.service.RecordViolation(context.Background(), studentActor(f.student), started.SubmissionID, dto.ViolationRequest{Type: "tab-switch"})
		require.NoError(t, err)
		require.False(t, result.Disqualified)
	}
}

func TestRecordViolationRejectsNonImageScreenshot(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	started := f.start(t)

	_, err := f.service.RecordViolation(context.Background(), studentActor(f.student), started.SubmissionID, dto.ViolationRequest{
		Type:       "window-blur",
		Screenshot: "data:text/plain;base64,aGVsbG8gd29ybGQ=",
	})
	require.ErrorIs(t, err, ErrScreenshotRejected)
}

func TestGradeOverridesManualAnswers(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4), store.essay(t, owner, 6)}
	})
	ctx := context.Background()
	started := f.start(t)
	f.answer(t, started.SubmissionID, f.questions[0].ID, `["a"]`)
	f.answer(t, started.SubmissionID, f.questions[1].ID, `"recursion is a function calling itself"`)

	_, err := f.service.Grade(ctx, teacherActor(f.teacher), started.SubmissionID, dto.GradeRequest{})
	require.ErrorIs(t, err, ErrCannotGradeInProgress)

	submitted, err := f.service.Submit(ctx, studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)
	require.Equal(t, 4, submitted.Score.MarksObtained)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.True(t, stored.Review.NeedsManualGrading)

	tooMany := 7
	_, err = f.service.Grade(ctx, teacherActor(f.teacher), started.SubmissionID, dto.GradeRequest{
		Answers: []dto.GradeOverride{{QuestionID: f.questions[1].ID, MarksAwarded: &tooMany}},
	})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))

	stranger := f.store.user(t, models.RoleTeacher, "stranger@example.com")
	five := 5
	_, err = f.service.Grade(ctx, teacherActor(stranger), started.SubmissionID, dto.GradeRequest{
		Answers: []dto.GradeOverride{{QuestionID: f.questions[1].ID, MarksAwarded: &five}},
	})
	require.ErrorIs(t, err, ErrForbidden)

	graded, err := f.service.Grade(ctx, teacherActor(f.teacher), started.SubmissionID, dto.GradeRequest{
		Answers:  []dto.GradeOverride{{QuestionID: f.questions[1].ID, MarksAwarded: &five, Feedback: "good"}},
		Comments: "well done",
	})
	require.NoError(t, err)
	require.Equal(t, string(models.SubmissionGraded), graded.Status)
	require.Equal(t, 9, graded.Scoring.MarksObtained)
	require.Equal(t, 90, graded.Scoring.Percentage)
	require.True(t, graded.Scoring.Passed)
	require.Equal(t, "well done", graded.Review.Comments)
	require.NotNil(t, graded.Review.ReviewedBy)

	var logs int64
	require.NoError(t, f.store.db.Model(&models.ActivityLog{}).Where("action = ?", "submission.graded").Count(&logs).Error)
	require.Equal(t, int64(1), logs)

	regraded, err := f.service.Grade(ctx, teacherActor(f.teacher), started.SubmissionID, dto.GradeRequest{
		Answers: []dto.GradeOverride{{QuestionID: f.questions[1].ID, MarksAwarded: &tooMany}},
	})
	require.Error(t, err)
	require.Empty(t, regraded.Status)
}

func TestGetHidesResultsWhenDisabled(t *testing.T) {
	settings := defaultSettings()
	settings.ShowResults = false
	f := newSubmissionFixture(t, settings, func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	started := f.start(t)
	f.answer(t, started.SubmissionID, f.questions[0].ID, `["a"]`)
	_, err := f.service.Submit(ctx, studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)

	own, err := f.service.Get(ctx, studentActor(f.student), started.SubmissionID)
	require.NoError(t, err)
	require.Nil(t, own.Scoring)

	staff, err := f.service.Get(ctx, teacherActor(f.teacher), started.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, staff.Scoring)
	require.Equal(t, 4, staff.Scoring.MarksObtained)

	other := f.store.user(t, models.RoleStudent, "other@example.com")
	_, err = f.service.Get(ctx, studentActor(other), started.SubmissionID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListForExamRequiresOwnership(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	ctx := context.Background()
	f.start(t)

	list, err := f.service.ListForExam(ctx, teacherActor(f.teacher), f.exam.ID, dto.SubmissionListRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, int64(1), list.Pagination.TotalItems)

	stranger := f.store.user(t, models.RoleTeacher, "stranger@example.com")
	_, err = f.service.ListForExam(ctx, teacherActor(stranger), f.exam.ID, dto.SubmissionListRequest{Page: 1, PageSize: 10})
	require.ErrorIs(t, err, ErrForbidden)

	mine, err := f.service.ListMine(ctx, studentActor(f.student), dto.SubmissionListRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
}

func TestAssessReturnsSuggestionWithoutStoring(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.essay(t, owner, 10)}
	})
	ctx := context.Background()
	started := f.start(t)
	f.answer(t, started.SubmissionID, f.questions[0].ID, `"a function that calls itself"`)
	_, err := f.service.Submit(ctx, studentActor(f.student), started.SubmissionID, dto.SubmitRequest{})
	require.NoError(t, err)

	_, err = f.service.Assess(ctx, teacherActor(f.teacher), started.SubmissionID, f.questions[0].ID)
	require.ErrorIs(t, err, ErrEvaluatorUnavailable)

	evaluator := &stubEvaluator{result: ai.EvaluationResult{Score: 0.75, Feedback: "solid"}}
	f.service.evaluator = evaluator

	suggestion, err := f.service.Assess(ctx, teacherActor(f.teacher), started.SubmissionID, f.questions[0].ID)
	require.NoError(t, err)
	require.Equal(t, 8, suggestion.SuggestedMarks)
	require.Equal(t, "gpt-test", suggestion.Model)
	require.Equal(t, "a function that calls itself", evaluator.input.Answer)

	stored, err := f.store.submissions.GetByID(ctx, started.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.AnswerFor(f.questions[0].ID).MarksAwarded)
}

func TestRunCodeRequiresRunner(t *testing.T) {
	f := newSubmissionFixture(t, defaultSettings(), func(store testStore, owner uint) []models.Question {
		return []models.Question{store.mcq(t, owner, 4)}
	})
	started := f.start(t)

	_, err := f.service.RunCode(context.Background(), studentActor(f.student), started.SubmissionID, f.questions[0].ID, dto.RunCodeRequest{Code: "print(1)"})
	require.ErrorIs(t, err, ErrCodeRunnerUnavailable)
}
