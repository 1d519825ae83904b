package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
	"github.com/noah-isme/exam-portal-api/internal/utils"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type testStore struct {
	db          *gorm.DB
	users       repository.UserRepository
	questions   repository.QuestionRepository
	exams       repository.ExamRepository
	submissions repository.SubmissionRepository
	activity    repository.ActivityLogRepository
}

func newTestStore(t *testing.T) testStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	return testStore{
		db:          db,
		users:       repository.NewUserRepository(db),
		questions:   repository.NewQuestionRepository(db),
		exams:       repository.NewExamRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		activity:    repository.NewActivityLogRepository(db),
	}
}

func (s testStore) user(t *testing.T, role, email string) models.User {
	t.Helper()
	user := models.User{Name: "User " + email, Email: email, PasswordHash: "x", Role: role, IsActive: true}
	if role == models.RoleStudent {
		studentID := "STU-" + email
		user.StudentID = &studentID
	}
	require.NoError(t, s.db.Create(&user).Error)
	return user
}

func (s testStore) question(t *testing.T, question models.Question) models.Question {
	t.Helper()
	if question.Text == "" {
		question.Text = "Question"
	}
	if question.Subject == "" {
		question.Subject = "Math"
	}
	if question.Difficulty == "" {
		question.Difficulty = "easy"
	}
	question.IsActive = true
	question.Version = 1
	require.NoError(t, s.db.Create(&question).Error)
	return question
}

func (s testStore) mcq(t *testing.T, owner uint, marks int, hints ...models.Hint) models.Question {
	t.Helper()
	return s.question(t, models.Question{
		Type:  models.QuestionTypeMCQ,
		Marks: marks,
		Options: []models.QuestionOption{
			{ID: "a", Text: "A", IsCorrect: true},
			{ID: "b", Text: "B"},
		},
		Hints:     hints,
		CreatedBy: owner,
	})
}

func (s testStore) essay(t *testing.T, owner uint, marks int) models.Question {
	t.Helper()
	return s.question(t, models.Question{
		Type:         models.QuestionTypeEssay,
		Text:         "Explain recursion",
		Marks:        marks,
		MaxLength:    500,
		SampleAnswer: "A function that calls itself",
		CreatedBy:    owner,
	})
}

// activeExam creates a published exam that is open now, with the given questions in order.
func (s testStore) activeExam(t *testing.T, owner uint, settings models.ExamSettings, questions ...models.Question) models.Exam {
	t.Helper()
	now := time.Now().UTC()
	total := 0
	exam := models.Exam{
		Title:        "Algebra",
		Description:  "Algebra midterm",
		Subject:      "Math",
		CreatedBy:    owner,
		Duration:     60,
		StartDate:    now.Add(-time.Hour),
		EndDate:      now.Add(2 * time.Hour),
		Settings:     settings,
		IsActive:     true,
		IsPublished:  true,
		AccessCode:   strings.ToUpper(uuid.NewString()[:8]),
		Instructions: "Read carefully",
	}
	for i, question := range questions {
		total += question.Marks
		exam.Questions = append(exam.Questions, models.ExamQuestion{QuestionID: question.ID, Position: i})
	}
	exam.TotalMarks = max(total, 1)
	exam.PassingMarks = exam.TotalMarks / 2
	require.NoError(t, s.exams.Create(context.Background(), &exam))
	return exam
}

func (s testStore) enroll(t *testing.T, examID, studentID uint) {
	t.Helper()
	require.NoError(t, s.exams.CreateEnrollment(context.Background(), &models.Enrollment{
		ExamID:     examID,
		StudentID:  studentID,
		Status:     models.EnrollmentEnrolled,
		EnrolledAt: time.Now().UTC(),
	}))
}

func defaultSettings() models.ExamSettings {
	return defaultExamSettings()
}

func proctoredSettings(tabSwitchLimit int) models.ExamSettings {
	settings := defaultExamSettings()
	settings.Proctoring.Enabled = true
	settings.Proctoring.TabSwitchLimit = tabSwitchLimit
	return settings
}

func studentActor(user models.User) Actor {
	return Actor{ID: user.ID, Role: models.RoleStudent}
}

func teacherActor(user models.User) Actor {
	return Actor{ID: user.ID, Role: models.RoleTeacher}
}

type recordingPublisher struct {
	events []ExamEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event ExamEvent) {
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	result := make([]string, 0, len(p.events))
	for _, event := range p.events {
		result = append(result, event.Type)
	}
	return result
}

var testValidator = utils.NewValidator()
