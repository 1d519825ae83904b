package service

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
)

func newUserServiceForTest(store testStore, cache *redis.Client) UserService {
	activity := NewActivityService(store.activity, testLogger())
	return NewUserService(store.users, store.exams, store.questions, store.submissions, activity, cache, time.Minute, testValidator, testLogger())
}

func TestUserUpdateProfileTrimsFields(t *testing.T) {
	store := newTestStore(t)
	svc := newUserServiceForTest(store, nil)
	user := store.user(t, models.RoleStudent, "ada@example.com")

	name := "  Ada Lovelace "
	updated, err := svc.UpdateProfile(context.Background(), studentActor(user), dto.ProfileUpdateRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", updated.Name)

	short := "A"
	_, err = svc.UpdateProfile(context.Background(), studentActor(user), dto.ProfileUpdateRequest{Name: &short})
	require.Error(t, err)

	unchanged, err := svc.UpdateProfile(context.Background(), studentActor(user), dto.ProfileUpdateRequest{})
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", unchanged.Name)
}

func TestUserAdminUpdateRules(t *testing.T) {
	store := newTestStore(t)
	svc := newUserServiceForTest(store, nil)
	ctx := context.Background()
	admin := store.user(t, models.RoleAdmin, "admin@example.com")
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")
	actor := Actor{ID: admin.ID, Role: models.RoleAdmin}

	inactive := false
	_, err := svc.Update(ctx, actor, admin.ID, dto.AdminUserUpdateRequest{IsActive: &inactive})
	require.ErrorIs(t, err, ErrCannotDeactivateSelf)

	student := models.RoleStudent
	_, err = svc.Update(ctx, actor, teacher.ID, dto.AdminUserUpdateRequest{Role: &student})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))

	promoted := models.RoleAdmin
	updated, err := svc.Update(ctx, actor, teacher.ID, dto.AdminUserUpdateRequest{Role: &promoted})
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, updated.Role)

	_, err = svc.Update(ctx, actor, 9999, dto.AdminUserUpdateRequest{Role: &promoted})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserDeactivateAndActivate(t *testing.T) {
	store := newTestStore(t)
	svc := newUserServiceForTest(store, nil)
	ctx := context.Background()
	admin := store.user(t, models.RoleAdmin, "admin@example.com")
	student := store.user(t, models.RoleStudent, "student@example.com")
	actor := Actor{ID: admin.ID, Role: models.RoleAdmin}

	require.ErrorIs(t, svc.Deactivate(ctx, actor, admin.ID), ErrCannotDeactivateSelf)
	require.NoError(t, svc.Deactivate(ctx, actor, student.ID))

	loaded, err := svc.Get(ctx, student.ID)
	require.NoError(t, err)
	require.False(t, loaded.IsActive)

	active, err := svc.Activate(ctx, actor, student.ID)
	require.NoError(t, err)
	require.True(t, active.IsActive)

	require.ErrorIs(t, svc.Deactivate(ctx, actor, 9999), ErrUserNotFound)

	inactive := false
	list, err := svc.List(ctx, dto.UserListRequest{Page: 1, PageSize: 10, IsActive: &inactive})
	require.NoError(t, err)
	require.Empty(t, list.Items)

	var logs int64
	require.NoError(t, store.db.Model(&models.ActivityLog{}).Where("entity_type = ?", "user").Count(&logs).Error)
	require.Equal(t, int64(2), logs)
}

func TestUserDashboardStatsByRole(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store := newTestStore(t)
	svc := newUserServiceForTest(store, client)
	ctx := context.Background()
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")
	student := store.user(t, models.RoleStudent, "student@example.com")
	exam := store.activeExam(t, teacher.ID, defaultSettings(), store.mcq(t, teacher.ID, 10))
	store.enroll(t, exam.ID, student.ID)

	end := time.Now().UTC()
	require.NoError(t, store.submissions.Create(ctx, &models.Submission{
		ExamID:        exam.ID,
		StudentID:     student.ID,
		AttemptNumber: 1,
		Status:        models.SubmissionSubmitted,
		StartTime:     end.Add(-time.Minute),
		EndTime:       &end,
		Scoring:       models.Scoring{TotalMarks: 10, MarksObtained: 7, Percentage: 70, Grade: "B", Passed: true},
		Review:        models.Review{NeedsManualGrading: true},
	}, models.EnrollmentCompleted))

	studentStats, err := svc.DashboardStats(ctx, studentActor(student))
	require.NoError(t, err)
	require.Equal(t, int64(1), studentStats.EnrolledExams)
	require.Equal(t, int64(1), studentStats.CompletedAttempts)
	require.Equal(t, int64(1), studentStats.PassedAttempts)
	require.Equal(t, 70.0, studentStats.AverageScore)
	require.True(t, server.Exists(dashboardCacheKey(student.ID)))

	teacherStats, err := svc.DashboardStats(ctx, teacherActor(teacher))
	require.NoError(t, err)
	require.Equal(t, int64(1), teacherStats.ExamsCreated)
	require.Equal(t, int64(1), teacherStats.QuestionsCreated)
	require.Equal(t, int64(1), teacherStats.TotalSubmissions)
	require.Equal(t, int64(1), teacherStats.PendingReview)

	adminStats, err := svc.DashboardStats(ctx, Actor{ID: 999, Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, int64(1), adminStats.UsersByRole[models.RoleStudent])
	require.Equal(t, int64(1), adminStats.TotalExams)
}
