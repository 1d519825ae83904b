package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
)

// UserService covers self-service profiles, admin account management and dashboards.
type UserService interface {
	Profile(ctx context.Context, actor Actor) (dto.UserResponse, error)
	UpdateProfile(ctx context.Context, actor Actor, req dto.ProfileUpdateRequest) (dto.UserResponse, error)
	List(ctx context.Context, req dto.UserListRequest) (dto.UserListResponse, error)
	Get(ctx context.Context, id uint) (dto.UserResponse, error)
	Update(ctx context.Context, actor Actor, id uint, req dto.AdminUserUpdateRequest) (dto.UserResponse, error)
	Deactivate(ctx context.Context, actor Actor, id uint) error
	Activate(ctx context.Context, actor Actor, id uint) (dto.UserResponse, error)
	DashboardStats(ctx context.Context, actor Actor) (dto.DashboardStatsResponse, error)
}

type userService struct {
	users       repository.UserRepository
	exams       repository.ExamRepository
	questions   repository.QuestionRepository
	submissions repository.SubmissionRepository
	activity    ActivityRecorder
	cache       *redis.Client
	cacheTTL    time.Duration
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewUserService constructs the user service. The cache is optional.
func NewUserService(users repository.UserRepository, exams repository.ExamRepository, questions repository.QuestionRepository, submissions repository.SubmissionRepository, activity ActivityRecorder, cache *redis.Client, cacheTTL time.Duration, validate *validator.Validate, logger zerolog.Logger) UserService {
	return &userService{
		users:       users,
		exams:       exams,
		questions:   questions,
		submissions: submissions,
		activity:    activity,
		cache:       cache,
		cacheTTL:    cacheTTL,
		validator:   validate,
		logger:      logger.With().Str("component", "user_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *userService) Profile(ctx context.Context, actor Actor) (dto.UserResponse, error) {
	return s.Get(ctx, actor.ID)
}

func (s *userService) UpdateProfile(ctx context.Context, actor Actor, req dto.ProfileUpdateRequest) (dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Institution != nil {
		updates["institution"] = strings.TrimSpace(*req.Institution)
	}
	if req.Department != nil {
		updates["department"] = strings.TrimSpace(*req.Department)
	}
	if len(updates) == 0 {
		return s.Get(ctx, actor.ID)
	}

	user, err := s.users.Update(ctx, actor.ID, updates)
	if err != nil {
		return dto.UserResponse{}, mapUserErr(err)
	}
	return dto.NewUserResponse(user), nil
}

func (s *userService) List(ctx context.Context, req dto.UserListRequest) (dto.UserListResponse, error) {
	users, total, err := s.users.List(ctx, repository.UserFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
		Role:     strings.ToLower(strings.TrimSpace(req.Role)),
		Search:   req.Search,
		IsActive: req.IsActive,
	})
	if err != nil {
		return dto.UserListResponse{}, err
	}

	items := make([]dto.UserResponse, 0, len(users))
	for _, user := range users {
		items = append(items, dto.NewUserResponse(user))
	}
	return dto.UserListResponse{Items: items, Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total)}, nil
}

func (s *userService) Get(ctx context.Context, id uint) (dto.UserResponse, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, mapUserErr(err)
	}
	return dto.NewUserResponse(user), nil
}

func (s *userService) Update(ctx context.Context, actor Actor, id uint, req dto.AdminUserUpdateRequest) (dto.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, err
	}
	if id == actor.ID && req.IsActive != nil && !*req.IsActive {
		return dto.UserResponse{}, ErrCannotDeactivateSelf
	}

	current, err := s.users.GetByID(ctx, id)
	if err != nil {
		return dto.UserResponse{}, mapUserErr(err)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Institution != nil {
		updates["institution"] = strings.TrimSpace(*req.Institution)
	}
	if req.Department != nil {
		updates["department"] = strings.TrimSpace(*req.Department)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Role != nil && *req.Role != current.Role {
		if *req.Role == models.RoleStudent && current.StudentID == nil {
			return dto.UserResponse{}, invalidField("role", "only registered students can hold the student role")
		}
		updates["role"] = *req.Role
	}
	if len(updates) == 0 {
		return dto.NewUserResponse(current), nil
	}

	user, err := s.users.Update(ctx, id, updates)
	if err != nil {
		return dto.UserResponse{}, mapUserErr(err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "user.updated",
		EntityType: "user",
		EntityID:   uintPtr(id),
		Metadata:   updates,
	})
	s.invalidateStats(ctx, id)
	return dto.NewUserResponse(user), nil
}

// Deactivate disables an account. Accounts are never hard deleted.
func (s *userService) Deactivate(ctx context.Context, actor Actor, id uint) error {
	if id == actor.ID {
		return ErrCannotDeactivateSelf
	}
	if _, err := s.users.Update(ctx, id, map[string]interface{}{"is_active": false}); err != nil {
		return mapUserErr(err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "user.deactivated",
		EntityType: "user",
		EntityID:   uintPtr(id),
	})
	return nil
}

func (s *userService) Activate(ctx context.Context, actor Actor, id uint) (dto.UserResponse, error) {
	user, err := s.users.Update(ctx, id, map[string]interface{}{"is_active": true})
	if err != nil {
		return dto.UserResponse{}, mapUserErr(err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "user.activated",
		EntityType: "user",
		EntityID:   uintPtr(id),
	})
	return dto.NewUserResponse(user), nil
}

// DashboardStats builds the caller's role overview, served from cache when possible.
func (s *userService) DashboardStats(ctx context.Context, actor Actor) (dto.DashboardStatsResponse, error) {
	cacheKey := dashboardCacheKey(actor.ID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var stats dto.DashboardStatsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &stats); unmarshalErr == nil {
				return stats, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read dashboard cache")
		}
	}

	stats := dto.DashboardStatsResponse{Role: actor.Role, GeneratedAt: s.now()}
	var err error
	switch actor.Role {
	case models.RoleStudent:
		err = s.studentStats(ctx, actor, &stats)
	case models.RoleTeacher:
		err = s.teacherStats(ctx, actor, &stats)
	case models.RoleAdmin:
		err = s.adminStats(ctx, &stats)
	default:
		return dto.DashboardStatsResponse{}, ErrForbidden
	}
	if err != nil {
		return dto.DashboardStatsResponse{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store dashboard cache")
			}
		}
	}
	return stats, nil
}

func (s *userService) studentStats(ctx context.Context, actor Actor, stats *dto.DashboardStatsResponse) error {
	enrolled, err := s.exams.CountEnrollmentsForStudent(ctx, actor.ID)
	if err != nil {
		return err
	}
	stats.EnrolledExams = enrolled

	submissions, _, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: &actor.ID})
	if err != nil {
		return err
	}

	percentageSum := 0
	for _, submission := range submissions {
		if !submission.Status.IsTerminal() {
			continue
		}
		stats.CompletedAttempts++
		percentageSum += submission.Scoring.Percentage
		if submission.Scoring.Passed {
			stats.PassedAttempts++
		}
	}
	if stats.CompletedAttempts > 0 {
		stats.AverageScore = round2(float64(percentageSum) / float64(stats.CompletedAttempts))
	}
	return nil
}

func (s *userService) teacherStats(ctx context.Context, actor Actor, stats *dto.DashboardStatsResponse) error {
	exams, err := s.exams.Count(ctx, &actor.ID)
	if err != nil {
		return err
	}
	stats.ExamsCreated = exams

	_, questions, err := s.questions.List(ctx, repository.QuestionFilter{Page: 1, PageSize: 1, CreatedBy: &actor.ID})
	if err != nil {
		return err
	}
	stats.QuestionsCreated = questions

	_, submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{Page: 1, PageSize: 1, ExamOwner: &actor.ID})
	if err != nil {
		return err
	}
	stats.TotalSubmissions = submissions

	pending, err := s.submissions.CountPendingReview(ctx, &actor.ID)
	if err != nil {
		return err
	}
	stats.PendingReview = pending
	return nil
}

func (s *userService) adminStats(ctx context.Context, stats *dto.DashboardStatsResponse) error {
	byRole, err := s.users.CountByRole(ctx)
	if err != nil {
		return err
	}
	stats.UsersByRole = byRole

	exams, err := s.exams.Count(ctx, nil)
	if err != nil {
		return err
	}
	stats.TotalExams = exams

	_, submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{Page: 1, PageSize: 1})
	if err != nil {
		return err
	}
	stats.TotalSubmissions = submissions

	pending, err := s.submissions.CountPendingReview(ctx, nil)
	if err != nil {
		return err
	}
	stats.PendingReview = pending
	return nil
}

func (s *userService) invalidateStats(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, dashboardCacheKey(userID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to invalidate dashboard cache")
	}
}

func dashboardCacheKey(userID uint) string {
	return fmt.Sprintf("exam:dashboard:%d", userID)
}

func mapUserErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}
