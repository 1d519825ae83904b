package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
)

const studentIDAttempts = 5

// AuthConfig configures token issuance.
type AuthConfig struct {
	Secret     string
	TTL        time.Duration
	BcryptCost int
}

// AuthService registers accounts and issues bearer tokens.
type AuthService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Me(ctx context.Context, userID uint) (dto.UserResponse, error)
	Logout(ctx context.Context, actor Actor) error
}

type authService struct {
	users     repository.UserRepository
	activity  ActivityRecorder
	validator *validator.Validate
	config    AuthConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAuthService constructs the authentication service.
func NewAuthService(users repository.UserRepository, activity ActivityRecorder, validate *validator.Validate, cfg AuthConfig, logger zerolog.Logger) AuthService {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &authService{
		users:     users,
		activity:  activity,
		validator: validate,
		config:    cfg,
		logger:    logger.With().Str("component", "auth_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *authService) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	email := req.Email
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return dto.AuthResponse{}, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}

	user := models.User{
		Name:         req.Name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Institution:  req.Institution,
		Department:   req.Department,
		IsActive:     true,
	}

	if role == models.RoleStudent {
		studentID, err := s.generateStudentID(ctx)
		if err != nil {
			return dto.AuthResponse{}, err
		}
		user.StudentID = &studentID
	}

	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AuthResponse{}, ErrEmailTaken
		}
		return dto.AuthResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      Actor{ID: user.ID, Role: user.Role},
		Action:     "user.registered",
		EntityType: "user",
		EntityID:   uintPtr(user.ID),
		Metadata:   map[string]interface{}{"email": user.Email, "role": user.Role},
	})

	return s.issue(user)
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Info().Uint("user_id", user.ID).Msg("login rejected: wrong password")
		return dto.AuthResponse{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return dto.AuthResponse{}, ErrAccountDisabled
	}

	updated, err := s.users.Update(ctx, user.ID, map[string]interface{}{"last_login_at": s.now()})
	if err != nil {
		s.logger.Warn().Err(err).Uint("user_id", user.ID).Msg("failed to stamp last login")
	} else {
		user = updated
	}

	return s.issue(user)
}

func (s *authService) Me(ctx context.Context, userID uint) (dto.UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.UserResponse{}, ErrUserNotFound
		}
		return dto.UserResponse{}, err
	}
	if !user.IsActive {
		return dto.UserResponse{}, ErrAccountDisabled
	}
	return dto.NewUserResponse(user), nil
}

// Logout only records the event. Tokens are stateless and expire on their own.
func (s *authService) Logout(ctx context.Context, actor Actor) error {
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "user.logout",
		EntityType: "user",
		EntityID:   uintPtr(actor.ID),
	})
	return nil
}

func (s *authService) issue(user models.User) (dto.AuthResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatUint(uint64(user.ID), 10),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return dto.AuthResponse{Token: signed, ExpiresAt: expiresAt, User: dto.NewUserResponse(user)}, nil
}

// generateStudentID produces STU<unix millis><3 digits>, retrying on collision.
func (s *authService) generateStudentID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < studentIDAttempts; attempt++ {
		suffix, err := rand.Int(rand.Reader, big.NewInt(1000))
		if err != nil {
			return "", err
		}
		candidate := fmt.Sprintf("STU%d%03d", s.now().UnixMilli(), suffix.Int64())

		exists, err := s.users.ExistsByStudentID(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a unique student id")
}
