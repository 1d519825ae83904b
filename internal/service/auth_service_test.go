package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
)

const testSecret = "test-secret"

func newAuthServiceForTest(store testStore) AuthService {
	activity := NewActivityService(store.activity, testLogger())
	return NewAuthService(store.users, activity, testValidator, AuthConfig{
		Secret:     testSecret,
		TTL:        time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, testLogger())
}

func TestAuthRegisterIssuesTokenAndStudentID(t *testing.T) {
	store := newTestStore(t)
	svc := newAuthServiceForTest(store)

	result, err := svc.Register(context.Background(), dto.RegisterRequest{
		Name:     "Ada Student",
		Email:    " Ada@Example.com ",
		Password: "secret123",
	})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", result.User.Email)
	require.Equal(t, models.RoleStudent, result.User.Role)
	require.True(t, strings.HasPrefix(result.User.StudentID, "STU"))

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(result.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, models.RoleStudent, claims["role"])
	require.NotEmpty(t, claims["sub"])
	require.WithinDuration(t, time.Now().Add(time.Hour), result.ExpiresAt, time.Minute)

	_, err = svc.Register(context.Background(), dto.RegisterRequest{
		Name:     "Ada Again",
		Email:    "ada@example.com",
		Password: "secret123",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthRegisterTeacherRequiresInstitution(t *testing.T) {
	store := newTestStore(t)
	svc := newAuthServiceForTest(store)

	_, err := svc.Register(context.Background(), dto.RegisterRequest{
		Name:     "Grace Teacher",
		Email:    "grace@example.com",
		Password: "secret123",
		Role:     models.RoleTeacher,
	})
	require.Error(t, err)

	result, err := svc.Register(context.Background(), dto.RegisterRequest{
		Name:        "Grace Teacher",
		Email:       "grace@example.com",
		Password:    "secret123",
		Role:        models.RoleTeacher,
		Institution: "Navy College",
		Department:  "Computing",
	})
	require.NoError(t, err)
	require.Empty(t, result.User.StudentID)

	_, err = svc.Register(context.Background(), dto.RegisterRequest{
		Name:     "Mallory",
		Email:    "mallory@example.com",
		Password: "secret123",
		Role:     models.RoleAdmin,
	})
	require.Error(t, err)
}

func TestAuthLogin(t *testing.T) {
	store := newTestStore(t)
	svc := newAuthServiceForTest(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Name: "Ada Student", Email: "ada@example.com", Password: "secret123"})
	require.NoError(t, err)

	result, err := svc.Login(ctx, dto.LoginRequest{Email: "  ADA@example.com ", Password: "secret123"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.NotNil(t, result.User.LastLoginAt)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "ada@example.com", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.users.Update(ctx, result.User.ID, map[string]interface{}{"is_active": false})
	require.NoError(t, err)
	_, err = svc.Login(ctx, dto.LoginRequest{Email: "ada@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrAccountDisabled)

	_, err = svc.Me(ctx, result.User.ID)
	require.ErrorIs(t, err, ErrAccountDisabled)

	_, err = svc.Me(ctx, 9999)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthLogoutRecordsActivity(t *testing.T) {
	store := newTestStore(t)
	svc := newAuthServiceForTest(store)
	user := store.user(t, models.RoleStudent, "ada@example.com")

	require.NoError(t, svc.Logout(context.Background(), studentActor(user)))

	var count int64
	require.NoError(t, store.db.Model(&models.ActivityLog{}).Where("action = ? AND actor_id = ?", "user.logout", user.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
