package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// RegisterRequest is the self-registration payload. Admin accounts are created by admins only.
type RegisterRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=50"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	Role        string `json:"role" validate:"omitempty,oneof=student teacher"`
	Institution string `json:"institution" validate:"required_if=Role teacher,max=100"`
	Department  string `json:"department" validate:"required_if=Role teacher,max=100"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Normalize trims the identity fields and lowercases the email so tags validate the stored form.
func (r *RegisterRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	r.Institution = strings.TrimSpace(r.Institution)
	r.Department = strings.TrimSpace(r.Department)
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Institution string     `json:"institution,omitempty"`
	Department  string     `json:"department,omitempty"`
	StudentID   string     `json:"student_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewUserResponse maps a user model.
func NewUserResponse(user models.User) UserResponse {
	response := UserResponse{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Role:        user.Role,
		Institution: user.Institution,
		Department:  user.Department,
		IsActive:    user.IsActive,
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt,
	}
	if user.StudentID != nil {
		response.StudentID = *user.StudentID
	}
	return response
}

// ProfileUpdateRequest is a partial update of the caller's own profile.
type ProfileUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=50"`
	Institution *string `json:"institution" validate:"omitempty,max=100"`
	Department  *string `json:"department" validate:"omitempty,max=100"`
}

// AdminUserUpdateRequest is a partial update performed by an admin.
type AdminUserUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=50"`
	Role        *string `json:"role" validate:"omitempty,oneof=student teacher admin"`
	Institution *string `json:"institution" validate:"omitempty,max=100"`
	Department  *string `json:"department" validate:"omitempty,max=100"`
	IsActive    *bool   `json:"is_active"`
}

// UserListRequest filters the admin user listing.
type UserListRequest struct {
	Page     int
	PageSize int
	Role     string
	Search   string
	IsActive *bool
}

// UserListResponse is a page of users.
type UserListResponse struct {
	Items      []UserResponse `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// DashboardStatsResponse is the role-specific overview for the caller.
type DashboardStatsResponse struct {
	Role string `json:"role"`

	EnrolledExams     int64   `json:"enrolled_exams,omitempty"`
	CompletedAttempts int64   `json:"completed_attempts,omitempty"`
	PassedAttempts    int64   `json:"passed_attempts,omitempty"`
	AverageScore      float64 `json:"average_score,omitempty"`

	ExamsCreated     int64 `json:"exams_created,omitempty"`
	QuestionsCreated int64 `json:"questions_created,omitempty"`
	TotalSubmissions int64 `json:"total_submissions,omitempty"`
	PendingReview    int64 `json:"pending_review,omitempty"`

	UsersByRole map[string]int64 `json:"users_by_role,omitempty"`
	TotalExams  int64            `json:"total_exams,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// EnrolledStudentResponse lists one student enrolled in an exam.
type EnrolledStudentResponse struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	StudentID  string    `json:"student_id,omitempty"`
	Status     string    `json:"status"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// NewEnrolledStudentResponse maps an enrollment with its preloaded student.
func NewEnrolledStudentResponse(enrollment models.Enrollment) EnrolledStudentResponse {
	response := EnrolledStudentResponse{
		ID:         enrollment.StudentID,
		Name:       enrollment.Student.Name,
		Email:      enrollment.Student.Email,
		Status:     enrollment.Status,
		EnrolledAt: enrollment.EnrolledAt,
	}
	if enrollment.Student.StudentID != nil {
		response.StudentID = *enrollment.Student.StudentID
	}
	return response
}
