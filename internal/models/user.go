package models

import "time"

// Role values carried by users and JWT claims.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User is an account on the portal. Users are deactivated, never deleted.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:50;not null" json:"name"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         string     `gorm:"size:16;index;not null" json:"role"`
	Institution  string     `gorm:"size:100" json:"institution"`
	Department   string     `gorm:"size:100" json:"department"`
	StudentID    *string    `gorm:"size:32;uniqueIndex" json:"student_id,omitempty"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CanCreateExams reports whether the user may author questions and exams.
func (u User) CanCreateExams() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

// CanTakeExams reports whether the user may enroll in and attempt exams.
func (u User) CanTakeExams() bool {
	return u.Role == RoleStudent
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}
