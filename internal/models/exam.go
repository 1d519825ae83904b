package models

import (
	"time"

	"gorm.io/datatypes"
)

// ExamStatus is derived from the schedule and never persisted.
type ExamStatus string

const (
	ExamStatusUpcoming  ExamStatus = "upcoming"
	ExamStatusActive    ExamStatus = "active"
	ExamStatusCompleted ExamStatus = "completed"
)

// Enrollment statuses.
const (
	EnrollmentEnrolled     = "enrolled"
	EnrollmentStarted      = "started"
	EnrollmentCompleted    = "completed"
	EnrollmentDisqualified = "disqualified"
)

// Default proctoring thresholds applied when an exam is created without them.
const (
	DefaultTabSwitchLimit  = 3
	DefaultWindowBlurLimit = 5
	DefaultMaxAttempts     = 1
	DefaultWarningTime     = 5
)

// ProctoringSettings configures integrity monitoring for an exam.
type ProctoringSettings struct {
	Enabled         bool `json:"enabled"`
	Webcam          bool `json:"webcam"`
	Microphone      bool `json:"microphone"`
	ScreenShare     bool `json:"screen_share"`
	TabSwitchLimit  int  `json:"tab_switch_limit"`
	WindowBlurLimit int  `json:"window_blur_limit"`
}

// ExamSettings groups the behavioural switches of an exam.
type ExamSettings struct {
	RandomizeQuestions bool               `json:"randomize_questions"`
	RandomizeOptions   bool               `json:"randomize_options"`
	ShowResults        bool               `json:"show_results"`
	AllowReview        bool               `json:"allow_review"`
	ShowCorrectAnswers bool               `json:"show_correct_answers"`
	MaxAttempts        int                `json:"max_attempts"`
	AutoSubmit         bool               `json:"auto_submit"`
	ShowTimer          bool               `json:"show_timer"`
	WarningTime        int                `json:"warning_time"`
	Proctoring         ProctoringSettings `gorm:"embedded;embeddedPrefix:proctoring_" json:"proctoring"`
}

// ExamAnalytics is the snapshot recomputed from terminal submissions.
type ExamAnalytics struct {
	TotalAttempts  int     `json:"total_attempts"`
	AverageScore   float64 `json:"average_score"`
	PassRate       float64 `json:"pass_rate"`
	CompletionRate float64 `json:"completion_rate"`
}

// ExamQuestion orders a question inside an exam.
type ExamQuestion struct {
	ID         uint     `gorm:"primaryKey" json:"id"`
	ExamID     uint     `gorm:"not null;uniqueIndex:idx_exam_question" json:"exam_id"`
	QuestionID uint     `gorm:"not null;uniqueIndex:idx_exam_question" json:"question_id"`
	Position   int      `gorm:"not null" json:"position"`
	Question   Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"question"`
}

// Enrollment is a student's registration for an exam.
type Enrollment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ExamID     uint      `gorm:"not null;uniqueIndex:idx_exam_student" json:"exam_id"`
	StudentID  uint      `gorm:"not null;uniqueIndex:idx_exam_student;index" json:"student_id"`
	Status     string    `gorm:"size:16;not null" json:"status"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Student    User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
}

// Exam is a scheduled assessment.
type Exam struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	Title        string                      `gorm:"size:100;not null" json:"title"`
	Description  string                      `gorm:"size:500;not null" json:"description"`
	Subject      string                      `gorm:"size:100;index;not null" json:"subject"`
	CreatedBy    uint                        `gorm:"index;not null" json:"created_by"`
	Duration     int                         `gorm:"not null" json:"duration"`
	TotalMarks   int                         `gorm:"not null" json:"total_marks"`
	PassingMarks int                         `gorm:"not null" json:"passing_marks"`
	StartDate    time.Time                   `gorm:"index;not null" json:"start_date"`
	EndDate      time.Time                   `gorm:"index;not null" json:"end_date"`
	Settings     ExamSettings                `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	IsActive     bool                        `gorm:"not null" json:"is_active"`
	IsPublished  bool                        `gorm:"not null" json:"is_published"`
	AccessCode   string                      `gorm:"size:8;uniqueIndex" json:"access_code"`
	Instructions string                      `gorm:"type:text" json:"instructions"`
	Category     string                      `gorm:"size:20" json:"category"`
	Difficulty   string                      `gorm:"size:10" json:"difficulty"`
	Tags         datatypes.JSONSlice[string] `gorm:"type:json" json:"tags"`
	Analytics    ExamAnalytics               `gorm:"embedded;embeddedPrefix:analytics_" json:"analytics"`
	Questions    []ExamQuestion              `gorm:"constraint:OnDelete:CASCADE" json:"questions"`
	Enrollments  []Enrollment                `gorm:"constraint:OnDelete:CASCADE" json:"enrollments"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Status derives the schedule status of the exam at now.
func (e Exam) Status(now time.Time) ExamStatus {
	switch {
	case now.Before(e.StartDate):
		return ExamStatusUpcoming
	case now.After(e.EndDate):
		return ExamStatusCompleted
	default:
		return ExamStatusActive
	}
}

// IsAvailable reports whether the exam can be taken at now. Both window bounds are inclusive.
func (e Exam) IsAvailable(now time.Time) bool {
	return e.IsActive && e.IsPublished && !now.Before(e.StartDate) && !now.After(e.EndDate)
}

// CanAccess reports whether userID may take the exam at now.
func (e Exam) CanAccess(userID uint, now time.Time) bool {
	return e.IsAvailable(now) && e.EnrollmentFor(userID) != nil
}

// EnrollmentFor returns the enrollment of studentID, or nil.
func (e Exam) EnrollmentFor(studentID uint) *Enrollment {
	for i := range e.Enrollments {
		if e.Enrollments[i].StudentID == studentID {
			return &e.Enrollments[i]
		}
	}
	return nil
}

// QuestionIDs returns the referenced question ids in exam order.
func (e Exam) QuestionIDs() []uint {
	ids := make([]uint, 0, len(e.Questions))
	for _, item := range e.Questions {
		ids = append(ids, item.QuestionID)
	}
	return ids
}
