package dto

import (
	"time"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// ProctoringRequest configures integrity monitoring. Omitted limits fall back to the defaults.
type ProctoringRequest struct {
	Enabled         *bool `json:"enabled"`
	Webcam          *bool `json:"webcam"`
	Microphone      *bool `json:"microphone"`
	ScreenShare     *bool `json:"screen_share"`
	TabSwitchLimit  *int  `json:"tab_switch_limit" validate:"omitempty,min=0,max=100"`
	WindowBlurLimit *int  `json:"window_blur_limit" validate:"omitempty,min=0,max=100"`
}

// ExamSettingsRequest is a partial settings payload.
type ExamSettingsRequest struct {
	RandomizeQuestions *bool              `json:"randomize_questions"`
	RandomizeOptions   *bool              `json:"randomize_options"`
	ShowResults        *bool              `json:"show_results"`
	AllowReview        *bool              `json:"allow_review"`
	ShowCorrectAnswers *bool              `json:"show_correct_answers"`
	MaxAttempts        *int               `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	AutoSubmit         *bool              `json:"auto_submit"`
	ShowTimer          *bool              `json:"show_timer"`
	WarningTime        *int               `json:"warning_time" validate:"omitempty,min=1,max=60"`
	Proctoring         *ProctoringRequest `json:"proctoring"`
}

// ExamCreateRequest schedules a new exam.
type ExamCreateRequest struct {
	Title        string               `json:"title" validate:"required,min=3,max=100"`
	Description  string               `json:"description" validate:"required,min=10,max=500"`
	Subject      string               `json:"subject" validate:"required,max=100"`
	Duration     int                  `json:"duration" validate:"required,min=1,max=600"`
	TotalMarks   int                  `json:"total_marks" validate:"required,min=1"`
	PassingMarks int                  `json:"passing_marks" validate:"min=0"`
	StartDate    time.Time            `json:"start_date" validate:"required"`
	EndDate      time.Time            `json:"end_date" validate:"required"`
	QuestionIDs  []uint               `json:"question_ids" validate:"omitempty,dive,min=1"`
	Settings     *ExamSettingsRequest `json:"settings"`
	AccessCode   string               `json:"access_code" validate:"omitempty,len=8,alphanum"`
	Instructions string               `json:"instructions" validate:"omitempty,max=2000"`
	Category     string               `json:"category" validate:"omitempty,oneof=academic certification assessment quiz"`
	Difficulty   string               `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Tags         []string             `json:"tags" validate:"omitempty,dive,max=50"`
}

// ExamUpdateRequest is a partial exam update.
type ExamUpdateRequest struct {
	Title        *string              `json:"title" validate:"omitempty,min=3,max=100"`
	Description  *string              `json:"description" validate:"omitempty,min=10,max=500"`
	Subject      *string              `json:"subject" validate:"omitempty,max=100"`
	Duration     *int                 `json:"duration" validate:"omitempty,min=1,max=600"`
	TotalMarks   *int                 `json:"total_marks" validate:"omitempty,min=1"`
	PassingMarks *int                 `json:"passing_marks" validate:"omitempty,min=0"`
	StartDate    *time.Time           `json:"start_date"`
	EndDate      *time.Time           `json:"end_date"`
	Settings     *ExamSettingsRequest `json:"settings"`
	Instructions *string              `json:"instructions" validate:"omitempty,max=2000"`
	Category     *string              `json:"category" validate:"omitempty,oneof=academic certification assessment quiz"`
	Difficulty   *string              `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Tags         []string             `json:"tags" validate:"omitempty,dive,max=50"`
	IsActive     *bool                `json:"is_active"`
}

// AddQuestionsRequest appends bank questions to an exam.
type AddQuestionsRequest struct {
	QuestionIDs []uint `json:"question_ids" validate:"required,min=1,dive,min=1"`
}

// PublishRequest toggles publication. When omitted the current state is flipped.
type PublishRequest struct {
	Published *bool `json:"is_published"`
}

// ExamListRequest filters exam listings.
type ExamListRequest struct {
	Page     int
	PageSize int
	Status   string
	Subject  string
	Search   string
}

// ExamResponse is the exam view. Questions are included on detail reads only.
type ExamResponse struct {
	ID            uint                 `json:"id"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Subject       string               `json:"subject"`
	CreatedBy     uint                 `json:"created_by"`
	Duration      int                  `json:"duration"`
	TotalMarks    int                  `json:"total_marks"`
	PassingMarks  int                  `json:"passing_marks"`
	StartDate     time.Time            `json:"start_date"`
	EndDate       time.Time            `json:"end_date"`
	Status        string               `json:"status"`
	Settings      models.ExamSettings  `json:"settings"`
	IsActive      bool                 `json:"is_active"`
	IsPublished   bool                 `json:"is_published"`
	AccessCode    string               `json:"access_code,omitempty"`
	Instructions  string               `json:"instructions,omitempty"`
	Category      string               `json:"category,omitempty"`
	Difficulty    string               `json:"difficulty,omitempty"`
	Tags          []string             `json:"tags"`
	Analytics     models.ExamAnalytics `json:"analytics"`
	QuestionCount int                  `json:"question_count"`
	Questions     []ExamQuestionView   `json:"questions,omitempty"`
	EnrolledCount int                  `json:"enrolled_count"`
	IsEnrolled    *bool                `json:"is_enrolled,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewExamResponse maps an exam without its question list.
func NewExamResponse(exam models.Exam, now time.Time) ExamResponse {
	response := ExamResponse{
		ID:            exam.ID,
		Title:         exam.Title,
		Description:   exam.Description,
		Subject:       exam.Subject,
		CreatedBy:     exam.CreatedBy,
		Duration:      exam.Duration,
		TotalMarks:    exam.TotalMarks,
		PassingMarks:  exam.PassingMarks,
		StartDate:     exam.StartDate,
		EndDate:       exam.EndDate,
		Status:        string(exam.Status(now)),
		Settings:      exam.Settings,
		IsActive:      exam.IsActive,
		IsPublished:   exam.IsPublished,
		AccessCode:    exam.AccessCode,
		Instructions:  exam.Instructions,
		Category:      exam.Category,
		Difficulty:    exam.Difficulty,
		Tags:          exam.Tags,
		Analytics:     exam.Analytics,
		QuestionCount: len(exam.Questions),
		EnrolledCount: len(exam.Enrollments),
		CreatedAt:     exam.CreatedAt,
		UpdatedAt:     exam.UpdatedAt,
	}
	if response.Tags == nil {
		response.Tags = []string{}
	}
	return response
}

// ExamListResponse is a page of exams.
type ExamListResponse struct {
	Items      []ExamResponse `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// EnrollResponse acknowledges an enrollment.
type EnrollResponse struct {
	ExamID uint `json:"exam_id"`
}

// TopPerformer is one leaderboard row of the analytics view.
type TopPerformer struct {
	StudentID     uint   `json:"student_id"`
	Name          string `json:"name"`
	Percentage    int    `json:"percentage"`
	MarksObtained int    `json:"marks_obtained"`
	TimeSpent     int    `json:"time_spent"`
}

// ExamAnalyticsResponse is the analytics read model of an exam.
type ExamAnalyticsResponse struct {
	ExamID            uint                 `json:"exam_id"`
	Title             string               `json:"title"`
	TotalEnrolled     int64                `json:"total_enrolled"`
	TotalSubmissions  int                  `json:"total_submissions"`
	Summary           models.ExamAnalytics `json:"summary"`
	GradeDistribution map[string]int       `json:"grade_distribution"`
	StatusBreakdown   map[string]int       `json:"status_breakdown"`
	TopPerformers     []TopPerformer       `json:"top_performers"`
	AverageTimeSpent  float64              `json:"average_time_spent"`
	GeneratedAt       time.Time            `json:"generated_at"`
}
