package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// StartSubmissionRequest starts or resumes an attempt.
type StartSubmissionRequest struct {
	ExamID uint `json:"exam_id" validate:"required,gt=0"`
}

// ClientInfo is captured from the request that starts an attempt.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// StartSubmissionResponse identifies the active attempt.
type StartSubmissionResponse struct {
	SubmissionID  uint      `json:"submission_id"`
	StartTime     time.Time `json:"start_time"`
	Duration      int       `json:"duration"`
	AttemptNumber int       `json:"attempt_number"`
	Resumed       bool      `json:"resumed"`
}

// SaveAnswerRequest overwrites one answer slot.
type SaveAnswerRequest struct {
	QuestionID uint            `json:"question_id" validate:"required,gt=0"`
	Answer     json.RawMessage `json:"answer"`
	TimeSpent  int             `json:"time_spent" validate:"min=0"`
	Flagged    *bool           `json:"flagged"`
	HintIndex  *int            `json:"hint_index" validate:"omitempty,min=0"`
}

// SaveAnswerResponse acknowledges a saved answer.
type SaveAnswerResponse struct {
	QuestionID uint `json:"question_id"`
	Saved      bool `json:"saved"`
}

// SubmitRequest finalizes an attempt. Auto marks a client-side timer expiry.
type SubmitRequest struct {
	Auto bool `json:"auto"`
}

// SubmitResponse reports the final score.
type SubmitResponse struct {
	SubmissionID uint           `json:"submission_id"`
	Status       string         `json:"status"`
	Score        models.Scoring `json:"score"`
	TimeSpent    int            `json:"time_spent"`
}

// ViolationRequest reports a proctoring event. Screenshot is an optional base64 image or data URL.
type ViolationRequest struct {
	Type        string `json:"type" validate:"required,oneof=tab-switch window-blur face-not-detected multiple-faces suspicious-activity"`
	Description string `json:"description" validate:"omitempty,max=500"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high"`
	Screenshot  string `json:"screenshot"`
}

// ViolationResponse reports the proctoring state after a violation.
type ViolationResponse struct {
	ViolationCount int  `json:"violation_count"`
	Disqualified   bool `json:"disqualified"`
}

// GradeOverride replaces the marks of one answer.
type GradeOverride struct {
	QuestionID   uint   `json:"question_id" validate:"required,gt=0"`
	MarksAwarded *int   `json:"marks_awarded" validate:"required,min=0"`
	Feedback     string `json:"feedback" validate:"omitempty,max=2000"`
	ReviewNotes  string `json:"review_notes" validate:"omitempty,max=2000"`
}

// GradeRequest is a manual grading pass.
type GradeRequest struct {
	Answers  []GradeOverride `json:"answers" validate:"omitempty,dive"`
	Comments string          `json:"comments" validate:"omitempty,max=2000"`
}

// GradeResponse reports the recomputed result.
type GradeResponse struct {
	SubmissionID uint           `json:"submission_id"`
	Status       string         `json:"status"`
	Scoring      models.Scoring `json:"scoring"`
	Review       models.Review  `json:"review"`
}

// RunCodeRequest executes a coding answer against the question's test cases.
type RunCodeRequest struct {
	Code     string `json:"code" validate:"required,max=65536"`
	Language string `json:"language" validate:"omitempty,max=20"`
}

// AssessmentResponse is an AI-suggested mark for a free-text answer. It is never applied automatically.
type AssessmentResponse struct {
	SubmissionID   uint     `json:"submission_id"`
	QuestionID     uint     `json:"question_id"`
	MaxMarks       int      `json:"max_marks"`
	SuggestedMarks int      `json:"suggested_marks"`
	Score          float64  `json:"score"`
	Feedback       string   `json:"feedback"`
	Strengths      []string `json:"strengths,omitempty"`
	Improvements   []string `json:"improvements,omitempty"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
}

// SubmissionListRequest filters submission listings.
type SubmissionListRequest struct {
	Page     int
	PageSize int
	Status   string
	Sort     string
}

// AnswerResponse is one answer slot of an attempt.
type AnswerResponse struct {
	QuestionID   uint                  `json:"question_id"`
	Position     int                   `json:"position"`
	Answer       json.RawMessage       `json:"answer"`
	TimeSpent    int                   `json:"time_spent"`
	MarksAwarded *int                  `json:"marks_awarded,omitempty"`
	IsCorrect    *bool                 `json:"is_correct,omitempty"`
	Feedback     string                `json:"feedback,omitempty"`
	ReviewNotes  string                `json:"review_notes,omitempty"`
	Flagged      bool                  `json:"flagged"`
	HintsUsed    []models.HintUsage    `json:"hints_used"`
	CodeResult   *models.CodeExecution `json:"code_result,omitempty"`
}

// SubmissionResponse is the detail view of an attempt.
type SubmissionResponse struct {
	ID                   uint                      `json:"id"`
	ExamID               uint                      `json:"exam_id"`
	ExamTitle            string                    `json:"exam_title,omitempty"`
	StudentID            uint                      `json:"student_id"`
	StudentName          string                    `json:"student_name,omitempty"`
	AttemptNumber        int                       `json:"attempt_number"`
	Status               string                    `json:"status"`
	StartTime            time.Time                 `json:"start_time"`
	EndTime              *time.Time                `json:"end_time,omitempty"`
	SubmittedAt          *time.Time                `json:"submitted_at,omitempty"`
	TimeSpent            int                       `json:"time_spent"`
	Proctoring           models.ProctoringCounters `json:"proctoring"`
	ViolationCount       int                       `json:"violation_count"`
	CompletionPercentage int                       `json:"completion_percentage"`
	Scoring              *models.Scoring           `json:"scoring,omitempty"`
	Review               *models.Review            `json:"review,omitempty"`
	Answers              []AnswerResponse          `json:"answers,omitempty"`
	Violations           []models.Violation        `json:"violations,omitempty"`
}

// SubmissionView controls how much of an attempt a caller may see.
type SubmissionView struct {
	IncludeAnswers bool
	IncludeResults bool
}

// NewSubmissionResponse maps an attempt according to view.
func NewSubmissionResponse(submission models.Submission, view SubmissionView) SubmissionResponse {
	response := SubmissionResponse{
		ID:                   submission.ID,
		ExamID:               submission.ExamID,
		ExamTitle:            submission.Exam.Title,
		StudentID:            submission.StudentID,
		StudentName:          submission.Student.Name,
		AttemptNumber:        submission.AttemptNumber,
		Status:               string(submission.Status),
		StartTime:            submission.StartTime,
		EndTime:              submission.EndTime,
		SubmittedAt:          submission.SubmittedAt,
		TimeSpent:            submission.TimeSpent,
		Proctoring:           submission.Proctoring,
		ViolationCount:       submission.ViolationCount(),
		CompletionPercentage: submission.CompletionPercentage(),
	}

	if view.IncludeResults && submission.Status.IsTerminal() {
		scoring := submission.Scoring
		review := submission.Review
		response.Scoring = &scoring
		response.Review = &review
	}

	if view.IncludeAnswers {
		response.Answers = make([]AnswerResponse, 0, len(submission.Answers))
		for _, answer := range submission.Answers {
			item := AnswerResponse{
				QuestionID: answer.QuestionID,
				Position:   answer.Position,
				Answer:     json.RawMessage(answer.Answer),
				TimeSpent:  answer.TimeSpent,
				Flagged:    answer.Flagged,
				HintsUsed:  answer.HintsUsed,
			}
			if len(item.Answer) == 0 {
				item.Answer = json.RawMessage("null")
			}
			if item.HintsUsed == nil {
				item.HintsUsed = []models.HintUsage{}
			}
			if code := answer.CodeResult.Data(); code.TotalTestCases > 0 || code.Code != "" {
				item.CodeResult = &code
			}
			if view.IncludeResults && submission.Status.IsTerminal() {
				marks := answer.MarksAwarded
				item.MarksAwarded = &marks
				item.IsCorrect = answer.IsCorrect
				item.Feedback = answer.Feedback
				item.ReviewNotes = answer.ReviewNotes
			}
			response.Answers = append(response.Answers, item)
		}
		response.Violations = submission.Violations
	}
	return response
}

// SubmissionListResponse is a page of attempts.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}
