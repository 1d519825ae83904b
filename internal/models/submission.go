package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus is the lifecycle state of an attempt.
type SubmissionStatus string

const (
	SubmissionInProgress    SubmissionStatus = "in-progress"
	SubmissionSubmitted     SubmissionStatus = "submitted"
	SubmissionAutoSubmitted SubmissionStatus = "auto-submitted"
	SubmissionDisqualified  SubmissionStatus = "disqualified"
	SubmissionGraded        SubmissionStatus = "graded"
)

// ErrInvalidTransition is returned when a status change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid submission status transition")

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionInProgress:    {SubmissionSubmitted, SubmissionAutoSubmitted, SubmissionDisqualified},
	SubmissionSubmitted:     {SubmissionGraded},
	SubmissionAutoSubmitted: {SubmissionGraded},
	SubmissionDisqualified:  {SubmissionGraded},
	SubmissionGraded:        {SubmissionGraded},
}

// TerminalSubmissionStatuses lists every status other than in-progress.
var TerminalSubmissionStatuses = []SubmissionStatus{
	SubmissionSubmitted,
	SubmissionAutoSubmitted,
	SubmissionDisqualified,
	SubmissionGraded,
}

// CanTransitionTo reports whether next is reachable from s.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, candidate := range submissionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the attempt has left in-progress.
func (s SubmissionStatus) IsTerminal() bool {
	return s != SubmissionInProgress && s != ""
}

// ViolationType enumerates proctoring events.
type ViolationType string

const (
	ViolationTabSwitch          ViolationType = "tab-switch"
	ViolationWindowBlur         ViolationType = "window-blur"
	ViolationFaceNotDetected    ViolationType = "face-not-detected"
	ViolationMultipleFaces      ViolationType = "multiple-faces"
	ViolationSuspiciousActivity ViolationType = "suspicious-activity"
)

// Violation severities. Informational only.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// HintUsage records a hint revealed while answering.
type HintUsage struct {
	HintIndex int       `json:"hint_index"`
	UsedAt    time.Time `json:"used_at"`
	Penalty   int       `json:"penalty"`
}

// TestCaseResult is the outcome of one coding test case.
type TestCaseResult struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Passed         bool   `json:"passed"`
	ExecutionTime  int64  `json:"execution_time_ms"`
	Error          string `json:"error,omitempty"`
}

// CodeExecution is the sandbox result attached to a coding answer.
type CodeExecution struct {
	Code                 string           `json:"code"`
	Language             string           `json:"language"`
	Results              []TestCaseResult `json:"results"`
	CompilationError     string           `json:"compilation_error,omitempty"`
	TotalTestCasesPassed int              `json:"total_test_cases_passed"`
	TotalTestCases       int              `json:"total_test_cases"`
}

// SubmissionAnswer is the slot for one exam question inside an attempt.
type SubmissionAnswer struct {
	ID           uint                              `gorm:"primaryKey" json:"id"`
	SubmissionID uint                              `gorm:"not null;uniqueIndex:idx_submission_question" json:"submission_id"`
	QuestionID   uint                              `gorm:"not null;uniqueIndex:idx_submission_question" json:"question_id"`
	Position     int                               `gorm:"not null" json:"position"`
	Answer       datatypes.JSON                    `gorm:"type:json" json:"answer"`
	TimeSpent    int                               `json:"time_spent"`
	MarksAwarded int                               `json:"marks_awarded"`
	IsCorrect    *bool                             `json:"is_correct"`
	Feedback     string                            `gorm:"type:text" json:"feedback"`
	ReviewNotes  string                            `gorm:"type:text" json:"review_notes"`
	Flagged      bool                              `json:"flagged"`
	HintsUsed    datatypes.JSONSlice[HintUsage]    `gorm:"type:json" json:"hints_used"`
	CodeResult   datatypes.JSONType[CodeExecution] `gorm:"type:json" json:"code_result"`
	UpdatedAt    time.Time                         `json:"updated_at"`
}

// HintPenalty sums the penalties of every hint used.
func (a SubmissionAnswer) HintPenalty() int {
	total := 0
	for _, usage := range a.HintsUsed {
		total += usage.Penalty
	}
	return total
}

// HasAnswer reports whether the slot holds a non-null answer.
func (a SubmissionAnswer) HasAnswer() bool {
	raw := string(a.Answer)
	return raw != "" && raw != "null"
}

// Violation is an append-only proctoring record.
type Violation struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	SubmissionID  uint          `gorm:"index;not null" json:"submission_id"`
	Type          ViolationType `gorm:"size:32;not null" json:"type"`
	Description   string        `gorm:"size:500" json:"description"`
	Severity      string        `gorm:"size:8;not null" json:"severity"`
	ScreenshotURL string        `gorm:"size:512" json:"screenshot_url,omitempty"`
	OccurredAt    time.Time     `gorm:"not null" json:"occurred_at"`
}

// ProctoringCounters accumulate violations by kind. They never decrease.
type ProctoringCounters struct {
	TabSwitches          int `json:"tab_switches"`
	WindowBlurs          int `json:"window_blurs"`
	SuspiciousActivities int `json:"suspicious_activities"`
}

// Scoring is the aggregate result of an attempt.
type Scoring struct {
	TotalMarks    int    `json:"total_marks"`
	MarksObtained int    `json:"marks_obtained"`
	Percentage    int    `json:"percentage"`
	Grade         string `gorm:"size:2" json:"grade"`
	Passed        bool   `json:"passed"`
}

// Review captures manual grading metadata.
type Review struct {
	ReviewedBy         *uint      `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	Comments           string     `gorm:"type:text" json:"comments"`
	NeedsManualGrading bool       `json:"needs_manual_grading"`
}

// Submission is one student's attempt at one exam.
type Submission struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	ExamID        uint               `gorm:"index:idx_submission_exam_student;not null" json:"exam_id"`
	StudentID     uint               `gorm:"index:idx_submission_exam_student;not null" json:"student_id"`
	AttemptNumber int                `gorm:"not null" json:"attempt_number"`
	Status        SubmissionStatus   `gorm:"size:16;index;not null" json:"status"`
	StartTime     time.Time          `gorm:"not null" json:"start_time"`
	EndTime       *time.Time         `json:"end_time,omitempty"`
	SubmittedAt   *time.Time         `json:"submitted_at,omitempty"`
	TimeSpent     int                `json:"time_spent"`
	Proctoring    ProctoringCounters `gorm:"embedded;embeddedPrefix:proctoring_" json:"proctoring"`
	Scoring       Scoring            `gorm:"embedded;embeddedPrefix:score_" json:"scoring"`
	Review        Review             `gorm:"embedded;embeddedPrefix:review_" json:"review"`
	UserAgent     string             `gorm:"size:512" json:"user_agent,omitempty"`
	IPAddress     string             `gorm:"size:64" json:"ip_address,omitempty"`
	Answers       []SubmissionAnswer `gorm:"constraint:OnDelete:CASCADE" json:"answers"`
	Violations    []Violation        `gorm:"constraint:OnDelete:CASCADE" json:"violations"`
	Exam          Exam               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Student       User               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Transition moves the submission to next, rejecting moves outside the transition table.
func (s *Submission) Transition(next SubmissionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// AnswerFor returns the slot for questionID, or nil when the question was not part of the attempt.
func (s *Submission) AnswerFor(questionID uint) *SubmissionAnswer {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// ViolationCount is the number of recorded violations.
func (s Submission) ViolationCount() int {
	return len(s.Violations)
}

// CompletionPercentage is the share of slots holding an answer.
func (s Submission) CompletionPercentage() int {
	if len(s.Answers) == 0 {
		return 0
	}
	answered := 0
	for _, answer := range s.Answers {
		if answer.HasAnswer() {
			answered++
		}
	}
	return answered * 100 / len(s.Answers)
}
