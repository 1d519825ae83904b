package service

import (
	"errors"
	"strings"
)

// StateError marks an action that is invalid for the current lifecycle state.
type StateError struct {
	msg string
}

func (e *StateError) Error() string {
	return e.msg
}

func newStateError(msg string) *StateError {
	return &StateError{msg: msg}
}

// FieldError is a single field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries domain validation failures that struct tags cannot express.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidField(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Not found.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrExamNotFound       = errors.New("exam not found")
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Authentication and authorization.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is deactivated")
	ErrForbidden          = errors.New("access denied")
	ErrNotEnrolled        = errors.New("you are not enrolled in this exam")
)

// Lifecycle conflicts.
var (
	ErrEmailTaken              = newStateError("email already registered")
	ErrCannotDeactivateSelf    = newStateError("cannot deactivate your own account")
	ErrExamNotAvailable        = newStateError("exam is not available")
	ErrExamNotOpenForEnroll    = newStateError("exam is not available for enrollment")
	ErrExamEnded               = newStateError("exam has already ended")
	ErrAlreadyEnrolled         = newStateError("already enrolled in this exam")
	ErrMaxAttemptsExceeded     = newStateError("maximum attempts exceeded")
	ErrSubmissionNotActive     = newStateError("submission is not in progress")
	ErrQuestionNotInSubmission = newStateError("question not found in submission")
	ErrDeadlinePassed          = newStateError("exam time is over")
	ErrExamHasActiveAttempts   = newStateError("cannot update exam that has active submissions")
	ErrExamHasSubmissions      = newStateError("cannot delete exam with existing submissions")
	ErrQuestionsNotAccessible  = newStateError("some questions not found or not accessible")
	ErrExamNotCompleted        = newStateError("exam has not completed yet")
	ErrNotCodingQuestion       = newStateError("question is not a coding question")
	ErrNotEssayQuestion        = newStateError("question is not an essay or short-answer question")
	ErrUnsupportedLanguage     = newStateError("unsupported language")
	ErrCannotGradeInProgress   = newStateError("submission is still in progress")
	ErrScreenshotRejected      = newStateError("screenshot must be a png, jpeg or webp image")
)

// Collaborators that are not configured.
var (
	ErrCodeRunnerUnavailable = errors.New("code runner unavailable")
	ErrEvaluatorUnavailable  = errors.New("evaluator unavailable")
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uint
	Role string
}

// IsStaff reports whether the actor is a teacher or an admin.
func (a Actor) IsStaff() bool {
	return a.Role == "teacher" || a.Role == "admin"
}

// IsAdmin reports whether the actor is an admin.
func (a Actor) IsAdmin() bool {
	return a.Role == "admin"
}
