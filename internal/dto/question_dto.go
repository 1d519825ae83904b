package dto

import (
	"time"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// OptionRequest is a selectable choice. The id is generated when omitted.
type OptionRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	Text        string `json:"text" validate:"required,max=500"`
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation" validate:"omitempty,max=1000"`
}

// TestCaseRequest is one coding test case.
type TestCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output" validate:"required"`
	IsHidden       bool   `json:"is_hidden"`
	Points         int    `json:"points" validate:"min=0"`
}

// CodingRequest is the coding payload of a question.
type CodingRequest struct {
	Language    string            `json:"language" validate:"required"`
	StarterCode string            `json:"starter_code"`
	TestCases   []TestCaseRequest `json:"test_cases" validate:"omitempty,dive"`
}

// BlankRequest lists the accepted answers of one blank.
type BlankRequest struct {
	BlankID        string   `json:"blank_id" validate:"required,max=64"`
	CorrectAnswers []string `json:"correct_answers" validate:"required,min=1,dive,required"`
	CaseSensitive  bool     `json:"case_sensitive"`
}

// HintRequest is an optional clue with a marks penalty.
type HintRequest struct {
	Text    string `json:"text" validate:"required,max=1000"`
	Penalty int    `json:"penalty" validate:"min=0"`
}

// QuestionRequest creates or fully replaces a question.
type QuestionRequest struct {
	Text           string          `json:"text" validate:"required,min=5,max=5000"`
	Type           string          `json:"type" validate:"required,oneof=mcq short-answer coding essay true-false fill-blank"`
	Subject        string          `json:"subject" validate:"required,max=100"`
	Difficulty     string          `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Marks          int             `json:"marks" validate:"required,min=1,max=100"`
	TimeLimit      int             `json:"time_limit" validate:"min=0"`
	Options        []OptionRequest `json:"options" validate:"omitempty,dive"`
	Keywords       []string        `json:"keywords" validate:"omitempty,dive,required"`
	MaxLength      int             `json:"max_length" validate:"min=0"`
	SampleAnswer   string          `json:"sample_answer" validate:"omitempty,max=5000"`
	Coding         *CodingRequest  `json:"coding"`
	TextWithBlanks string          `json:"text_with_blanks" validate:"omitempty,max=5000"`
	Blanks         []BlankRequest  `json:"blanks" validate:"omitempty,dive"`
	Hints          []HintRequest   `json:"hints" validate:"omitempty,dive"`
	Explanation    string          `json:"explanation" validate:"omitempty,max=2000"`
	Tags           []string        `json:"tags" validate:"omitempty,dive,max=50"`
	Category       string          `json:"category" validate:"omitempty,max=100"`
}

// BulkQuestionRequest creates several questions at once.
type BulkQuestionRequest struct {
	Questions []QuestionRequest `json:"questions" validate:"required,min=1,max=100,dive"`
}

// QuestionListRequest filters the question bank.
type QuestionListRequest struct {
	Page       int
	PageSize   int
	Subject    string
	Type       string
	Difficulty string
	Search     string
}

// QuestionResponse is the authoring view of a question, including correct answers.
type QuestionResponse struct {
	ID               uint                    `json:"id"`
	Text             string                  `json:"text"`
	Type             string                  `json:"type"`
	Subject          string                  `json:"subject"`
	Difficulty       string                  `json:"difficulty"`
	Marks            int                     `json:"marks"`
	TimeLimit        int                     `json:"time_limit"`
	Options          []models.QuestionOption `json:"options,omitempty"`
	Keywords         []string                `json:"keywords,omitempty"`
	MaxLength        int                     `json:"max_length,omitempty"`
	SampleAnswer     string                  `json:"sample_answer,omitempty"`
	Coding           *models.CodingDetails   `json:"coding,omitempty"`
	TextWithBlanks   string                  `json:"text_with_blanks,omitempty"`
	Blanks           []models.BlankAnswer    `json:"blanks,omitempty"`
	Hints            []models.Hint           `json:"hints,omitempty"`
	Explanation      string                  `json:"explanation,omitempty"`
	Tags             []string                `json:"tags"`
	Category         string                  `json:"category,omitempty"`
	CreatedBy        uint                    `json:"created_by"`
	UsageCount       int                     `json:"usage_count"`
	Version          int                     `json:"version"`
	ParentQuestionID *uint                   `json:"parent_question_id,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// NewQuestionResponse maps a question model.
func NewQuestionResponse(question models.Question) QuestionResponse {
	response := QuestionResponse{
		ID:               question.ID,
		Text:             question.Text,
		Type:             string(question.Type),
		Subject:          question.Subject,
		Difficulty:       question.Difficulty,
		Marks:            question.Marks,
		TimeLimit:        question.TimeLimit,
		Options:          question.Options,
		Keywords:         question.Keywords,
		MaxLength:        question.MaxLength,
		SampleAnswer:     question.SampleAnswer,
		TextWithBlanks:   question.TextWithBlanks,
		Blanks:           question.Blanks,
		Hints:            question.Hints,
		Explanation:      question.Explanation,
		Tags:             question.Tags,
		Category:         question.Category,
		CreatedBy:        question.CreatedBy,
		UsageCount:       question.UsageCount,
		Version:          question.Version,
		ParentQuestionID: question.ParentQuestionID,
		CreatedAt:        question.CreatedAt,
		UpdatedAt:        question.UpdatedAt,
	}
	if question.Type == models.QuestionTypeCoding {
		coding := question.Coding.Data()
		response.Coding = &coding
	}
	if response.Tags == nil {
		response.Tags = []string{}
	}
	return response
}

// QuestionListResponse is a page of the question bank.
type QuestionListResponse struct {
	Items      []QuestionResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// BulkQuestionResponse reports the questions created in bulk.
type BulkQuestionResponse struct {
	Created int                `json:"created"`
	Items   []QuestionResponse `json:"items"`
}

// ExamQuestionView is a question as shown inside an exam. Answer keys are only present when revealed.
type ExamQuestionView struct {
	ID             uint                    `json:"id"`
	Position       int                     `json:"position"`
	Text           string                  `json:"text"`
	Type           string                  `json:"type"`
	Marks          int                     `json:"marks"`
	TimeLimit      int                     `json:"time_limit"`
	Difficulty     string                  `json:"difficulty"`
	Options        []models.QuestionOption `json:"options,omitempty"`
	MaxLength      int                     `json:"max_length,omitempty"`
	Coding         *models.CodingDetails   `json:"coding,omitempty"`
	TextWithBlanks string                  `json:"text_with_blanks,omitempty"`
	Blanks         []models.BlankAnswer    `json:"blanks,omitempty"`
	HintCount      int                     `json:"hint_count"`
	Keywords       []string                `json:"keywords,omitempty"`
	SampleAnswer   string                  `json:"sample_answer,omitempty"`
	Explanation    string                  `json:"explanation,omitempty"`
}

// NewExamQuestionView maps an ordered exam question. When reveal is false every answer key is stripped.
func NewExamQuestionView(item models.ExamQuestion, reveal bool) ExamQuestionView {
	question := item.Question
	view := ExamQuestionView{
		ID:             question.ID,
		Position:       item.Position,
		Text:           question.Text,
		Type:           string(question.Type),
		Marks:          question.Marks,
		TimeLimit:      question.TimeLimit,
		Difficulty:     question.Difficulty,
		MaxLength:      question.MaxLength,
		TextWithBlanks: question.TextWithBlanks,
		HintCount:      len(question.Hints),
	}

	view.Options = make([]models.QuestionOption, 0, len(question.Options))
	for _, option := range question.Options {
		if !reveal {
			option.IsCorrect = false
			option.Explanation = ""
		}
		view.Options = append(view.Options, option)
	}

	if question.Type == models.QuestionTypeCoding {
		coding := question.Coding.Data()
		cases := make([]models.CodingTestCase, 0, len(coding.TestCases))
		for _, testCase := range coding.TestCases {
			if testCase.IsHidden && !reveal {
				continue
			}
			cases = append(cases, testCase)
		}
		coding.TestCases = cases
		view.Coding = &coding
	}

	if reveal {
		view.Blanks = question.Blanks
		view.Keywords = question.Keywords
		view.SampleAnswer = question.SampleAnswer
		view.Explanation = question.Explanation
	} else {
		for _, blank := range question.Blanks {
			view.Blanks = append(view.Blanks, models.BlankAnswer{BlankID: blank.BlankID})
		}
	}
	return view
}
