package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates the gradable question kinds.
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeShortAnswer QuestionType = "short-answer"
	QuestionTypeCoding      QuestionType = "coding"
	QuestionTypeEssay       QuestionType = "essay"
	QuestionTypeTrueFalse   QuestionType = "true-false"
	QuestionTypeFillBlank   QuestionType = "fill-blank"
)

// CodingLanguages lists the languages a coding question may declare.
var CodingLanguages = []string{"javascript", "python", "java", "cpp", "c", "csharp", "php", "ruby", "go"}

// QuestionOption is a selectable choice for mcq and true-false questions.
type QuestionOption struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation,omitempty"`
}

// CodingTestCase is a single input/expected-output pair for a coding question.
type CodingTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
	Points         int    `json:"points"`
}

// CodingDetails holds the coding-specific payload.
type CodingDetails struct {
	Language    string           `json:"language"`
	StarterCode string           `json:"starter_code,omitempty"`
	TestCases   []CodingTestCase `json:"test_cases"`
}

// BlankAnswer lists the accepted answers for one blank of a fill-blank question.
type BlankAnswer struct {
	BlankID        string   `json:"blank_id"`
	CorrectAnswers []string `json:"correct_answers"`
	CaseSensitive  bool     `json:"case_sensitive"`
}

// Hint is an optional clue; using it deducts Penalty marks.
type Hint struct {
	Text    string `json:"text"`
	Penalty int    `json:"penalty"`
}

// Question is a gradable unit owned by its creator.
type Question struct {
	ID               uint                                `gorm:"primaryKey" json:"id"`
	Text             string                              `gorm:"type:text;not null" json:"text"`
	Type             QuestionType                        `gorm:"size:20;index;not null" json:"type"`
	Subject          string                              `gorm:"size:100;index;not null" json:"subject"`
	Difficulty       string                              `gorm:"size:10;not null" json:"difficulty"`
	Marks            int                                 `gorm:"not null" json:"marks"`
	TimeLimit        int                                 `json:"time_limit"`
	Options          datatypes.JSONSlice[QuestionOption] `gorm:"type:json" json:"options"`
	Keywords         datatypes.JSONSlice[string]         `gorm:"type:json" json:"keywords"`
	MaxLength        int                                 `json:"max_length"`
	SampleAnswer     string                              `gorm:"type:text" json:"sample_answer,omitempty"`
	Coding           datatypes.JSONType[CodingDetails]   `gorm:"type:json" json:"coding"`
	TextWithBlanks   string                              `gorm:"type:text" json:"text_with_blanks,omitempty"`
	Blanks           datatypes.JSONSlice[BlankAnswer]    `gorm:"type:json" json:"blanks"`
	Hints            datatypes.JSONSlice[Hint]           `gorm:"type:json" json:"hints"`
	Explanation      string                              `gorm:"type:text" json:"explanation,omitempty"`
	Tags             datatypes.JSONSlice[string]         `gorm:"type:json" json:"tags"`
	Category         string                              `gorm:"size:100" json:"category,omitempty"`
	CreatedBy        uint                                `gorm:"index;not null" json:"created_by"`
	IsActive         bool                                `gorm:"index;not null" json:"is_active"`
	UsageCount       int                                 `json:"usage_count"`
	Version          int                                 `gorm:"not null" json:"version"`
	ParentQuestionID *uint                               `json:"parent_question_id,omitempty"`
	CreatedAt        time.Time                           `json:"created_at"`
	UpdatedAt        time.Time                           `json:"updated_at"`
}

// CorrectOptionIDs returns the ids of every option flagged correct.
func (q Question) CorrectOptionIDs() []string {
	ids := make([]string, 0, len(q.Options))
	for _, option := range q.Options {
		if option.IsCorrect {
			ids = append(ids, option.ID)
		}
	}
	return ids
}

// HintPenalty returns the penalty for the hint at index, or false when out of range.
func (q Question) HintPenalty(index int) (int, bool) {
	if index < 0 || index >= len(q.Hints) {
		return 0, false
	}
	return q.Hints[index].Penalty, true
}

// IsValidCodingLanguage reports whether language may be declared by a coding question.
func IsValidCodingLanguage(language string) bool {
	for _, candidate := range CodingLanguages {
		if candidate == language {
			return true
		}
	}
	return false
}
