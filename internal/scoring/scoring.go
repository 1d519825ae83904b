// Package scoring grades exam answers and aggregates them into a final result.
package scoring

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// Variant is the closed set of question kinds the scorer understands.
type Variant interface {
	isVariant()
}

// Choice covers mcq and true-false questions.
type Choice struct {
	CorrectIDs []string
}

// ShortAnswer matches free text against keywords.
type ShortAnswer struct {
	Keywords []string
}

// FillBlank requires every blank to match one of its accepted answers.
type FillBlank struct {
	Blanks []models.BlankAnswer
}

// Coding awards marks proportional to passed test cases.
type Coding struct{}

// Manual is never auto-graded.
type Manual struct {
	Type models.QuestionType
}

func (Choice) isVariant()      {}
func (ShortAnswer) isVariant() {}
func (FillBlank) isVariant()   {}
func (Coding) isVariant()      {}
func (Manual) isVariant()      {}

// VariantOf maps a question to its scoring variant.
func VariantOf(q models.Question) Variant {
	switch q.Type {
	case models.QuestionTypeMCQ, models.QuestionTypeTrueFalse:
		return Choice{CorrectIDs: q.CorrectOptionIDs()}
	case models.QuestionTypeShortAnswer:
		return ShortAnswer{Keywords: q.Keywords}
	case models.QuestionTypeFillBlank:
		return FillBlank{Blanks: q.Blanks}
	case models.QuestionTypeCoding:
		return Coding{}
	default:
		return Manual{Type: q.Type}
	}
}

// Input is everything needed to grade one answer.
type Input struct {
	Variant     Variant
	Marks       int
	Answer      json.RawMessage
	Code        *models.CodeExecution
	HintPenalty int
}

// Outcome is the graded result of one answer. Correct is nil for manually graded variants.
type Outcome struct {
	Marks       int
	Correct     *bool
	NeedsManual bool
}

// Score grades a single answer and applies hint penalties.
func Score(in Input) Outcome {
	var outcome Outcome

	switch v := in.Variant.(type) {
	case Choice:
		outcome = binary(sameSet(v.CorrectIDs, decodeStrings(in.Answer)), in.Marks)
	case ShortAnswer:
		outcome = binary(matchesKeyword(v.Keywords, decodeString(in.Answer)), in.Marks)
	case FillBlank:
		outcome = binary(blanksMatch(v.Blanks, decodeBlankAnswers(in.Answer)), in.Marks)
	case Coding:
		outcome = scoreCoding(in.Code, in.Marks)
	case Manual:
		outcome = Outcome{NeedsManual: true}
	default:
		outcome = Outcome{NeedsManual: true}
	}

	outcome.Marks = ApplyPenalty(outcome.Marks, in.HintPenalty)
	return outcome
}

// ApplyPenalty deducts penalty from marks without going below zero.
func ApplyPenalty(marks, penalty int) int {
	if penalty <= 0 {
		return marks
	}
	return max(0, marks-penalty)
}

func binary(ok bool, marks int) Outcome {
	correct := ok
	if !ok {
		marks = 0
	}
	return Outcome{Marks: marks, Correct: &correct}
}

func scoreCoding(result *models.CodeExecution, marks int) Outcome {
	if result == nil {
		correct := false
		return Outcome{Correct: &correct}
	}

	total := result.TotalTestCases
	if total <= 0 {
		total = 1
	}
	awarded := roundHalfUp(float64(marks) * float64(result.TotalTestCasesPassed) / float64(total))
	correct := result.TotalTestCases > 0 && result.TotalTestCasesPassed == result.TotalTestCases
	return Outcome{Marks: awarded, Correct: &correct}
}

func sameSet(expected, actual []string) bool {
	if len(expected) == 0 {
		return false
	}
	left := uniqueSorted(expected)
	right := uniqueSorted(actual)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	sort.Strings(result)
	return result
}

func matchesKeyword(keywords []string, answer string) bool {
	text := strings.ToLower(answer)
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func blanksMatch(blanks []models.BlankAnswer, answers map[string]string) bool {
	if len(blanks) == 0 {
		return false
	}
	for _, blank := range blanks {
		given, ok := answers[blank.BlankID]
		if !ok || !blankAccepts(blank, given) {
			return false
		}
	}
	return true
}

func blankAccepts(blank models.BlankAnswer, given string) bool {
	given = strings.TrimSpace(given)
	for _, candidate := range blank.CorrectAnswers {
		candidate = strings.TrimSpace(candidate)
		if blank.CaseSensitive {
			if candidate == given {
				return true
			}
			continue
		}
		if strings.EqualFold(candidate, given) {
			return true
		}
	}
	return false
}

func decodeStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	return nil
}

func decodeString(raw json.RawMessage) string {
	var value string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &value); err != nil {
		return ""
	}
	return value
}

func decodeBlankAnswers(raw json.RawMessage) map[string]string {
	var values map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &values); err != nil {
		return nil
	}
	return values
}

func roundHalfUp(value float64) int {
	return int(math.Floor(value + 0.5))
}
