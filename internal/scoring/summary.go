package scoring

import (
	"encoding/json"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

var gradeThresholds = []struct {
	min   int
	grade string
}{
	{90, "A+"},
	{80, "A"},
	{70, "B+"},
	{60, "B"},
	{50, "C+"},
	{40, "C"},
	{30, "D"},
}

// LetterGrade maps a percentage to its grade. Thresholds are inclusive at the lower bound.
func LetterGrade(percentage int) string {
	for _, threshold := range gradeThresholds {
		if percentage >= threshold.min {
			return threshold.grade
		}
	}
	return "F"
}

// Percentage is round(100 * obtained / total), or 0 when total is 0.
func Percentage(obtained, total int) int {
	if total <= 0 {
		return 0
	}
	return roundHalfUp(float64(100*obtained) / float64(total))
}

// Summarize builds the aggregate scoring block. Passing compares absolute marks.
func Summarize(totalMarks, marksObtained, passingMarks int) models.Scoring {
	percentage := Percentage(marksObtained, totalMarks)
	return models.Scoring{
		TotalMarks:    totalMarks,
		MarksObtained: marksObtained,
		Percentage:    percentage,
		Grade:         LetterGrade(percentage),
		Passed:        marksObtained >= passingMarks,
	}
}

// Grade scores every answer of the submission against its question and writes the aggregate.
// It reports whether any answer needs manual grading.
func Grade(submission *models.Submission, questions map[uint]models.Question, passingMarks int) bool {
	needsManual := false
	for i := range submission.Answers {
		answer := &submission.Answers[i]
		question, ok := questions[answer.QuestionID]
		if !ok {
			answer.MarksAwarded = 0
			answer.IsCorrect = nil
			continue
		}

		in := Input{
			Variant:     VariantOf(question),
			Marks:       question.Marks,
			Answer:      json.RawMessage(answer.Answer),
			HintPenalty: answer.HintPenalty(),
		}
		if question.Type == models.QuestionTypeCoding {
			if result := answer.CodeResult.Data(); result.TotalTestCases > 0 || result.Code != "" {
				in.Code = &result
			}
		}

		outcome := Score(in)
		answer.MarksAwarded = outcome.Marks
		answer.IsCorrect = outcome.Correct
		if outcome.NeedsManual {
			needsManual = true
		}
	}

	Aggregate(submission, questions, passingMarks)
	return needsManual
}

// Aggregate recomputes the scoring block from the marks already awarded.
func Aggregate(submission *models.Submission, questions map[uint]models.Question, passingMarks int) {
	total := 0
	obtained := 0
	for _, answer := range submission.Answers {
		if question, ok := questions[answer.QuestionID]; ok {
			total += question.Marks
		}
		obtained += answer.MarksAwarded
	}
	submission.Scoring = Summarize(total, obtained, passingMarks)
}
