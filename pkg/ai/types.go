package ai

import "context"

// Verdicts an evaluator may return.
const (
	VerdictExcellent    = "excellent"
	VerdictGood         = "good"
	VerdictPartial      = "partial"
	VerdictInsufficient = "insufficient"
)

// EvaluationInput contains a free-text exam answer and the material needed to judge it.
type EvaluationInput struct {
	Subject      string
	QuestionText string
	SampleAnswer string
	Keywords     []string
	MaxLength    int
	MaxMarks     int
	Answer       string
}

// EvaluationResult is the structured assessment returned by the evaluator. Score is in [0, 1].
type EvaluationResult struct {
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback"`
	Verdict      string   `json:"verdict"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
	TokensUsed   int      `json:"tokens_used,omitempty"`
}

// Evaluator suggests a score for a written answer. Suggestions never replace teacher grading.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
	Model() string
}
