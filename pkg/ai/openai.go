package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	assessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exam",
		Subsystem: "assess",
		Name:      "request_duration_seconds",
		Help:      "Latency of AI essay assessment requests.",
	}, []string{"model"})

	assessOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam",
		Subsystem: "assess",
		Name:      "requests_total",
		Help:      "AI essay assessments by model and outcome.",
	}, []string{"model", "outcome"})
)

// ErrEmptyCompletion is returned when the model answers without any choice.
var ErrEmptyCompletion = errors.New("model returned no completion")

// OpenAIConfig defines configuration options for the OpenAI evaluator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIEvaluator implements Evaluator with JSON-mode chat completions.
type OpenAIEvaluator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEvaluator validates cfg and fills in model, token and timeout defaults.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIEvaluator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/exam-portal-api/pkg/ai"),
		logger: cfg.Logger.With().Str("component", "openai_evaluator").Str("model", cfg.Model).Logger(),
	}, nil
}

// Evaluate asks the model for a JSON assessment of one answer.
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (result EvaluationResult, err error) {
	ctx, span := e.tracer.Start(parent, "assess.evaluate", trace.WithAttributes(
		attribute.String("assess.model", e.cfg.Model),
		attribute.Int("assess.answer_length", len(input.Answer)),
	))
	start := time.Now()
	defer func() {
		assessDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn().Err(err).Msg("assessment request failed")
		}
		assessOutcomes.WithLabelValues(e.cfg.Model, outcome).Inc()
		span.End()
	}()

	resp, err := e.client.CreateChatCompletion(ctx, e.request(input))
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("openai evaluate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return EvaluationResult{}, ErrEmptyCompletion
	}

	result, err = parseEvaluationResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return EvaluationResult{}, err
	}
	result.TokensUsed = resp.Usage.TotalTokens
	span.SetAttributes(attribute.Float64("assess.score", result.Score))
	return result, nil
}

// Model returns the configured chat model.
func (e *OpenAIEvaluator) Model() string {
	return e.cfg.Model
}

func (e *OpenAIEvaluator) request(input EvaluationInput) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: graderInstructions},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
}

const graderInstructions = "You are an exam grader assisting a teacher. Assess the student's answer against the question and the reference material. " +
	"Respond with a JSON object containing score (0-1), verdict (one of excellent, good, partial, insufficient), feedback addressed to the student, " +
	"and optional strengths and improvements arrays of short strings. Do not reward length for its own sake."

func buildUserPrompt(input EvaluationInput) string {
	var b strings.Builder
	section := func(title, body string) {
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	section("Subject", input.Subject)
	section("Question", input.QuestionText)
	section("Marks Available", strconv.Itoa(input.MaxMarks))
	if input.SampleAnswer != "" {
		section("Reference Answer", input.SampleAnswer)
	}
	if len(input.Keywords) > 0 {
		section("Expected Key Points", strings.Join(input.Keywords, ", "))
	}
	if input.MaxLength > 0 {
		section("Length Limit", strconv.Itoa(input.MaxLength)+" characters")
	}
	section("Student Answer", input.Answer)
	b.WriteString("Return JSON.")
	return b.String()
}

// parseEvaluationResponse clamps the score into [0, 1] and derives a verdict when the model omits or invents one.
func parseEvaluationResponse(content string) (EvaluationResult, error) {
	var result EvaluationResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation json: %w", err)
	}

	switch {
	case result.Score < 0:
		result.Score = 0
	case result.Score > 1:
		result.Score = 1
	}

	result.Verdict = strings.ToLower(strings.TrimSpace(result.Verdict))
	switch result.Verdict {
	case VerdictExcellent, VerdictGood, VerdictPartial, VerdictInsufficient:
	default:
		result.Verdict = verdictFor(result.Score)
	}
	result.TokensUsed = 0
	return result, nil
}

func verdictFor(score float64) string {
	switch {
	case score >= 0.85:
		return VerdictExcellent
	case score >= 0.6:
		return VerdictGood
	case score >= 0.3:
		return VerdictPartial
	default:
		return VerdictInsufficient
	}
}
