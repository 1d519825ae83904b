package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/repository"
)

// QuestionService manages the question bank of teachers and admins.
type QuestionService interface {
	Create(ctx context.Context, actor Actor, req dto.QuestionRequest) (dto.QuestionResponse, error)
	BulkCreate(ctx context.Context, actor Actor, req dto.BulkQuestionRequest) (dto.BulkQuestionResponse, error)
	List(ctx context.Context, actor Actor, req dto.QuestionListRequest) (dto.QuestionListResponse, error)
	Get(ctx context.Context, actor Actor, id uint) (dto.QuestionResponse, error)
	Update(ctx context.Context, actor Actor, id uint, req dto.QuestionRequest) (dto.QuestionResponse, error)
	Delete(ctx context.Context, actor Actor, id uint) error
	Duplicate(ctx context.Context, actor Actor, id uint) (dto.QuestionResponse, error)
	Subjects(ctx context.Context, actor Actor) ([]string, error)
}

type questionService struct {
	questions repository.QuestionRepository
	activity  ActivityRecorder
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewQuestionService constructs the question bank service.
func NewQuestionService(questions repository.QuestionRepository, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		questions: questions,
		activity:  activity,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) Create(ctx context.Context, actor Actor, req dto.QuestionRequest) (dto.QuestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionResponse{}, err
	}

	question, fields := s.build(req)
	if len(fields) > 0 {
		return dto.QuestionResponse{}, &ValidationError{Fields: fields}
	}
	question.CreatedBy = actor.ID
	question.IsActive = true
	question.Version = 1

	if err := s.questions.Create(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "question.created",
		EntityType: "question",
		EntityID:   uintPtr(question.ID),
		Metadata:   map[string]interface{}{"type": question.Type, "subject": question.Subject},
	})
	return dto.NewQuestionResponse(question), nil
}

// BulkCreate inserts every question or none of them.
func (s *questionService) BulkCreate(ctx context.Context, actor Actor, req dto.BulkQuestionRequest) (dto.BulkQuestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.BulkQuestionResponse{}, err
	}

	questions := make([]models.Question, 0, len(req.Questions))
	var fields []FieldError
	for i, item := range req.Questions {
		question, itemFields := s.build(item)
		for _, field := range itemFields {
			fields = append(fields, FieldError{Field: fmt.Sprintf("questions[%d].%s", i, field.Field), Message: field.Message})
		}
		question.CreatedBy = actor.ID
		question.IsActive = true
		question.Version = 1
		questions = append(questions, question)
	}
	if len(fields) > 0 {
		return dto.BulkQuestionResponse{}, &ValidationError{Fields: fields}
	}

	if err := s.questions.CreateBatch(ctx, questions); err != nil {
		return dto.BulkQuestionResponse{}, err
	}

	items := make([]dto.QuestionResponse, 0, len(questions))
	for _, question := range questions {
		items = append(items, dto.NewQuestionResponse(question))
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "question.bulk_created",
		EntityType: "question",
		Metadata:   map[string]interface{}{"count": len(items)},
	})
	return dto.BulkQuestionResponse{Created: len(items), Items: items}, nil
}

func (s *questionService) List(ctx context.Context, actor Actor, req dto.QuestionListRequest) (dto.QuestionListResponse, error) {
	filter := repository.QuestionFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		CreatedBy:  ownerFilter(actor),
		Subject:    strings.TrimSpace(req.Subject),
		Type:       strings.ToLower(strings.TrimSpace(req.Type)),
		Difficulty: strings.ToLower(strings.TrimSpace(req.Difficulty)),
		Search:     req.Search,
	}

	questions, total, err := s.questions.List(ctx, filter)
	if err != nil {
		return dto.QuestionListResponse{}, err
	}

	items := make([]dto.QuestionResponse, 0, len(questions))
	for _, question := range questions {
		items = append(items, dto.NewQuestionResponse(question))
	}
	return dto.QuestionListResponse{Items: items, Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total)}, nil
}

func (s *questionService) Get(ctx context.Context, actor Actor, id uint) (dto.QuestionResponse, error) {
	question, err := s.owned(ctx, actor, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}
	return dto.NewQuestionResponse(question), nil
}

// Update replaces the question payload and bumps its version.
func (s *questionService) Update(ctx context.Context, actor Actor, id uint, req dto.QuestionRequest) (dto.QuestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionResponse{}, err
	}

	current, err := s.owned(ctx, actor, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}

	question, fields := s.build(req)
	if len(fields) > 0 {
		return dto.QuestionResponse{}, &ValidationError{Fields: fields}
	}
	question.ID = current.ID
	question.CreatedBy = current.CreatedBy
	question.IsActive = current.IsActive
	question.UsageCount = current.UsageCount
	question.ParentQuestionID = current.ParentQuestionID
	question.CreatedAt = current.CreatedAt
	question.Version = current.Version + 1

	if err := s.questions.Update(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "question.updated",
		EntityType: "question",
		EntityID:   uintPtr(question.ID),
		Metadata:   map[string]interface{}{"version": question.Version},
	})
	return dto.NewQuestionResponse(question), nil
}

// Delete deactivates the question. Exams that already reference it keep grading against it.
func (s *questionService) Delete(ctx context.Context, actor Actor, id uint) error {
	question, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}

	question.IsActive = false
	if err := s.questions.Update(ctx, &question); err != nil {
		return err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "question.deleted",
		EntityType: "question",
		EntityID:   uintPtr(question.ID),
	})
	return nil
}

func (s *questionService) Duplicate(ctx context.Context, actor Actor, id uint) (dto.QuestionResponse, error) {
	original, err := s.owned(ctx, actor, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}

	parent := original.ID
	duplicate := original
	duplicate.ID = 0
	duplicate.Text = original.Text + " (Copy)"
	duplicate.CreatedBy = actor.ID
	duplicate.UsageCount = 0
	duplicate.Version = 1
	duplicate.ParentQuestionID = &parent
	duplicate.IsActive = true
	duplicate.CreatedAt = time.Time{}
	duplicate.UpdatedAt = time.Time{}

	if err := s.questions.Create(ctx, &duplicate); err != nil {
		return dto.QuestionResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     "question.duplicated",
		EntityType: "question",
		EntityID:   uintPtr(duplicate.ID),
		Metadata:   map[string]interface{}{"parent_id": parent},
	})
	return dto.NewQuestionResponse(duplicate), nil
}

func (s *questionService) Subjects(ctx context.Context, actor Actor) ([]string, error) {
	subjects, err := s.questions.Subjects(ctx, ownerFilter(actor))
	if err != nil {
		return nil, err
	}
	if subjects == nil {
		subjects = []string{}
	}
	return subjects, nil
}

func (s *questionService) owned(ctx context.Context, actor Actor, id uint) (models.Question, error) {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Question{}, ErrQuestionNotFound
		}
		return models.Question{}, err
	}
	if !actor.IsAdmin() && question.CreatedBy != actor.ID {
		return models.Question{}, ErrForbidden
	}
	return question, nil
}

// build maps a request to a question and returns the type rules it violates.
func (s *questionService) build(req dto.QuestionRequest) (models.Question, []FieldError) {
	question := models.Question{
		Text:           s.clean(req.Text),
		Type:           models.QuestionType(req.Type),
		Subject:        strings.TrimSpace(req.Subject),
		Difficulty:     req.Difficulty,
		Marks:          req.Marks,
		TimeLimit:      req.TimeLimit,
		Keywords:       datatypes.JSONSlice[string]{},
		MaxLength:      req.MaxLength,
		SampleAnswer:   s.clean(req.SampleAnswer),
		TextWithBlanks: s.clean(req.TextWithBlanks),
		Explanation:    s.clean(req.Explanation),
		Tags:           cleanTags(req.Tags),
		Category:       strings.TrimSpace(req.Category),
		Options:        datatypes.JSONSlice[models.QuestionOption]{},
		Blanks:         datatypes.JSONSlice[models.BlankAnswer]{},
		Hints:          datatypes.JSONSlice[models.Hint]{},
		Coding:         datatypes.NewJSONType(models.CodingDetails{}),
	}

	for _, keyword := range req.Keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			question.Keywords = append(question.Keywords, trimmed)
		}
	}
	for _, hint := range req.Hints {
		question.Hints = append(question.Hints, models.Hint{Text: s.clean(hint.Text), Penalty: hint.Penalty})
	}

	var fields []FieldError
	switch question.Type {
	case models.QuestionTypeMCQ, models.QuestionTypeTrueFalse:
		correct := 0
		for _, option := range req.Options {
			id := strings.TrimSpace(option.ID)
			if id == "" {
				id = uuid.NewString()
			}
			if option.IsCorrect {
				correct++
			}
			question.Options = append(question.Options, models.QuestionOption{
				ID:          id,
				Text:        s.clean(option.Text),
				IsCorrect:   option.IsCorrect,
				Explanation: s.clean(option.Explanation),
			})
		}
		if question.Type == models.QuestionTypeMCQ && len(req.Options) < 2 {
			fields = append(fields, FieldError{Field: "options", Message: "multiple choice questions need at least 2 options"})
		}
		if question.Type == models.QuestionTypeTrueFalse && len(req.Options) != 2 {
			fields = append(fields, FieldError{Field: "options", Message: "true/false questions need exactly 2 options"})
		}
		if correct == 0 {
			fields = append(fields, FieldError{Field: "options", Message: "at least one option must be correct"})
		}
	case models.QuestionTypeCoding:
		if req.Coding == nil {
			fields = append(fields, FieldError{Field: "coding", Message: "coding questions need a coding block"})
			break
		}
		language := strings.ToLower(strings.TrimSpace(req.Coding.Language))
		if !models.IsValidCodingLanguage(language) {
			fields = append(fields, FieldError{Field: "coding.language", Message: "unsupported programming language"})
		}
		coding := models.CodingDetails{
			Language:    language,
			StarterCode: req.Coding.StarterCode,
			TestCases:   make([]models.CodingTestCase, 0, len(req.Coding.TestCases)),
		}
		for _, testCase := range req.Coding.TestCases {
			coding.TestCases = append(coding.TestCases, models.CodingTestCase{
				Input:          testCase.Input,
				ExpectedOutput: testCase.ExpectedOutput,
				IsHidden:       testCase.IsHidden,
				Points:         testCase.Points,
			})
		}
		question.Coding = datatypes.NewJSONType(coding)
	case models.QuestionTypeFillBlank:
		if question.TextWithBlanks == "" {
			fields = append(fields, FieldError{Field: "text_with_blanks", Message: "fill in the blank questions need text with blanks"})
		}
		if len(req.Blanks) == 0 {
			fields = append(fields, FieldError{Field: "blanks", Message: "fill in the blank questions need at least one blank"})
		}
		for _, blank := range req.Blanks {
			question.Blanks = append(question.Blanks, models.BlankAnswer{
				BlankID:        strings.TrimSpace(blank.BlankID),
				CorrectAnswers: blank.CorrectAnswers,
				CaseSensitive:  blank.CaseSensitive,
			})
		}
	}

	return question, fields
}

func (s *questionService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func ownerFilter(actor Actor) *uint {
	if actor.IsAdmin() {
		return nil
	}
	id := actor.ID
	return &id
}
