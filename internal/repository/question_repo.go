package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// QuestionFilter narrows question bank listings.
type QuestionFilter struct {
	Page       int
	PageSize   int
	CreatedBy  *uint
	Subject    string
	Type       string
	Difficulty string
	Search     string
}

// QuestionRepository persists the question bank.
type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error
	CreateBatch(ctx context.Context, questions []models.Question) error
	GetByID(ctx context.Context, id uint) (models.Question, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error)
	Update(ctx context.Context, question *models.Question) error
	List(ctx context.Context, filter QuestionFilter) ([]models.Question, int64, error)
	Subjects(ctx context.Context, createdBy *uint) ([]string, error)
	FindActiveOwned(ctx context.Context, ids []uint, ownerID *uint) ([]models.Question, error)
	IncrementUsage(ctx context.Context, ids []uint) error
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository constructs the question repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) Create(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}

func (r *questionRepository) CreateBatch(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&questions).Error
	})
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

// GetByIDs loads questions regardless of their active flag so deactivated ones still grade.
func (r *questionRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Question, error) {
	if len(ids) == 0 {
		return []models.Question{}, nil
	}
	var questions []models.Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepository) Update(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Save(question).Error
}

func (r *questionRepository) List(ctx context.Context, filter QuestionFilter) ([]models.Question, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Question{}).Where("is_active = ?", true)

	if filter.CreatedBy != nil {
		query = query.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.Subject != "" {
		query = query.Where("LOWER(subject) = ?", strings.ToLower(filter.Subject))
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Difficulty != "" {
		query = query.Where("difficulty = ?", filter.Difficulty)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := likePattern(search)
		query = query.Where("LOWER(text) LIKE ? OR LOWER(subject) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var questions []models.Question
	if err := applyPagination(query, filter.Page, filter.PageSize).Order("created_at DESC").Order("id DESC").Find(&questions).Error; err != nil {
		return nil, 0, err
	}
	return questions, total, nil
}

func (r *questionRepository) Subjects(ctx context.Context, createdBy *uint) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&models.Question{}).Where("is_active = ?", true)
	if createdBy != nil {
		query = query.Where("created_by = ?", *createdBy)
	}

	var subjects []string
	if err := query.Distinct().Order("subject ASC").Pluck("subject", &subjects).Error; err != nil {
		return nil, err
	}
	return subjects, nil
}

// FindActiveOwned returns the active questions among ids, restricted to ownerID when set.
func (r *questionRepository) FindActiveOwned(ctx context.Context, ids []uint, ownerID *uint) ([]models.Question, error) {
	if len(ids) == 0 {
		return []models.Question{}, nil
	}
	query := r.db.WithContext(ctx).Where("id IN ?", ids).Where("is_active = ?", true)
	if ownerID != nil {
		query = query.Where("created_by = ?", *ownerID)
	}

	var questions []models.Question
	if err := query.Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepository) IncrementUsage(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Question{}).
		Where("id IN ?", ids).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
}
