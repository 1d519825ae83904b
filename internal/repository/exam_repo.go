package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// ExamFilter narrows exam listings.
type ExamFilter struct {
	Page              int
	PageSize          int
	CreatedBy         *uint
	EnrolledStudentID *uint
	PublishedOnly     bool
	Subject           string
	Search            string
	Status            string
	Now               time.Time
}

// ExamRepository persists exams with their question ordering and enrollments.
type ExamRepository interface {
	Create(ctx context.Context, exam *models.Exam) error
	GetByID(ctx context.Context, id uint) (models.Exam, error)
	GetByAccessCode(ctx context.Context, code string) (models.Exam, error)
	AccessCodeExists(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, exam *models.Exam) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, filter ExamFilter) ([]models.Exam, int64, error)
	AddQuestions(ctx context.Context, examID uint, items []models.ExamQuestion, totalMarks int) error
	SetPublished(ctx context.Context, id uint, published bool) error
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	SetEnrollmentStatus(ctx context.Context, examID, studentID uint, status string) error
	ListEnrollments(ctx context.Context, examID uint) ([]models.Enrollment, error)
	CountEnrollments(ctx context.Context, examID uint) (int64, error)
	UpdateAnalytics(ctx context.Context, examID uint, analytics models.ExamAnalytics) error
	Count(ctx context.Context, createdBy *uint) (int64, error)
	CountEnrollmentsForStudent(ctx context.Context, studentID uint) (int64, error)
}

type examRepository struct {
	db *gorm.DB
}

// NewExamRepository constructs the exam repository.
func NewExamRepository(db *gorm.DB) ExamRepository {
	return &examRepository{db: db}
}

func (r *examRepository) detailQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Questions.Question").
		Preload("Enrollments", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("enrolled_at ASC")
		})
}

func (r *examRepository) Create(ctx context.Context, exam *models.Exam) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(exam).Error; err != nil {
			return err
		}
		for i := range exam.Questions {
			exam.Questions[i].ExamID = exam.ID
			if err := tx.Omit(clause.Associations).Create(&exam.Questions[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *examRepository) GetByID(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := r.detailQuery(ctx).First(&exam, id).Error; err != nil {
		return models.Exam{}, err
	}
	return exam, nil
}

func (r *examRepository) GetByAccessCode(ctx context.Context, code string) (models.Exam, error) {
	var exam models.Exam
	err := r.detailQuery(ctx).
		Where("access_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&exam).Error
	if err != nil {
		return models.Exam{}, err
	}
	return exam, nil
}

func (r *examRepository) AccessCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Exam{}).Where("access_code = ?", code).Count(&count).Error
	return count > 0, err
}

// Update writes the exam's own columns and leaves questions and enrollments untouched.
func (r *examRepository) Update(ctx context.Context, exam *models.Exam) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(exam).Error
}

func (r *examRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", id).Delete(&models.ExamQuestion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("exam_id = ?", id).Delete(&models.Enrollment{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Exam{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *examRepository) List(ctx context.Context, filter ExamFilter) ([]models.Exam, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Exam{}).Where("exams.is_active = ?", true)

	if filter.CreatedBy != nil {
		query = query.Where("exams.created_by = ?", *filter.CreatedBy)
	}
	if filter.EnrolledStudentID != nil {
		query = query.Where("EXISTS (SELECT 1 FROM enrollments WHERE enrollments.exam_id = exams.id AND enrollments.student_id = ?)", *filter.EnrolledStudentID)
	}
	if filter.PublishedOnly {
		query = query.Where("exams.is_published = ?", true)
	}
	if filter.Subject != "" {
		query = query.Where("LOWER(exams.subject) = ?", strings.ToLower(filter.Subject))
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := likePattern(search)
		query = query.Where("LOWER(exams.title) LIKE ? OR LOWER(exams.description) LIKE ?", pattern, pattern)
	}

	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch models.ExamStatus(filter.Status) {
	case models.ExamStatusUpcoming:
		query = query.Where("exams.start_date > ?", now)
	case models.ExamStatusActive:
		query = query.Where("exams.start_date <= ? AND exams.end_date >= ?", now, now)
	case models.ExamStatusCompleted:
		query = query.Where("exams.end_date < ?", now)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var exams []models.Exam
	err := applyPagination(query, filter.Page, filter.PageSize).
		Preload("Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Order("exams.start_date DESC").
		Order("exams.id DESC").
		Find(&exams).Error
	if err != nil {
		return nil, 0, err
	}
	return exams, total, nil
}

func (r *examRepository) AddQuestions(ctx context.Context, examID uint, items []models.ExamQuestion, totalMarks int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range items {
			items[i].ExamID = examID
			if err := tx.Omit(clause.Associations).Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Exam{}).Where("id = ?", examID).Update("total_marks", totalMarks).Error
	})
}

func (r *examRepository) SetPublished(ctx context.Context, id uint, published bool) error {
	result := r.db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", id).Update("is_published", published)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *examRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(enrollment).Error
}

func (r *examRepository) SetEnrollmentStatus(ctx context.Context, examID, studentID uint, status string) error {
	return setEnrollmentStatus(r.db.WithContext(ctx), examID, studentID, status)
}

func setEnrollmentStatus(tx *gorm.DB, examID, studentID uint, status string) error {
	return tx.Model(&models.Enrollment{}).
		Where("exam_id = ? AND student_id = ?", examID, studentID).
		Update("status", status).Error
}

func (r *examRepository) ListEnrollments(ctx context.Context, examID uint) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Student").
		Where("exam_id = ?", examID).
		Order("enrolled_at ASC").
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (r *examRepository) CountEnrollments(ctx context.Context, examID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Enrollment{}).Where("exam_id = ?", examID).Count(&count).Error
	return count, err
}

// UpdateAnalytics writes only the analytics columns so concurrent enrollment changes are preserved.
func (r *examRepository) UpdateAnalytics(ctx context.Context, examID uint, analytics models.ExamAnalytics) error {
	return r.db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", examID).UpdateColumns(map[string]interface{}{
		"analytics_total_attempts":  analytics.TotalAttempts,
		"analytics_average_score":   analytics.AverageScore,
		"analytics_pass_rate":       analytics.PassRate,
		"analytics_completion_rate": analytics.CompletionRate,
	}).Error
}

func (r *examRepository) Count(ctx context.Context, createdBy *uint) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Exam{})
	if createdBy != nil {
		query = query.Where("created_by = ?", *createdBy)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (r *examRepository) CountEnrollmentsForStudent(ctx context.Context, studentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Enrollment{}).Where("student_id = ?", studentID).Count(&count).Error
	return count, err
}
