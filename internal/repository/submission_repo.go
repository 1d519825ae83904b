package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	Page      int
	PageSize  int
	ExamID    *uint
	StudentID *uint
	ExamOwner *uint
	Status    string
	Sort      string
}

// TerminalSubmission is the projection used for analytics.
type TerminalSubmission struct {
	StudentID     uint
	Status        models.SubmissionStatus
	Percentage    int
	MarksObtained int
	Passed        bool
	TimeSpent     int
}

// SubmissionRepository defines data operations for exam attempts.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission, enrollmentStatus string) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	FindInProgress(ctx context.Context, examID, studentID uint) (models.Submission, error)
	CountAttempts(ctx context.Context, examID, studentID uint) (int64, error)
	CountByExam(ctx context.Context, examID uint) (int64, error)
	SaveAnswer(ctx context.Context, answer *models.SubmissionAnswer) error
	Finalize(ctx context.Context, submission *models.Submission, enrollmentStatus string) error
	AppendViolation(ctx context.Context, submission *models.Submission, violation *models.Violation, enrollmentStatus string) error
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	ListTerminal(ctx context.Context, examID uint) ([]TerminalSubmission, error)
	CountPendingReview(ctx context.Context, examOwner *uint) (int64, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) detailQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Answers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Violations", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("occurred_at ASC").Order("id ASC")
		})
}

// Create inserts the attempt with its answer slots and flips the enrollment status in one transaction.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission, enrollmentStatus string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(submission).Error; err != nil {
			return err
		}
		for i := range submission.Answers {
			submission.Answers[i].SubmissionID = submission.ID
		}
		if len(submission.Answers) > 0 {
			if err := tx.Create(&submission.Answers).Error; err != nil {
				return err
			}
		}
		return setEnrollmentStatus(tx, submission.ExamID, submission.StudentID, enrollmentStatus)
	})
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.detailQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) FindInProgress(ctx context.Context, examID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	err := r.detailQuery(ctx).
		Where("exam_id = ? AND student_id = ? AND status = ?", examID, studentID, models.SubmissionInProgress).
		Order("attempt_number DESC").
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) CountAttempts(ctx context.Context, examID, studentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("exam_id = ? AND student_id = ?", examID, studentID).
		Count(&count).Error
	return count, err
}

func (r *submissionRepository) CountByExam(ctx context.Context, examID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Submission{}).Where("exam_id = ?", examID).Count(&count).Error
	return count, err
}

func (r *submissionRepository) SaveAnswer(ctx context.Context, answer *models.SubmissionAnswer) error {
	return r.db.WithContext(ctx).Save(answer).Error
}

// Finalize writes the attempt, every answer slot and the enrollment status atomically.
func (r *submissionRepository) Finalize(ctx context.Context, submission *models.Submission, enrollmentStatus string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(submission).Error; err != nil {
			return err
		}
		for i := range submission.Answers {
			if err := tx.Save(&submission.Answers[i]).Error; err != nil {
				return err
			}
		}
		if enrollmentStatus == "" {
			return nil
		}
		return setEnrollmentStatus(tx, submission.ExamID, submission.StudentID, enrollmentStatus)
	})
}

// AppendViolation inserts the violation and persists counters and status. Recorded violations are never updated.
func (r *submissionRepository) AppendViolation(ctx context.Context, submission *models.Submission, violation *models.Violation, enrollmentStatus string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(violation).Error; err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(submission).Error; err != nil {
			return err
		}
		if enrollmentStatus == "" {
			return nil
		}
		return setEnrollmentStatus(tx, submission.ExamID, submission.StudentID, enrollmentStatus)
	})
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.ExamID != nil {
		query = query.Where("submissions.exam_id = ?", *filter.ExamID)
	}
	if filter.StudentID != nil {
		query = query.Where("submissions.student_id = ?", *filter.StudentID)
	}
	if filter.ExamOwner != nil {
		query = query.Where("submissions.exam_id IN (SELECT id FROM exams WHERE created_by = ?)", *filter.ExamOwner)
	}
	if filter.Status != "" {
		query = query.Where("submissions.status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.Submission
	err := applyPagination(query, filter.Page, filter.PageSize).
		Preload("Exam").
		Preload("Student").
		Order(submissionSortClause(filter.Sort)).
		Order("submissions.id DESC").
		Find(&submissions).Error
	if err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}

func submissionSortClause(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "score", "-score", "percentage:desc":
		return "submissions.score_percentage DESC"
	case "percentage", "percentage:asc":
		return "submissions.score_percentage ASC"
	case "oldest", "submitted_at", "submitted_at:asc":
		return "submissions.created_at ASC"
	default:
		return "submissions.created_at DESC"
	}
}

func (r *submissionRepository) ListTerminal(ctx context.Context, examID uint) ([]TerminalSubmission, error) {
	statuses := make([]string, 0, len(models.TerminalSubmissionStatuses))
	for _, status := range models.TerminalSubmissionStatuses {
		statuses = append(statuses, string(status))
	}

	var rows []TerminalSubmission
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Select("student_id, status, score_percentage AS percentage, score_marks_obtained AS marks_obtained, score_passed AS passed, time_spent").
		Where("exam_id = ? AND status IN ?", examID, statuses).
		Order("score_percentage DESC").
		Order("time_spent ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *submissionRepository) CountPendingReview(ctx context.Context, examOwner *uint) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("review_needs_manual_grading = ?", true).
		Where("status <> ?", models.SubmissionGraded)
	if examOwner != nil {
		query = query.Where("exam_id IN (SELECT id FROM exams WHERE created_by = ?)", *examOwner)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}
