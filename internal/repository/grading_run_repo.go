package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradingRunFilter allows narrowing run queries.
type GradingRunFilter struct {
	Subject    string
	StudentRef string
	Limit      int
}

// GradingRunRepository persists graded batches.
type GradingRunRepository interface {
	Create(ctx context.Context, run *models.GradingRun) error
	GetByBatchID(ctx context.Context, batchID string) (models.GradingRun, error)
	List(ctx context.Context, filter GradingRunFilter) ([]models.GradingRun, error)
}

type gradingRunRepository struct {
	db *gorm.DB
}

// NewGradingRunRepository instantiates the repository.
func NewGradingRunRepository(db *gorm.DB) GradingRunRepository {
	return &gradingRunRepository{db: db}
}

// Create stores the run together with its questions in one transaction.
func (r *gradingRunRepository) Create(ctx context.Context, run *models.GradingRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
}

func (r *gradingRunRepository) GetByBatchID(ctx context.Context, batchID string) (models.GradingRun, error) {
	var run models.GradingRun
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_num ASC")
		}).
		Where("batch_id = ?", batchID).
		First(&run).Error
	if err != nil {
		return models.GradingRun{}, err
	}

	return run, nil
}

func (r *gradingRunRepository) List(ctx context.Context, filter GradingRunFilter) ([]models.GradingRun, error) {
	query := r.db.WithContext(ctx).Model(&models.GradingRun{})

	if filter.Subject != "" {
		query = query.Where("subject = ?", filter.Subject)
	}

	if filter.StudentRef != "" {
		query = query.Where("student_ref = ?", filter.StudentRef)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var runs []models.GradingRun
	if err := query.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}

	return runs, nil
}
