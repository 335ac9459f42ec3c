package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradingPromptRepository stores versioned grading prompts per subject.
type GradingPromptRepository interface {
	Latest(ctx context.Context, subject string) (models.GradingPrompt, error)
	History(ctx context.Context, subject string) ([]models.GradingPrompt, error)
	// AppendVersion stores prompt as the next version for its subject.
	AppendVersion(ctx context.Context, prompt *models.GradingPrompt) error
}

type gradingPromptRepository struct {
	db *gorm.DB
}

// NewGradingPromptRepository instantiates the repository.
func NewGradingPromptRepository(db *gorm.DB) GradingPromptRepository {
	return &gradingPromptRepository{db: db}
}

func (r *gradingPromptRepository) Latest(ctx context.Context, subject string) (models.GradingPrompt, error) {
	var prompt models.GradingPrompt
	if err := r.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("version DESC").
		First(&prompt).Error; err != nil {
		return models.GradingPrompt{}, err
	}

	return prompt, nil
}

func (r *gradingPromptRepository) History(ctx context.Context, subject string) ([]models.GradingPrompt, error) {
	var prompts []models.GradingPrompt
	if err := r.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("version DESC").
		Find(&prompts).Error; err != nil {
		return nil, err
	}

	return prompts, nil
}

func (r *gradingPromptRepository) AppendVersion(ctx context.Context, prompt *models.GradingPrompt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&models.GradingPrompt{}).
			Where("subject = ?", prompt.Subject).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error; err != nil {
			return err
		}

		prompt.ID = 0
		prompt.Version = current + 1
		return tx.Create(prompt).Error
	})
}
