package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ErrPromptNotFound indicates no prompt exists for the subject.
var ErrPromptNotFound = errors.New("grading prompt not found")

// PromptActor identifies who changed a prompt.
type PromptActor struct {
	ID uint
}

// GradingPromptService manages versioned grading prompts and autotune.
type GradingPromptService interface {
	Current(ctx context.Context, subject string) (dto.PromptResponse, error)
	History(ctx context.Context, subject string) ([]dto.PromptResponse, error)
	Update(ctx context.Context, subject string, payload dto.PromptUpdateRequest, actor PromptActor) (dto.PromptResponse, error)
	// ApplySuggestion stores an autotune suggestion as a new version when it is
	// safe and changes the prompt length by at least the configured minimum.
	ApplySuggestion(ctx context.Context, subject, current string, suggestion *grading.PromptSuggestion) (*dto.PromptResponse, error)
}

type gradingPromptService struct {
	repo      repository.GradingPromptRepository
	validator *validator.Validate
	minDiff   int
	logger    zerolog.Logger
}

// NewGradingPromptService constructs the prompt service.
func NewGradingPromptService(repo repository.GradingPromptRepository, validate *validator.Validate, minDiff int, logger zerolog.Logger) GradingPromptService {
	return &gradingPromptService{
		repo:      repo,
		validator: validate,
		minDiff:   minDiff,
		logger:    logger.With().Str("component", "grading_prompt_service").Logger(),
	}
}

func (s *gradingPromptService) Current(ctx context.Context, subject string) (dto.PromptResponse, error) {
	prompt, err := s.repo.Latest(ctx, normalizeSubject(subject))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.PromptResponse{}, ErrPromptNotFound
		}
		return dto.PromptResponse{}, err
	}

	return dto.NewPromptResponse(prompt), nil
}

func (s *gradingPromptService) History(ctx context.Context, subject string) ([]dto.PromptResponse, error) {
	prompts, err := s.repo.History(ctx, normalizeSubject(subject))
	if err != nil {
		return nil, err
	}

	responses := make([]dto.PromptResponse, 0, len(prompts))
	for _, p := range prompts {
		responses = append(responses, dto.NewPromptResponse(p))
	}
	return responses, nil
}

func (s *gradingPromptService) Update(ctx context.Context, subject string, payload dto.PromptUpdateRequest, actor PromptActor) (dto.PromptResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.PromptResponse{}, err
	}

	subject = normalizeSubject(subject)
	if subject == "" {
		return dto.PromptResponse{}, ErrPromptNotFound
	}

	prompt := models.GradingPrompt{
		Subject:   subject,
		Content:   strings.TrimSpace(payload.Content),
		Source:    models.PromptSourceManual,
		Reason:    strings.TrimSpace(payload.Reason),
		CreatedBy: actor.ID,
	}
	if err := s.repo.AppendVersion(ctx, &prompt); err != nil {
		return dto.PromptResponse{}, err
	}

	s.logger.Info().Str("subject", subject).Int("version", prompt.Version).Uint("actor_id", actor.ID).Msg("grading prompt updated")
	return dto.NewPromptResponse(prompt), nil
}

func (s *gradingPromptService) ApplySuggestion(ctx context.Context, subject, current string, suggestion *grading.PromptSuggestion) (*dto.PromptResponse, error) {
	subject = normalizeSubject(subject)
	if subject == "" || suggestion == nil || !suggestion.Safe {
		return nil, nil
	}

	proposed := strings.TrimSpace(suggestion.UpdatedPrompt)
	if proposed == "" || proposed == strings.TrimSpace(current) {
		return nil, nil
	}

	diff := utf8.RuneCountInString(proposed) - utf8.RuneCountInString(strings.TrimSpace(current))
	if diff < 0 {
		diff = -diff
	}
	if diff < s.minDiff {
		s.logger.Debug().Str("subject", subject).Int("diff", diff).Msg("autotune suggestion below minimum change")
		return nil, nil
	}

	prompt := models.GradingPrompt{
		Subject: subject,
		Content: proposed,
		Source:  models.PromptSourceAutotune,
		Reason:  strings.TrimSpace(suggestion.Reason + " " + suggestion.DiffSummary),
	}
	if err := s.repo.AppendVersion(ctx, &prompt); err != nil {
		return nil, err
	}

	s.logger.Info().Str("subject", subject).Int("version", prompt.Version).Msg("autotune prompt applied")
	response := dto.NewPromptResponse(prompt)
	return &response, nil
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
