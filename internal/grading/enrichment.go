package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

var errNoAnalyst = errors.New("no analyst configured")

// Completer returns the raw reply for a prompt; AgentClient satisfies it.
type Completer interface {
	Complete(ctx context.Context, req ai.GenerateRequest) (string, string, error)
}

// Enricher produces the best-effort batch enrichments.
type Enricher struct {
	completer Completer
	logger    zerolog.Logger
}

// NewEnricher creates an enricher backed by completer.
func NewEnricher(completer Completer, logger zerolog.Logger) *Enricher {
	return &Enricher{completer: completer, logger: logger.With().Str("component", "enrichment").Logger()}
}

// SuggestPrompt proposes a revised grading prompt based on where graders disagreed.
func (e *Enricher) SuggestPrompt(ctx context.Context, currentPrompt string, results []QuestionResult) (*PromptSuggestion, error) {
	suggestion, err := completeJSON[PromptSuggestion](ctx, e.completer, buildPromptSuggestionPrompt(currentPrompt, results))
	if err != nil {
		return nil, err
	}
	suggestion.UpdatedPrompt = strings.TrimSpace(suggestion.UpdatedPrompt)
	return suggestion, nil
}

// ReviewWeakness clusters per-question feedback into topic weaknesses.
func (e *Enricher) ReviewWeakness(ctx context.Context, questions []Question, answers []string, results []QuestionResult) (*WeaknessReview, error) {
	review, err := completeJSON[WeaknessReview](ctx, e.completer, buildWeaknessPrompt(questions, answers, results))
	if err != nil {
		return nil, err
	}
	if review.RiskScore < 0 {
		review.RiskScore = 0
	}
	if review.RiskScore > 100 {
		review.RiskScore = 100
	}
	return review, nil
}

func completeJSON[T any](ctx context.Context, completer Completer, prompt string) (*T, error) {
	if completer == nil {
		return nil, errNoAnalyst
	}

	raw, _, err := completer.Complete(ctx, ai.GenerateRequest{System: analystSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}

	candidate := jsonCandidate(raw)
	if candidate == "" {
		return nil, fmt.Errorf("%w: no json object in reply", ErrMalformedAgentResponse)
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAgentResponse, err)
	}

	var out T
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAgentResponse, err)
	}
	return &out, nil
}

// bestEffort runs an enrichment, recording failures without propagating them.
// It returns nil when fn fails.
func bestEffort[T any](ctx context.Context, kind string, logger zerolog.Logger, audit *AuditLog, fn func(context.Context) (*T, error)) *T {
	value, err := fn(ctx)
	if err != nil {
		observability.Enrichments().WithLabelValues(kind, "failed").Inc()
		logger.Warn().Err(err).Str("enrichment", kind).Msg("enrichment failed")
		audit.Record(AuditEvent{Type: EventEnrichment, Message: kind + " failed", Data: map[string]interface{}{"error": err.Error()}})
		return nil
	}

	observability.Enrichments().WithLabelValues(kind, "ok").Inc()
	audit.Record(AuditEvent{Type: EventEnrichment, Message: kind + " completed"})
	return value
}
