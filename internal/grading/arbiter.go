package grading

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Arbiter makes the final call when the two graders cannot agree.
type Arbiter struct {
	client        *AgentClient
	primaryName   string
	secondaryName string
}

// NewArbiter wraps an agent client configured with the arbiter's model list.
func NewArbiter(client *AgentClient, primaryName, secondaryName string) *Arbiter {
	return &Arbiter{client: client, primaryName: primaryName, secondaryName: secondaryName}
}

// Arbitrate returns an integral score within [0, maxScore] or ErrArbiterUnavailable.
func (a *Arbiter) Arbitrate(ctx context.Context, req GradingRequest, primary, secondary AgentResult) (AgentResult, error) {
	ctx, span := tracer.Start(ctx, "arbiter.arbitrate", trace.WithAttributes(
		attribute.Float64("primary_score", primary.Score),
		attribute.Float64("secondary_score", secondary.Score),
	))
	defer span.End()

	raw, model, err := a.client.Complete(ctx, ai.GenerateRequest{
		System: arbiterSystemPrompt,
		Prompt: buildArbitrationPrompt(req, a.primaryName, primary, a.secondaryName, secondary),
		JSON:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentResult{}, fmt.Errorf("%w: %w", ErrArbiterUnavailable, err)
	}

	result, ok := ParseStructured(raw, req.MaxScore)
	if !ok {
		result, ok = ParsePattern(raw, req.MaxScore)
	}
	if !ok {
		err := fmt.Errorf("%w: %w", ErrArbiterUnavailable, ErrMalformedAgentResponse)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentResult{}, err
	}

	result.Score = ClampScore(RoundHalfUp(ClampScore(result.Score, req.MaxScore)), req.MaxScore)
	result.Model = model
	result.Parse = "arbiter"
	span.SetAttributes(attribute.Float64("score", result.Score))
	return result, nil
}
