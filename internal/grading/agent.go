package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

var tracer = otel.Tracer("github.com/noah-isme/gema-grader/internal/grading")

// AgentClient calls one remote grader with retries and model failover.
type AgentClient struct {
	name      string
	generator ai.Generator
	models    []string
	backoff   BackoffPolicy
	parser    *Parser
	logger    zerolog.Logger
}

// NewAgentClient builds a client. models is the priority list; an empty list
// uses the generator's default model.
func NewAgentClient(name string, generator ai.Generator, models []string, backoff BackoffPolicy, parser *Parser, logger zerolog.Logger) *AgentClient {
	cleaned := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{""}
	}
	if parser == nil {
		parser = NewParser(DefaultScoreRatio)
	}
	if backoff.MaxAttempts <= 0 || backoff.Clock == nil {
		backoff = NewBackoffPolicy(backoff.Base, backoff.MaxAttempts, backoff.Clock)
	}

	return &AgentClient{
		name:      name,
		generator: generator,
		models:    cleaned,
		backoff:   backoff,
		parser:    parser,
		logger:    logger.With().Str("component", "agent").Str("agent", name).Logger(),
	}
}

// Name returns the agent label used in feedback and audit events.
func (a *AgentClient) Name() string {
	return a.name
}

// Grade asks the agent for a score. peer is nil for the initial grade.
func (a *AgentClient) Grade(ctx context.Context, req GradingRequest, peer *PeerReview) (AgentResult, error) {
	ctx, span := tracer.Start(ctx, "agent.grade", trace.WithAttributes(
		attribute.String("agent", a.name),
		attribute.Bool("peer_review", peer != nil),
	))
	defer span.End()

	raw, model, err := a.Complete(ctx, ai.GenerateRequest{
		System: graderSystemPrompt,
		Prompt: buildGradingPrompt(req, peer),
		JSON:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AgentResult{}, err
	}

	result := a.parser.Parse(raw, req.MaxScore)
	result.Model = model
	if result.Parse != "structured" {
		a.logger.Debug().Str("parse", result.Parse).Msg("reply was not structured")
	}
	span.SetAttributes(attribute.Float64("score", result.Score), attribute.String("parse", result.Parse))
	return result, nil
}

// Complete sends req through the model priority list and returns the raw reply
// and the model that produced it.
func (a *AgentClient) Complete(ctx context.Context, req ai.GenerateRequest) (string, string, error) {
	var lastErr error

	for _, model := range a.models {
		req.Model = model
		for attempt := 1; attempt <= a.backoff.MaxAttempts; attempt++ {
			raw, err := a.generator.Generate(ctx, req)
			if err == nil {
				observability.AgentAttempts().WithLabelValues(a.name, "ok").Inc()
				return raw, model, nil
			}
			lastErr = err
			observability.AgentAttempts().WithLabelValues(a.name, ai.FailureClass(err)).Inc()

			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", "", fmt.Errorf("%w: %s: %w", ErrAgentUnavailable, a.name, ctxErr)
			}

			logger := a.logger.With().Str("model", model).Int("attempt", attempt).Logger()
			if errors.Is(err, ai.ErrModelUnavailable) || !a.backoff.Retryable(err) {
				logger.Warn().Err(err).Msg("model failed, trying next model")
				break
			}
			if attempt == a.backoff.MaxAttempts {
				logger.Warn().Err(err).Msg("retries exhausted for model")
				break
			}

			logger.Info().Err(err).Dur("backoff", a.backoff.Delay(attempt)).Msg("retrying agent call")
			if err := a.backoff.Wait(ctx, attempt); err != nil {
				return "", "", fmt.Errorf("%w: %s: %w", ErrAgentUnavailable, a.name, err)
			}
		}
	}

	return "", "", fmt.Errorf("%w: %s: %w", ErrAgentUnavailable, a.name, lastErr)
}
