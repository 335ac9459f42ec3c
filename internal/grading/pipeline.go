package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
)

const noteDeadlineExceeded = "deadline exceeded"

// MaxFailureReason caps provider error text copied into results; it fits the
// stored error column and keeps upstream HTML error pages out of responses.
const MaxFailureReason = 500

// Pipeline grades a submission question by question.
type Pipeline struct {
	engine   *ConsensusEngine
	enricher *Enricher
	cfg      Config
	clock    Clock
	logger   zerolog.Logger
}

// NewPipeline wires the consensus engine and an optional enricher.
func NewPipeline(engine *ConsensusEngine, enricher *Enricher, cfg Config, clock Clock, logger zerolog.Logger) *Pipeline {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pipeline{
		engine:   engine,
		enricher: enricher,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// GradeOne grades a single answer outside of a batch, under the same overall deadline.
func (p *Pipeline) GradeOne(ctx context.Context, question, answer string, maxScore float64, customPrompt string) (QuestionResult, error) {
	if maxScore <= 0 {
		maxScore = p.cfg.DefaultMaxScore
	}

	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.BatchTimeout)
		defer cancel()
	}

	result, err := p.engine.Evaluate(ctx, 1, GradingRequest{
		Question:      question,
		StudentAnswer: answer,
		MaxScore:      maxScore,
		CustomPrompt:  customPrompt,
	}, nil)
	if err != nil {
		observability.QuestionOutcomes().WithLabelValues("failed").Inc()
		return QuestionResult{}, err
	}

	observability.QuestionOutcomes().WithLabelValues(outcomeLabel(result)).Inc()
	return result, nil
}

// GradeBatch grades every question in order. Individual question failures are
// recorded in the result; only invalid input returns an error.
func (p *Pipeline) GradeBatch(ctx context.Context, questions []Question, answers []string, customPrompt string) (BatchResult, error) {
	if len(questions) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if len(answers) != len(questions) {
		return BatchResult{}, fmt.Errorf("%w: %d questions, %d answers", ErrAnswerCountMismatch, len(questions), len(answers))
	}

	batch := BatchResult{
		BatchID:   uuid.NewString(),
		Results:   make([]QuestionResult, 0, len(questions)),
		StartedAt: p.clock.Now(),
	}
	audit := NewAuditLog(p.clock)
	logger := p.logger.With().Str("batch_id", batch.BatchID).Logger()

	ctx, span := tracer.Start(ctx, "pipeline.grade_batch", trace.WithAttributes(
		attribute.String("batch_id", batch.BatchID),
		attribute.Int("questions", len(questions)),
	))
	defer span.End()

	batchCtx := ctx
	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, p.cfg.BatchTimeout)
		defer cancel()
	}

	audit.Record(AuditEvent{Type: EventBatchStart, Data: map[string]interface{}{"questions": len(questions)}})
	logger.Info().Int("questions", len(questions)).Msg("batch grading started")

	for i, q := range questions {
		num := questionNumber(q, i)
		maxScore := q.MaxScore
		if maxScore <= 0 {
			maxScore = p.cfg.DefaultMaxScore
		}

		if i > 0 && p.cfg.QuestionDelay > 0 {
			_ = p.clock.Sleep(batchCtx, p.cfg.QuestionDelay)
		}
		if batchCtx.Err() != nil {
			batch.Incomplete = true
			for j := i; j < len(questions); j++ {
				batch.Results = append(batch.Results, p.failedResult(audit, questions[j], j, noteDeadlineExceeded))
			}
			logger.Warn().Int("remaining", len(questions)-i).Msg("batch deadline exceeded")
			break
		}

		audit.Record(AuditEvent{Type: EventQuestionStart, QuestionNum: num, Data: map[string]interface{}{"max_score": maxScore}})
		result, err := p.engine.Evaluate(batchCtx, num, GradingRequest{
			Question:        q.Text,
			ReferenceAnswer: q.ReferenceAnswer,
			StudentAnswer:   answers[i],
			MaxScore:        maxScore,
			CustomPrompt:    customPrompt,
		}, audit)
		if err != nil {
			reason := err.Error()
			if batchCtx.Err() != nil {
				batch.Incomplete = true
				reason = noteDeadlineExceeded
			}
			logger.Error().Err(err).Int("question", num).Msg("question grading failed")
			batch.Results = append(batch.Results, p.failedResult(audit, q, i, reason))
			continue
		}

		audit.Record(AuditEvent{
			Type: EventQuestionComplete, QuestionNum: num,
			Data: map[string]interface{}{
				"final_score":      result.FinalScore,
				"consensus_rounds": result.ConsensusRounds,
				"arbitrated":       result.Arbitrated,
			},
		})
		observability.QuestionOutcomes().WithLabelValues(outcomeLabel(result)).Inc()
		batch.Results = append(batch.Results, result)
	}

	negotiated := false
	for _, r := range batch.Results {
		batch.TotalScore += r.FinalScore
		batch.MaxTotalScore += r.MaxScore
		switch {
		case r.Failed:
			batch.Statistics.Failed++
		case r.Arbitrated:
			batch.Statistics.Arbitration++
		case r.ReachedConsensus:
			batch.Statistics.ConsensusRounds++
		case r.DirectConsensus:
			batch.Statistics.DirectConsensus++
		}
		if r.NeededNegotiation() {
			negotiated = true
		}
	}

	primaryName, secondaryName := p.engine.AgentNames()
	batch.AgentStats = ComputeAgentStats(primaryName, secondaryName, batch.Results)

	if negotiated && p.enricher != nil {
		batch.PromptSuggestion = bestEffort(batchCtx, "prompt_suggestion", logger, audit, func(ctx context.Context) (*PromptSuggestion, error) {
			return p.enricher.SuggestPrompt(ctx, customPrompt, batch.Results)
		})
		batch.WeaknessReview = bestEffort(batchCtx, "weakness_review", logger, audit, func(ctx context.Context) (*WeaknessReview, error) {
			return p.enricher.ReviewWeakness(ctx, questions, answers, batch.Results)
		})
	}

	batch.CompletedAt = p.clock.Now()
	audit.Record(AuditEvent{
		Type: EventBatchComplete,
		Data: map[string]interface{}{
			"total_score":     batch.TotalScore,
			"max_total_score": batch.MaxTotalScore,
			"incomplete":      batch.Incomplete,
		},
	})
	batch.AuditLog = audit.Events()

	observability.BatchDuration().Observe(batch.CompletedAt.Sub(batch.StartedAt).Seconds())
	span.SetAttributes(attribute.Float64("total_score", batch.TotalScore), attribute.Bool("incomplete", batch.Incomplete))
	logger.Info().
		Float64("total_score", batch.TotalScore).
		Float64("max_total_score", batch.MaxTotalScore).
		Int("direct", batch.Statistics.DirectConsensus).
		Int("rounds", batch.Statistics.ConsensusRounds).
		Int("arbitration", batch.Statistics.Arbitration).
		Int("failed", batch.Statistics.Failed).
		Msg("batch grading completed")

	return batch, nil
}

func (p *Pipeline) failedResult(audit *AuditLog, q Question, index int, reason string) QuestionResult {
	maxScore := q.MaxScore
	if maxScore <= 0 {
		maxScore = p.cfg.DefaultMaxScore
	}
	num := questionNumber(q, index)
	reason = truncateReason(reason)

	audit.Record(AuditEvent{Type: EventQuestionFailed, QuestionNum: num, Message: reason})
	observability.QuestionOutcomes().WithLabelValues("failed").Inc()

	return QuestionResult{
		QuestionNum:   num,
		MaxScore:      maxScore,
		FinalFeedback: "grading failed: " + reason,
		Notes:         []string{reason},
		Failed:        true,
		Error:         reason,
	}
}

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) <= MaxFailureReason {
		return reason
	}
	return string([]rune(reason)[:MaxFailureReason-3]) + "..."
}

func outcomeLabel(r QuestionResult) string {
	switch {
	case r.Failed:
		return "failed"
	case r.Arbitrated:
		return "arbitration"
	case r.ReachedConsensus:
		return "rounds"
	default:
		return "direct"
	}
}

// IsAgentUnavailable reports whether err came from an exhausted agent.
func IsAgentUnavailable(err error) bool {
	return errors.Is(err, ErrAgentUnavailable)
}

// BuildQuestions turns raw texts into batch questions, splitting on headers.
func BuildQuestions(examText, answerText string, singleMaxScore float64) ([]Question, []string) {
	questions := SplitQuestions(examText, singleMaxScore)
	if len(questions) == 0 {
		return nil, nil
	}
	answers := AlignAnswers(questions, answerText)
	for i := range answers {
		answers[i] = strings.TrimSpace(answers[i])
	}
	return questions, answers
}
