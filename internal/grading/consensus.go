package grading

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/observability"
)

// NoteArbiterUnavailable flags the average-score fallback after a failed arbitration.
const NoteArbiterUnavailable = "arbiter unavailable, used average score"

// Grader is an independent grading agent.
type Grader interface {
	Name() string
	Grade(ctx context.Context, req GradingRequest, peer *PeerReview) (AgentResult, error)
}

// Arbitrator settles disagreements that survive every consensus round.
type Arbitrator interface {
	Arbitrate(ctx context.Context, req GradingRequest, primary, secondary AgentResult) (AgentResult, error)
}

// Similarity compares two feedback texts.
type Similarity interface {
	Compare(ctx context.Context, a, b string) SimilarityResult
}

type consensusState int

const (
	stateInitialGrade consensusState = iota
	stateGateCheck
	stateRound
	stateAccepted
	stateArbitration
	stateDone
)

// ConsensusEngine drives the negotiation between two graders for one question.
type ConsensusEngine struct {
	primary    Grader
	secondary  Grader
	arbiter    Arbitrator
	similarity Similarity
	cfg        Config
	logger     zerolog.Logger
}

// NewConsensusEngine wires the two graders, the arbiter and the similarity engine.
func NewConsensusEngine(primary, secondary Grader, arbiter Arbitrator, similarity Similarity, cfg Config, logger zerolog.Logger) *ConsensusEngine {
	return &ConsensusEngine{
		primary:    primary,
		secondary:  secondary,
		arbiter:    arbiter,
		similarity: similarity,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "consensus").Logger(),
	}
}

// AgentNames returns the primary and secondary agent labels.
func (e *ConsensusEngine) AgentNames() (string, string) {
	return e.primary.Name(), e.secondary.Name()
}

// negotiation is the mutable state of one question while the engine runs.
type negotiation struct {
	questionNum int
	req         GradingRequest
	audit       *AuditLog
	round       int
	primary     AgentResult
	secondary   AgentResult
	roundFailed bool
	last        RoundOutcome
	history     []RoundOutcome
	notes       []string
}

// Evaluate grades one answer. It fails when the initial grade cannot be obtained
// or when ctx ends before the question is resolved; a cancelled question is never
// arbitrated.
func (e *ConsensusEngine) Evaluate(ctx context.Context, questionNum int, req GradingRequest, audit *AuditLog) (QuestionResult, error) {
	if req.MaxScore <= 0 {
		req.MaxScore = e.cfg.DefaultMaxScore
	}

	ctx, span := tracer.Start(ctx, "consensus.evaluate", trace.WithAttributes(
		attribute.Int("question", questionNum),
		attribute.Float64("max_score", req.MaxScore),
	))
	defer span.End()

	n := &negotiation{questionNum: questionNum, req: req, audit: audit}
	var result QuestionResult

	fail := func(err error) (QuestionResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QuestionResult{}, err
	}

	for state := stateInitialGrade; state != stateDone; {
		switch state {
		case stateInitialGrade:
			if err := e.initialGrade(ctx, n); err != nil {
				return fail(err)
			}
			state = stateGateCheck

		case stateGateCheck:
			switch {
			case e.gate(ctx, n):
				state = stateAccepted
			case n.round < e.cfg.MaxConsensusRounds:
				state = stateRound
			default:
				state = stateArbitration
			}

		case stateRound:
			if err := e.negotiate(ctx, n); err != nil {
				return fail(err)
			}
			state = stateGateCheck

		case stateAccepted:
			result = e.accept(n)
			state = stateDone

		case stateArbitration:
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("question %d before arbitration: %w", questionNum, err))
			}
			result = e.arbitrate(ctx, n)
			state = stateDone
		}
	}

	span.SetAttributes(
		attribute.Int("consensus_rounds", result.ConsensusRounds),
		attribute.Bool("arbitrated", result.Arbitrated),
		attribute.Float64("final_score", result.FinalScore),
	)
	observability.ConsensusRounds().Observe(float64(result.ConsensusRounds))
	return result, nil
}

func (e *ConsensusEngine) initialGrade(ctx context.Context, n *negotiation) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		res, err := e.primary.Grade(groupCtx, n.req, nil)
		if err != nil {
			return fmt.Errorf("%s initial grade: %w", e.primary.Name(), err)
		}
		n.primary = res
		return nil
	})
	group.Go(func() error {
		res, err := e.secondary.Grade(groupCtx, n.req, nil)
		if err != nil {
			return fmt.Errorf("%s initial grade: %w", e.secondary.Name(), err)
		}
		n.secondary = res
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	e.recordScores(n)
	return nil
}

// negotiate runs one peer-review round. Agent failures keep the previous grade;
// a finished ctx aborts the question instead.
func (e *ConsensusEngine) negotiate(ctx context.Context, n *negotiation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("question %d round %d: %w", n.questionNum, n.round+1, err)
	}
	n.round++
	n.roundFailed = false
	n.audit.Record(AuditEvent{Type: EventRoundStart, QuestionNum: n.questionNum, Round: n.round})

	primaryPeer := &PeerReview{Agent: e.secondary.Name(), Round: n.round, Score: n.secondary.Score, Feedback: n.secondary.Feedback}
	secondaryPeer := &PeerReview{Agent: e.primary.Name(), Round: n.round, Score: n.primary.Score, Feedback: n.primary.Feedback}

	var (
		primaryRes, secondaryRes AgentResult
		primaryErr, secondaryErr error
		group                    errgroup.Group
	)
	group.Go(func() error {
		primaryRes, primaryErr = e.primary.Grade(ctx, n.req, primaryPeer)
		return nil
	})
	group.Go(func() error {
		secondaryRes, secondaryErr = e.secondary.Grade(ctx, n.req, secondaryPeer)
		return nil
	})
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("question %d round %d: %w", n.questionNum, n.round, err)
	}

	for _, call := range []struct {
		grader Grader
		result AgentResult
		err    error
		target *AgentResult
	}{
		{e.primary, primaryRes, primaryErr, &n.primary},
		{e.secondary, secondaryRes, secondaryErr, &n.secondary},
	} {
		if call.err != nil {
			n.roundFailed = true
			note := fmt.Sprintf("%s unavailable in round %d, kept previous grade", call.grader.Name(), n.round)
			n.notes = append(n.notes, note)
			n.audit.Record(AuditEvent{
				Type: EventAgentFailure, QuestionNum: n.questionNum, Round: n.round,
				Agent: call.grader.Name(), Message: call.err.Error(),
			})
			e.logger.Warn().Err(call.err).Int("question", n.questionNum).Int("round", n.round).
				Str("agent", call.grader.Name()).Msg("agent failed during consensus round")
			continue
		}
		*call.target = call.result
	}

	e.recordScores(n)
	return nil
}

func (e *ConsensusEngine) recordScores(n *negotiation) {
	for _, entry := range []struct {
		name   string
		result AgentResult
	}{{e.primary.Name(), n.primary}, {e.secondary.Name(), n.secondary}} {
		n.audit.Record(AuditEvent{
			Type: EventAgentScore, QuestionNum: n.questionNum, Round: n.round, Agent: entry.name,
			Data: map[string]interface{}{"score": entry.result.Score, "parse": entry.result.Parse, "model": entry.result.Model},
		})
	}
}

// gate evaluates the current pair of grades and records the outcome.
func (e *ConsensusEngine) gate(ctx context.Context, n *negotiation) bool {
	sim := e.similarity.Compare(ctx, n.primary.Feedback, n.secondary.Feedback)
	diff := ScoreDiffPercent(n.primary.Score, n.secondary.Score, n.req.MaxScore)

	accepted := sim.Score >= e.cfg.SimilarityThreshold && diff < e.cfg.ScoreDiffThreshold
	if n.round > 0 && n.primary.Score == n.secondary.Score {
		accepted = true
	}
	if n.roundFailed {
		accepted = false
	}

	n.last = RoundOutcome{
		Round:            n.round,
		Primary:          n.primary,
		Secondary:        n.secondary,
		Similarity:       sim.Score,
		SimilarityMethod: sim.Method,
		ScoreDiffPercent: diff,
		Accepted:         accepted,
	}
	n.history = append(n.history, n.last)

	n.audit.Record(AuditEvent{
		Type: EventGateCheck, QuestionNum: n.questionNum, Round: n.round,
		Data: map[string]interface{}{
			"similarity":         sim.Score,
			"similarity_method":  sim.Method,
			"score_diff_percent": diff,
			"accepted":           accepted,
		},
	})
	if n.round > 0 {
		n.audit.Record(AuditEvent{
			Type: EventRoundEnd, QuestionNum: n.questionNum, Round: n.round,
			Data: map[string]interface{}{"accepted": accepted},
		})
	}

	return accepted
}

func (e *ConsensusEngine) accept(n *negotiation) QuestionResult {
	result := e.baseResult(n)
	result.FinalScore = e.averageScore(n)
	result.FinalFeedback = e.labelledFeedback(n)
	if n.round == 0 {
		result.DirectConsensus = true
	} else {
		result.ReachedConsensus = true
	}
	return result
}

func (e *ConsensusEngine) arbitrate(ctx context.Context, n *negotiation) QuestionResult {
	result := e.baseResult(n)
	result.Arbitrated = true

	n.audit.Record(AuditEvent{Type: EventArbitration, QuestionNum: n.questionNum, Round: n.round, Message: "arbitration requested"})

	var (
		verdict AgentResult
		err     error
	)
	if e.arbiter == nil {
		err = ErrArbiterUnavailable
	} else {
		verdict, err = e.arbiter.Arbitrate(ctx, n.req, n.primary, n.secondary)
	}

	if err != nil {
		e.logger.Warn().Err(err).Int("question", n.questionNum).Msg("arbiter failed, using average score")
		result.FinalScore = e.averageScore(n)
		result.FinalFeedback = NoteArbiterUnavailable + "\n\n" + e.labelledFeedback(n)
		result.Notes = append(result.Notes, NoteArbiterUnavailable)
		n.audit.Record(AuditEvent{
			Type: EventArbitration, QuestionNum: n.questionNum, Message: NoteArbiterUnavailable,
			Data: map[string]interface{}{"final_score": result.FinalScore, "error": err.Error()},
		})
		return result
	}

	result.FinalScore = ClampScore(RoundHalfUp(verdict.Score), n.req.MaxScore)
	result.FinalFeedback = "[arbiter] " + strings.TrimSpace(verdict.Feedback)
	n.audit.Record(AuditEvent{
		Type: EventArbitration, QuestionNum: n.questionNum, Message: "arbiter decided",
		Data: map[string]interface{}{"final_score": result.FinalScore, "model": verdict.Model},
	})
	return result
}

func (e *ConsensusEngine) baseResult(n *negotiation) QuestionResult {
	notes := make([]string, len(n.notes))
	copy(notes, n.notes)
	return QuestionResult{
		QuestionNum:       n.questionNum,
		MaxScore:          n.req.MaxScore,
		PrimaryScore:      n.primary.Score,
		PrimaryFeedback:   n.primary.Feedback,
		SecondaryScore:    n.secondary.Score,
		SecondaryFeedback: n.secondary.Feedback,
		Similarity:        n.last.Similarity,
		SimilarityMethod:  n.last.SimilarityMethod,
		ScoreDiffPercent:  n.last.ScoreDiffPercent,
		ConsensusRounds:   n.round,
		Rounds:            n.history,
		Notes:             notes,
	}
}

func (e *ConsensusEngine) averageScore(n *negotiation) float64 {
	return ClampScore(RoundHalfUp((n.primary.Score+n.secondary.Score)/2), n.req.MaxScore)
}

func (e *ConsensusEngine) labelledFeedback(n *negotiation) string {
	return fmt.Sprintf("[%s] %s\n\n[%s] %s",
		e.primary.Name(), strings.TrimSpace(n.primary.Feedback),
		e.secondary.Name(), strings.TrimSpace(n.secondary.Feedback))
}

// ScoreDiffPercent is |a-b| relative to maxScore, never to either score.
func ScoreDiffPercent(a, b, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return math.Abs(a-b) / maxScore
}
