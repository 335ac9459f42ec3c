package service

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/safety"
)

// ErrGradingRunNotFound indicates the batch was not located.
var ErrGradingRunNotFound = errors.New("grading run not found")

// ErrSubmissionRejected indicates the security pre-check flagged the submission.
var ErrSubmissionRejected = errors.New("submission rejected by security check")

// ErrNoQuestions indicates the submission could not be split into questions.
var ErrNoQuestions = errors.New("no questions found in submission")

// BatchGrader runs the consensus pipeline.
type BatchGrader interface {
	GradeBatch(ctx context.Context, questions []grading.Question, answers []string, customPrompt string) (grading.BatchResult, error)
	GradeOne(ctx context.Context, question, answer string, maxScore float64, customPrompt string) (grading.QuestionResult, error)
}

// SecurityChecker classifies student input before grading.
type SecurityChecker interface {
	Check(ctx context.Context, question, answer string) safety.Verdict
}

// GradingOptions toggles optional service behaviour.
type GradingOptions struct {
	SecurityEnabled  bool
	SecurityMustPass bool
	AutotuneApply    bool
	DefaultMaxScore  float64
}

// RejectionError carries the verdict that blocked a submission.
type RejectionError struct {
	Verdict safety.Verdict
}

func (e *RejectionError) Error() string {
	return ErrSubmissionRejected.Error() + ": " + e.Verdict.Reason
}

// Unwrap lets callers match ErrSubmissionRejected.
func (e *RejectionError) Unwrap() error {
	return ErrSubmissionRejected
}

// GradingService exposes consensus grading to the HTTP layer.
type GradingService interface {
	GradeBatch(ctx context.Context, payload dto.BatchGradeRequest, actor PromptActor) (dto.BatchGradeResponse, error)
	GradeQuestion(ctx context.Context, payload dto.SingleGradeRequest) (grading.QuestionResult, error)
	GetRun(ctx context.Context, batchID string) (dto.GradingRunResponse, error)
	ListRuns(ctx context.Context, filter repository.GradingRunFilter) ([]dto.GradingRunResponse, error)
	CheckSecurity(ctx context.Context, payload dto.SecurityCheckRequest) (safety.Verdict, error)
}

type gradingService struct {
	grader    BatchGrader
	checker   SecurityChecker
	runs      repository.GradingRunRepository
	prompts   GradingPromptService
	events    GradingEventPublisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	options   GradingOptions
	logger    zerolog.Logger
}

// NewGradingService wires the pipeline with persistence, prompts, security and events.
// checker, runs, prompts and events may be nil.
func NewGradingService(grader BatchGrader, checker SecurityChecker, runs repository.GradingRunRepository, prompts GradingPromptService, events GradingEventPublisher, validate *validator.Validate, options GradingOptions, logger zerolog.Logger) GradingService {
	if options.DefaultMaxScore <= 0 {
		options.DefaultMaxScore = grading.DefaultMaxScore
	}

	return &gradingService{
		grader:    grader,
		checker:   checker,
		runs:      runs,
		prompts:   prompts,
		events:    events,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		options:   options,
		logger:    logger.With().Str("component", "grading_service").Logger(),
	}
}

func (s *gradingService) GradeBatch(ctx context.Context, payload dto.BatchGradeRequest, actor PromptActor) (dto.BatchGradeResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.batch")
	span.SetAttributes(attribute.String("grading.subject", payload.Subject))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.BatchGradeResponse{}, err
	}

	questions, answers := s.buildQuestions(payload)
	if len(questions) == 0 {
		span.SetStatus(codes.Error, "no_questions")
		return dto.BatchGradeResponse{}, ErrNoQuestions
	}

	response := dto.BatchGradeResponse{Subject: normalizeSubject(payload.Subject)}

	customPrompt := strings.TrimSpace(payload.CustomPrompt)
	if customPrompt == "" && response.Subject != "" && s.prompts != nil {
		current, err := s.prompts.Current(ctx, response.Subject)
		switch {
		case err == nil:
			customPrompt = current.Content
			response.PromptVersion = current.Version
		case !errors.Is(err, ErrPromptNotFound):
			s.logger.Warn().Err(err).Str("subject", response.Subject).Msg("prompt lookup failed, using default rubric")
		}
	}

	if s.options.SecurityEnabled && s.checker != nil {
		verdict := s.checker.Check(ctx, examTextOf(questions), strings.Join(answers, "\n\n"))
		response.Security = &verdict
		if verdict.IsAttack && s.options.SecurityMustPass {
			span.SetStatus(codes.Error, "security_rejected")
			s.logger.Warn().Str("reason", verdict.Reason).Str("subject", response.Subject).Msg("submission rejected by security check")
			response.BatchResult = grading.BatchResult{BatchID: uuid.NewString(), Results: []grading.QuestionResult{}}
			s.persist(ctx, payload, response, models.GradingRunStatusRejected, actor)
			return dto.BatchGradeResponse{}, &RejectionError{Verdict: verdict}
		}
	}

	result, err := s.grader.GradeBatch(ctx, questions, answers, customPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		return dto.BatchGradeResponse{}, err
	}

	s.sanitizeResults(result.Results)
	response.BatchResult = result

	if s.options.AutotuneApply && s.prompts != nil {
		update, err := s.prompts.ApplySuggestion(ctx, response.Subject, customPrompt, result.PromptSuggestion)
		if err != nil {
			s.logger.Warn().Err(err).Str("subject", response.Subject).Msg("autotune apply failed")
		}
		response.PromptUpdate = update
	}

	status := models.GradingRunStatusCompleted
	if result.Incomplete {
		status = models.GradingRunStatusIncomplete
	}
	s.persist(ctx, payload, response, status, actor)

	if s.events != nil {
		if err := s.events.Publish(ctx, GradingEvent{
			BatchID:       result.BatchID,
			Subject:       response.Subject,
			StudentRef:    payload.StudentRef,
			Status:        status,
			TotalScore:    result.TotalScore,
			MaxTotalScore: result.MaxTotalScore,
			Arbitration:   result.Statistics.Arbitration,
			Failed:        result.Statistics.Failed,
		}); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", result.BatchID).Msg("failed to publish grading event")
		}
	}

	span.SetAttributes(
		attribute.String("grading.batch_id", result.BatchID),
		attribute.Float64("grading.total_score", result.TotalScore),
	)
	return response, nil
}

func (s *gradingService) GradeQuestion(ctx context.Context, payload dto.SingleGradeRequest) (grading.QuestionResult, error) {
	if err := s.validator.Struct(payload); err != nil {
		return grading.QuestionResult{}, err
	}

	question := payload.Question
	if ref := strings.TrimSpace(payload.ReferenceAnswer); ref != "" {
		result, err := s.grader.GradeBatch(ctx, []grading.Question{{
			Number:          1,
			Text:            question,
			ReferenceAnswer: ref,
			MaxScore:        s.maxScore(payload.MaxScore),
		}}, []string{payload.Answer}, payload.CustomPrompt)
		if err != nil {
			return grading.QuestionResult{}, err
		}
		r := result.Results[0]
		if r.Failed {
			return grading.QuestionResult{}, errors.Join(grading.ErrAgentUnavailable, errors.New(r.Error))
		}
		s.sanitizeResults(result.Results)
		return result.Results[0], nil
	}

	result, err := s.grader.GradeOne(ctx, question, payload.Answer, s.maxScore(payload.MaxScore), payload.CustomPrompt)
	if err != nil {
		return grading.QuestionResult{}, err
	}

	results := []grading.QuestionResult{result}
	s.sanitizeResults(results)
	return results[0], nil
}

func (s *gradingService) GetRun(ctx context.Context, batchID string) (dto.GradingRunResponse, error) {
	if s.runs == nil {
		return dto.GradingRunResponse{}, ErrGradingRunNotFound
	}

	run, err := s.runs.GetByBatchID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingRunResponse{}, ErrGradingRunNotFound
		}
		return dto.GradingRunResponse{}, err
	}

	return dto.NewGradingRunResponse(run), nil
}

func (s *gradingService) ListRuns(ctx context.Context, filter repository.GradingRunFilter) ([]dto.GradingRunResponse, error) {
	if s.runs == nil {
		return []dto.GradingRunResponse{}, nil
	}

	filter.Subject = normalizeSubject(filter.Subject)
	runs, err := s.runs.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.GradingRunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, dto.NewGradingRunResponse(run))
	}
	return responses, nil
}

func (s *gradingService) CheckSecurity(ctx context.Context, payload dto.SecurityCheckRequest) (safety.Verdict, error) {
	if err := s.validator.Struct(payload); err != nil {
		return safety.Verdict{}, err
	}

	if s.checker == nil {
		return safety.Verdict{Reason: "security check disabled", Confidence: safety.ConfidenceLow}, nil
	}

	return s.checker.Check(ctx, payload.Question, payload.Answer), nil
}

func (s *gradingService) buildQuestions(payload dto.BatchGradeRequest) ([]grading.Question, []string) {
	if len(payload.Questions) == 0 {
		return grading.BuildQuestions(payload.ExamText, payload.AnswerText, s.maxScore(payload.MaxScore))
	}

	questions := make([]grading.Question, 0, len(payload.Questions))
	for i, q := range payload.Questions {
		number := q.Number
		if number <= 0 {
			number = i + 1
		}
		questions = append(questions, grading.Question{
			Number:          number,
			Text:            strings.TrimSpace(q.Text),
			ReferenceAnswer: strings.TrimSpace(q.ReferenceAnswer),
			MaxScore:        s.maxScore(q.MaxScore),
		})
	}
	return questions, payload.Answers
}

func (s *gradingService) maxScore(value float64) float64 {
	if value > 0 {
		return value
	}
	return s.options.DefaultMaxScore
}

func (s *gradingService) sanitizeResults(results []grading.QuestionResult) {
	for i := range results {
		results[i].FinalFeedback = s.plainText(results[i].FinalFeedback)
		results[i].PrimaryFeedback = s.plainText(results[i].PrimaryFeedback)
		results[i].SecondaryFeedback = s.plainText(results[i].SecondaryFeedback)
	}
}

// plainText strips markup from model feedback. The API returns JSON, so the
// entities the policy emits are decoded back to the characters graders wrote.
func (s *gradingService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *gradingService) persist(ctx context.Context, payload dto.BatchGradeRequest, response dto.BatchGradeResponse, status string, actor PromptActor) {
	if s.runs == nil {
		return
	}

	result := response.BatchResult
	run := models.GradingRun{
		BatchID:          result.BatchID,
		Subject:          response.Subject,
		StudentRef:       strings.TrimSpace(payload.StudentRef),
		RequestedBy:      actor.ID,
		Status:           status,
		TotalScore:       result.TotalScore,
		MaxTotalScore:    result.MaxTotalScore,
		DirectConsensus:  result.Statistics.DirectConsensus,
		ConsensusRounds:  result.Statistics.ConsensusRounds,
		Arbitration:      result.Statistics.Arbitration,
		Failed:           result.Statistics.Failed,
		PromptVersion:    response.PromptVersion,
		SecurityVerdict:  toJSONMap(response.Security),
		PromptSuggestion: toJSONMap(result.PromptSuggestion),
		WeaknessReview:   toJSONMap(result.WeaknessReview),
		AgentStats:       toJSONMap(result.AgentStats),
		AuditLog:         toJSON(result.AuditLog),
		StartedAt:        result.StartedAt,
		CompletedAt:      result.CompletedAt,
		Questions:        make([]models.GradedQuestion, 0, len(result.Results)),
	}

	for _, r := range result.Results {
		run.Questions = append(run.Questions, models.GradedQuestion{
			QuestionNum:       r.QuestionNum,
			MaxScore:          r.MaxScore,
			FinalScore:        r.FinalScore,
			FinalFeedback:     r.FinalFeedback,
			PrimaryScore:      r.PrimaryScore,
			PrimaryFeedback:   r.PrimaryFeedback,
			SecondaryScore:    r.SecondaryScore,
			SecondaryFeedback: r.SecondaryFeedback,
			Similarity:        r.Similarity,
			SimilarityMethod:  r.SimilarityMethod,
			ScoreDiffPercent:  r.ScoreDiffPercent,
			ConsensusRounds:   r.ConsensusRounds,
			ReachedConsensus:  r.ReachedConsensus,
			Arbitrated:        r.Arbitrated,
			DirectConsensus:   r.DirectConsensus,
			Failed:            r.Failed,
			Error:             r.Error,
			Notes:             toJSON(r.Notes),
		})
	}

	if err := s.runs.Create(ctx, &run); err != nil {
		s.logger.Error().Err(err).Str("batch_id", result.BatchID).Msg("failed to persist grading run")
	}
}

func examTextOf(questions []grading.Question) string {
	parts := make([]string, 0, len(questions))
	for _, q := range questions {
		parts = append(parts, q.Text)
	}
	return strings.Join(parts, "\n\n")
}

func toJSONMap(value interface{}) datatypes.JSONMap {
	payload, err := json.Marshal(value)
	if err != nil || string(payload) == "null" {
		return nil
	}

	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil
	}
	return datatypes.JSONMap(out)
}

func toJSON(value interface{}) datatypes.JSON {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return datatypes.JSON(payload)
}
