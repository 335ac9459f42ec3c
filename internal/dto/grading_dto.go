package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/safety"
)

// QuestionInput is one explicitly structured question of a batch.
type QuestionInput struct {
	Number          int     `json:"number" validate:"omitempty,gt=0"`
	Text            string  `json:"text" validate:"required,max=20000"`
	ReferenceAnswer string  `json:"reference_answer" validate:"max=20000"`
	MaxScore        float64 `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
}

// BatchGradeRequest submits a whole answer sheet. Either questions+answers or
// exam_text+answer_text must be supplied.
type BatchGradeRequest struct {
	Subject      string          `json:"subject" validate:"omitempty,max=128"`
	StudentRef   string          `json:"student_ref" validate:"omitempty,max=128"`
	Questions    []QuestionInput `json:"questions" validate:"required_without=ExamText,max=100,dive"`
	Answers      []string        `json:"answers" validate:"omitempty,max=100,dive,max=50000"`
	ExamText     string          `json:"exam_text" validate:"required_without=Questions,max=200000"`
	AnswerText   string          `json:"answer_text" validate:"max=200000"`
	CustomPrompt string          `json:"custom_prompt" validate:"max=20000"`
	MaxScore     float64         `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
}

// SingleGradeRequest grades one answer.
type SingleGradeRequest struct {
	Question        string  `json:"question" validate:"required,max=20000"`
	ReferenceAnswer string  `json:"reference_answer" validate:"max=20000"`
	Answer          string  `json:"answer" validate:"max=50000"`
	MaxScore        float64 `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
	CustomPrompt    string  `json:"custom_prompt" validate:"max=20000"`
}

// SecurityCheckRequest asks for a prompt-injection verdict.
type SecurityCheckRequest struct {
	Question string `json:"question" validate:"max=200000"`
	Answer   string `json:"answer" validate:"max=200000"`
}

// PromptUpdateRequest stores a new prompt version for a subject.
type PromptUpdateRequest struct {
	Content string `json:"content" validate:"required,min=10,max=20000"`
	Reason  string `json:"reason" validate:"max=2000"`
}

// PromptResponse describes one prompt version.
type PromptResponse struct {
	Subject   string    `json:"subject"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPromptResponse converts a GradingPrompt model.
func NewPromptResponse(model models.GradingPrompt) PromptResponse {
	return PromptResponse{
		Subject:   model.Subject,
		Version:   model.Version,
		Content:   model.Content,
		Source:    model.Source,
		Reason:    model.Reason,
		CreatedAt: model.CreatedAt,
	}
}

// BatchGradeResponse is the grading result plus service-level context.
type BatchGradeResponse struct {
	grading.BatchResult
	Subject       string          `json:"subject,omitempty"`
	PromptVersion int             `json:"prompt_version,omitempty"`
	Security      *safety.Verdict `json:"security,omitempty"`
	PromptUpdate  *PromptResponse `json:"prompt_update,omitempty"`
}

// GradingRunResponse is a stored run.
type GradingRunResponse struct {
	BatchID          string                   `json:"batch_id"`
	Subject          string                   `json:"subject"`
	StudentRef       string                   `json:"student_ref"`
	Status           string                   `json:"status"`
	TotalScore       float64                  `json:"total_score"`
	MaxTotalScore    float64                  `json:"max_total_score"`
	Statistics       grading.Statistics       `json:"statistics"`
	PromptVersion    int                      `json:"prompt_version"`
	SecurityVerdict  map[string]interface{}   `json:"security_verdict,omitempty"`
	PromptSuggestion map[string]interface{}   `json:"prompt_suggestion"`
	WeaknessReview   map[string]interface{}   `json:"weakness_review"`
	AgentStats       map[string]interface{}   `json:"agent_stats"`
	AuditLog         []grading.AuditEvent     `json:"audit_log"`
	Results          []grading.QuestionResult `json:"results"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      time.Time                `json:"completed_at"`
}

// NewGradingRunResponse converts a stored run.
func NewGradingRunResponse(model models.GradingRun) GradingRunResponse {
	response := GradingRunResponse{
		BatchID:       model.BatchID,
		Subject:       model.Subject,
		StudentRef:    model.StudentRef,
		Status:        model.Status,
		TotalScore:    model.TotalScore,
		MaxTotalScore: model.MaxTotalScore,
		Statistics: grading.Statistics{
			DirectConsensus: model.DirectConsensus,
			ConsensusRounds: model.ConsensusRounds,
			Arbitration:     model.Arbitration,
			Failed:          model.Failed,
		},
		PromptVersion:    model.PromptVersion,
		SecurityVerdict:  model.SecurityVerdict,
		PromptSuggestion: model.PromptSuggestion,
		WeaknessReview:   model.WeaknessReview,
		AgentStats:       model.AgentStats,
		Results:          make([]grading.QuestionResult, 0, len(model.Questions)),
		StartedAt:        model.StartedAt,
		CompletedAt:      model.CompletedAt,
	}

	if len(model.AuditLog) > 0 {
		_ = json.Unmarshal(model.AuditLog, &response.AuditLog)
	}

	for _, q := range model.Questions {
		result := grading.QuestionResult{
			QuestionNum:       q.QuestionNum,
			MaxScore:          q.MaxScore,
			FinalScore:        q.FinalScore,
			FinalFeedback:     q.FinalFeedback,
			PrimaryScore:      q.PrimaryScore,
			PrimaryFeedback:   q.PrimaryFeedback,
			SecondaryScore:    q.SecondaryScore,
			SecondaryFeedback: q.SecondaryFeedback,
			Similarity:        q.Similarity,
			SimilarityMethod:  q.SimilarityMethod,
			ScoreDiffPercent:  q.ScoreDiffPercent,
			ConsensusRounds:   q.ConsensusRounds,
			ReachedConsensus:  q.ReachedConsensus,
			Arbitrated:        q.Arbitrated,
			DirectConsensus:   q.DirectConsensus,
			Failed:            q.Failed,
			Error:             q.Error,
		}
		if len(q.Notes) > 0 {
			_ = json.Unmarshal(q.Notes, &result.Notes)
		}
		response.Results = append(response.Results, result)
	}

	return response
}
