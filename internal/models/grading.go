package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grading run statuses.
const (
	GradingRunStatusCompleted  = "completed"
	GradingRunStatusIncomplete = "incomplete"
	GradingRunStatusRejected   = "rejected"
)

// GradingRun stores one graded batch and its enrichments.
type GradingRun struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	BatchID          string            `gorm:"size:64;uniqueIndex;not null" json:"batch_id"`
	Subject          string            `gorm:"size:128;index" json:"subject"`
	StudentRef       string            `gorm:"size:128;index" json:"student_ref"`
	RequestedBy      uint              `gorm:"index" json:"requested_by"`
	Status           string            `gorm:"size:32;not null" json:"status"`
	TotalScore       float64           `json:"total_score"`
	MaxTotalScore    float64           `json:"max_total_score"`
	DirectConsensus  int               `json:"direct_consensus"`
	ConsensusRounds  int               `json:"consensus_rounds"`
	Arbitration      int               `json:"arbitration"`
	Failed           int               `json:"failed"`
	PromptVersion    int               `json:"prompt_version"`
	SecurityVerdict  datatypes.JSONMap `json:"security_verdict"`
	PromptSuggestion datatypes.JSONMap `json:"prompt_suggestion"`
	WeaknessReview   datatypes.JSONMap `json:"weakness_review"`
	AgentStats       datatypes.JSONMap `json:"agent_stats"`
	AuditLog         datatypes.JSON    `json:"audit_log"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Questions        []GradedQuestion  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
}

// GradedQuestion stores the final outcome of one question in a run.
type GradedQuestion struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	GradingRunID      uint           `gorm:"index;not null" json:"grading_run_id"`
	QuestionNum       int            `gorm:"not null" json:"question_num"`
	MaxScore          float64        `json:"max_score"`
	FinalScore        float64        `json:"final_score"`
	FinalFeedback     string         `gorm:"type:text" json:"final_feedback"`
	PrimaryScore      float64        `json:"primary_score"`
	PrimaryFeedback   string         `gorm:"type:text" json:"primary_feedback"`
	SecondaryScore    float64        `json:"secondary_score"`
	SecondaryFeedback string         `gorm:"type:text" json:"secondary_feedback"`
	Similarity        float64        `json:"similarity"`
	SimilarityMethod  string         `gorm:"size:16" json:"similarity_method"`
	ScoreDiffPercent  float64        `json:"score_diff_percent"`
	ConsensusRounds   int            `json:"consensus_rounds"`
	ReachedConsensus  bool           `json:"reached_consensus"`
	Arbitrated        bool           `json:"arbitrated"`
	DirectConsensus   bool           `json:"direct_consensus"`
	Failed            bool           `json:"failed"`
	Error             string         `gorm:"type:text" json:"error"`
	Notes             datatypes.JSON `json:"notes"`
	CreatedAt         time.Time      `json:"created_at"`
}

// GradingPrompt is one version of a subject's grading rubric.
type GradingPrompt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Subject   string    `gorm:"size:128;not null;uniqueIndex:idx_prompt_subject_version" json:"subject"`
	Version   int       `gorm:"not null;uniqueIndex:idx_prompt_subject_version" json:"version"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Source    string    `gorm:"size:32;not null" json:"source"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt version sources.
const (
	PromptSourceManual   = "manual"
	PromptSourceAutotune = "autotune"
)

// GradingModels lists the tables owned by the grading service.
func GradingModels() []interface{} {
	return []interface{}{&GradingRun{}, &GradedQuestion{}, &GradingPrompt{}}
}
