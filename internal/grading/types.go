package grading

import "time"

// GradingRequest is the immutable input for grading one answer.
type GradingRequest struct {
	Question        string  `json:"question"`
	ReferenceAnswer string  `json:"reference_answer,omitempty"`
	StudentAnswer   string  `json:"student_answer"`
	MaxScore        float64 `json:"max_score"`
	CustomPrompt    string  `json:"custom_prompt,omitempty"`
}

// AgentResult is a normalised grade produced by an agent or the arbiter.
type AgentResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	// Parse names the strategy that produced the result: structured, pattern or default.
	Parse string `json:"parse,omitempty"`
	Model string `json:"model,omitempty"`
}

// PeerReview carries the other agent's previous grade into a consensus round.
type PeerReview struct {
	Agent    string
	Round    int
	Score    float64
	Feedback string
}

// RoundOutcome records one gate evaluation.
type RoundOutcome struct {
	Round            int         `json:"round"`
	Primary          AgentResult `json:"primary"`
	Secondary        AgentResult `json:"secondary"`
	Similarity       float64     `json:"similarity"`
	SimilarityMethod string      `json:"similarity_method"`
	ScoreDiffPercent float64     `json:"score_diff_percent"`
	Accepted         bool        `json:"accepted"`
}

// QuestionResult is the final outcome for one question.
type QuestionResult struct {
	QuestionNum       int            `json:"question_num"`
	MaxScore          float64        `json:"max_score"`
	FinalScore        float64        `json:"final_score"`
	FinalFeedback     string         `json:"final_feedback"`
	PrimaryScore      float64        `json:"primary_score"`
	PrimaryFeedback   string         `json:"primary_feedback"`
	SecondaryScore    float64        `json:"secondary_score"`
	SecondaryFeedback string         `json:"secondary_feedback"`
	Similarity        float64        `json:"similarity"`
	SimilarityMethod  string         `json:"similarity_method"`
	ScoreDiffPercent  float64        `json:"score_diff_percent"`
	ConsensusRounds   int            `json:"consensus_rounds"`
	ReachedConsensus  bool           `json:"reached_consensus"`
	Arbitrated        bool           `json:"arbitrated"`
	DirectConsensus   bool           `json:"direct_consensus"`
	Rounds            []RoundOutcome `json:"rounds,omitempty"`
	Notes             []string       `json:"notes,omitempty"`
	Failed            bool           `json:"failed"`
	Error             string         `json:"error,omitempty"`
}

// NeededNegotiation reports whether the question went past the initial gate.
func (r QuestionResult) NeededNegotiation() bool {
	return !r.Failed && (r.ConsensusRounds > 0 || r.Arbitrated)
}

// Question is one entry of a batch.
type Question struct {
	Number          int     `json:"number"`
	Text            string  `json:"text"`
	ReferenceAnswer string  `json:"reference_answer,omitempty"`
	MaxScore        float64 `json:"max_score"`
}

// Statistics counts how each question was resolved.
type Statistics struct {
	DirectConsensus int `json:"direct_consensus"`
	ConsensusRounds int `json:"consensus_rounds"`
	Arbitration     int `json:"arbitration"`
	Failed          int `json:"failed"`
}

// BatchResult is the aggregate outcome of grading a submission.
type BatchResult struct {
	BatchID          string                `json:"batch_id"`
	TotalScore       float64               `json:"total_score"`
	MaxTotalScore    float64               `json:"max_total_score"`
	Results          []QuestionResult      `json:"results"`
	Statistics       Statistics            `json:"statistics"`
	AuditLog         []AuditEvent          `json:"audit_log"`
	PromptSuggestion *PromptSuggestion     `json:"prompt_suggestion"`
	WeaknessReview   *WeaknessReview       `json:"weakness_review"`
	AgentStats       map[string]AgentStats `json:"agent_stats"`
	Incomplete       bool                  `json:"incomplete"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      time.Time             `json:"completed_at"`
}

// PromptSuggestion is the best-effort prompt optimisation enrichment.
type PromptSuggestion struct {
	UpdatedPrompt string `json:"updated_prompt"`
	Reason        string `json:"reason"`
	DiffSummary   string `json:"diff_summary"`
	Safe          bool   `json:"safe"`
}

// WeaknessCluster groups feedback evidence around one topic.
type WeaknessCluster struct {
	Topic             string   `json:"topic"`
	Frequency         int      `json:"frequency"`
	EvidenceQuestions []string `json:"evidence_questions"`
	EvidenceSnippets  []string `json:"evidence_snippets"`
	WhyItMatters      string   `json:"why_it_matters"`
}

// WeaknessAction is a prioritised corrective action.
type WeaknessAction struct {
	Action        string   `json:"action"`
	MappingTopics []string `json:"mapping_topics"`
	ExampleFix    string   `json:"example_fix"`
}

// WeaknessReview is the best-effort weakness analysis enrichment.
type WeaknessReview struct {
	Clusters            []WeaknessCluster `json:"weakness_clusters"`
	PrioritizedActions  []WeaknessAction  `json:"prioritized_actions"`
	PracticeSuggestions []string          `json:"practice_suggestions"`
	RiskScore           int               `json:"risk_score"`
	CoachComment        string            `json:"coach_comment"`
}

// AgentStats summarises how one agent's grades compared with the final scores.
type AgentStats struct {
	Items                  int     `json:"items"`
	MeanAbsErrorToFinal    float64 `json:"mean_abs_error_to_final"`
	DisagreementRate       float64 `json:"disagreement_rate"`
	EmptyFeedbackRate      float64 `json:"empty_feedback_rate"`
	ShortFeedbackRate      float64 `json:"short_feedback_rate"`
	RepetitiveFeedbackRate float64 `json:"repetitive_feedback_rate"`
}
