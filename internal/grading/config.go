package grading

import "time"

// Defaults for the consensus algorithm.
const (
	DefaultSimilarityThreshold = 0.90
	DefaultScoreDiffThreshold  = 0.30
	DefaultMaxConsensusRounds  = 2
	DefaultMaxAgentRetries     = 3
	DefaultBackoffBase         = 5 * time.Second
	DefaultQuestionDelay       = 3 * time.Second
	DefaultBatchTimeout        = 9 * time.Minute
	DefaultMaxScore            = 100.0
	DefaultScoreRatio          = 0.6
)

// Config holds the tunable constants of the grading core.
type Config struct {
	SimilarityThreshold float64
	ScoreDiffThreshold  float64
	MaxConsensusRounds  int
	MaxAgentRetries     int
	BackoffBase         time.Duration
	// QuestionDelay is inserted between questions; zero disables it.
	QuestionDelay time.Duration
	// BatchTimeout bounds a whole batch; zero disables the deadline.
	BatchTimeout    time.Duration
	DefaultMaxScore float64
	// DefaultScoreRatio is applied to the max score when a reply cannot be parsed.
	DefaultScoreRatio float64
	Weights           LexicalWeights
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		ScoreDiffThreshold:  DefaultScoreDiffThreshold,
		MaxConsensusRounds:  DefaultMaxConsensusRounds,
		MaxAgentRetries:     DefaultMaxAgentRetries,
		BackoffBase:         DefaultBackoffBase,
		QuestionDelay:       DefaultQuestionDelay,
		BatchTimeout:        DefaultBatchTimeout,
		DefaultMaxScore:     DefaultMaxScore,
		DefaultScoreRatio:   DefaultScoreRatio,
		Weights:             DefaultLexicalWeights(),
	}
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.ScoreDiffThreshold <= 0 {
		c.ScoreDiffThreshold = DefaultScoreDiffThreshold
	}
	// At least one round keeps ConsensusRounds == 0 reserved for direct consensus.
	if c.MaxConsensusRounds < 1 {
		c.MaxConsensusRounds = DefaultMaxConsensusRounds
	}
	if c.MaxAgentRetries <= 0 {
		c.MaxAgentRetries = DefaultMaxAgentRetries
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.QuestionDelay < 0 {
		c.QuestionDelay = 0
	}
	if c.DefaultMaxScore <= 0 {
		c.DefaultMaxScore = DefaultMaxScore
	}
	if c.DefaultScoreRatio <= 0 || c.DefaultScoreRatio > 1 {
		c.DefaultScoreRatio = DefaultScoreRatio
	}
	if c.Weights == (LexicalWeights{}) {
		c.Weights = DefaultLexicalWeights()
	}
	return c
}
