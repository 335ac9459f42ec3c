package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/internal/grading"
)

// Prompt autotune modes.
const (
	AutotuneOff     = "off"
	AutotuneSuggest = "suggest"
	AutotuneApply   = "apply"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName      string
	AppEnv       string
	AppPort      string
	DatabaseURL  string
	RedisURL     string
	NATSURL      string
	EventSubject string
	JWTSecret    string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
	GeminiBaseURL    string

	PrimaryModels   []string
	SecondaryModels []string
	ArbiterModels   []string
	SecurityModel   string

	SimilarityThreshold float64
	ScoreDiffThreshold  float64
	MaxRounds           int
	MaxAgentRetries     int
	BackoffBase         time.Duration
	QuestionDelay       time.Duration
	BatchTimeout        time.Duration
	DefaultMaxScore     float64
	RateLimitPerMinute  int

	EmbeddingModel     string
	EmbeddingCacheSize int
	EmbeddingCacheTTL  time.Duration

	SecurityEnabled  bool
	SecurityMustPass bool

	AutotuneMode    string
	AutotuneMinDiff int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Grading returns the consensus core configuration.
func (c Config) Grading() grading.Config {
	cfg := grading.DefaultConfig()
	cfg.SimilarityThreshold = c.SimilarityThreshold
	cfg.ScoreDiffThreshold = c.ScoreDiffThreshold
	cfg.MaxConsensusRounds = c.MaxRounds
	cfg.MaxAgentRetries = c.MaxAgentRetries
	cfg.BackoffBase = c.BackoffBase
	cfg.QuestionDelay = c.QuestionDelay
	cfg.BatchTimeout = c.BatchTimeout
	cfg.DefaultMaxScore = c.DefaultMaxScore
	return cfg
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.subject", "gema.grading.completed")
	v.SetDefault("grading.primary_models", "gpt-4o,gpt-4o-mini")
	v.SetDefault("grading.secondary_models", "claude-3-5-sonnet-20241022,claude-3-5-haiku-20241022")
	v.SetDefault("grading.arbiter_models", "gemini-1.5-pro,gemini-1.5-flash")
	v.SetDefault("security.model", "gpt-4o")
	v.SetDefault("grading.similarity_threshold", grading.DefaultSimilarityThreshold)
	v.SetDefault("grading.score_diff_threshold", grading.DefaultScoreDiffThreshold)
	v.SetDefault("grading.max_rounds", grading.DefaultMaxConsensusRounds)
	v.SetDefault("grading.max_agent_retries", grading.DefaultMaxAgentRetries)
	v.SetDefault("grading.backoff_base", "5s")
	v.SetDefault("grading.question_delay", "3s")
	v.SetDefault("grading.batch_timeout", "9m")
	v.SetDefault("grading.default_max_score", grading.DefaultMaxScore)
	v.SetDefault("grading.rate_limit", 20)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.cache_ttl", "24h")
	v.SetDefault("security.enabled", true)
	v.SetDefault("security.must_pass", false)
	v.SetDefault("prompt.autotune_mode", AutotuneSuggest)
	v.SetDefault("prompt.autotune_min_diff", 40)

	durations := map[string]time.Duration{}
	for _, key := range []string{"grading.backoff_base", "grading.question_delay", "grading.batch_timeout", "embedding.cache_ttl"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:      v.GetString("app.name"),
		AppEnv:       v.GetString("app.env"),
		AppPort:      v.GetString("app.port"),
		DatabaseURL:  v.GetString("database.url"),
		RedisURL:     v.GetString("redis.url"),
		NATSURL:      v.GetString("nats.url"),
		EventSubject: v.GetString("events.subject"),
		JWTSecret:    v.GetString("jwt.secret"),

		OpenAIAPIKey:     v.GetString("openai_api_key"),
		OpenAIBaseURL:    v.GetString("openai.base_url"),
		AnthropicAPIKey:  v.GetString("anthropic_api_key"),
		AnthropicBaseURL: v.GetString("anthropic.base_url"),
		GeminiAPIKey:     v.GetString("gemini_api_key"),
		GeminiBaseURL:    v.GetString("gemini.base_url"),

		PrimaryModels:   splitList(v.GetString("grading.primary_models")),
		SecondaryModels: splitList(v.GetString("grading.secondary_models")),
		ArbiterModels:   splitList(v.GetString("grading.arbiter_models")),
		SecurityModel:   v.GetString("security.model"),

		SimilarityThreshold: v.GetFloat64("grading.similarity_threshold"),
		ScoreDiffThreshold:  v.GetFloat64("grading.score_diff_threshold"),
		MaxRounds:           v.GetInt("grading.max_rounds"),
		MaxAgentRetries:     v.GetInt("grading.max_agent_retries"),
		BackoffBase:         durations["grading.backoff_base"],
		QuestionDelay:       durations["grading.question_delay"],
		BatchTimeout:        durations["grading.batch_timeout"],
		DefaultMaxScore:     v.GetFloat64("grading.default_max_score"),
		RateLimitPerMinute:  v.GetInt("grading.rate_limit"),

		EmbeddingModel:     v.GetString("embedding.model"),
		EmbeddingCacheSize: v.GetInt("embedding.cache_size"),
		EmbeddingCacheTTL:  durations["embedding.cache_ttl"],

		SecurityEnabled:  v.GetBool("security.enabled"),
		SecurityMustPass: v.GetBool("security.must_pass"),

		AutotuneMode:    strings.ToLower(strings.TrimSpace(v.GetString("prompt.autotune_mode"))),
		AutotuneMinDiff: v.GetInt("prompt.autotune_min_diff"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.OpenAIAPIKey == "" || cfg.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("openai and anthropic api keys must be provided")
	}

	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return Config{}, fmt.Errorf("grading.similarity_threshold must be in (0, 1]")
	}

	if cfg.MaxRounds < 1 {
		return Config{}, fmt.Errorf("grading.max_rounds must be at least 1")
	}

	switch cfg.AutotuneMode {
	case AutotuneOff, AutotuneSuggest, AutotuneApply:
	default:
		return Config{}, fmt.Errorf("prompt.autotune_mode must be one of off, suggest, apply")
	}

	if cfg.AutotuneMinDiff < 0 {
		cfg.AutotuneMinDiff = 0
	}

	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
