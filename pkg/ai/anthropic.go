package ai

import "github.com/rs/zerolog"

const (
	anthropicCompatBaseURL = "https://api.anthropic.com/v1/"
	geminiCompatBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// AnthropicConfig configures model access through Anthropic's OpenAI-compatible endpoint.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    zerolog.Logger
}

// NewAnthropicGenerator constructs a Claude generator.
func NewAnthropicGenerator(cfg AnthropicConfig) (*OpenAIGenerator, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicCompatBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}

	return NewOpenAIGenerator(OpenAIConfig{
		Provider:  "anthropic",
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Logger:    cfg.Logger,
	})
}

// GeminiConfig configures Gemini access through Google's OpenAI-compatible endpoint.
type GeminiConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    zerolog.Logger
}

// NewGeminiGenerator constructs a Gemini generator, used for arbitration and analyses.
func NewGeminiGenerator(cfg GeminiConfig) (*OpenAIGenerator, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiCompatBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}

	return NewOpenAIGenerator(OpenAIConfig{
		Provider:  "gemini",
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  true,
		Logger:    cfg.Logger,
	})
}
