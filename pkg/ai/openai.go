package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "generation_duration_seconds",
		Help:      "Duration of text generation requests",
	}, []string{"provider", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "generation_failures_total",
		Help:      "Number of failed text generation requests by failure class",
	}, []string{"provider", "model", "class"})
)

// OpenAIConfig defines configuration options for an OpenAI-compatible chat provider.
type OpenAIConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// JSONMode enables response_format=json_object on requests that ask for JSON.
	JSONMode bool
	Logger   zerolog.Logger
}

// OpenAIGenerator implements Generator against an OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGenerator builds a new generator using the provided configuration.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s api key is required", providerLabel(cfg.Provider))
	}

	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/" + cfg.Provider),
		logger: cfg.Logger.With().Str("provider", cfg.Provider).Logger(),
	}, nil
}

// Provider reports the configured provider label.
func (g *OpenAIGenerator) Provider() string {
	return g.cfg.Provider
}

// Generate sends the prompt and returns the trimmed reply text.
func (g *OpenAIGenerator) Generate(parent context.Context, req GenerateRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.cfg.Model
	}

	ctx, span := g.tracer.Start(parent, g.cfg.Provider+".generate", trace.WithAttributes(
		attribute.String("model", model),
	))
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	request := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages:    messages,
	}
	if req.JSON && g.cfg.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(g.cfg.Provider, model).Observe(time.Since(start).Seconds())
	if err != nil {
		classified := ClassifyError(err)
		g.recordFailure(span, model, classified)
		return "", classified
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err := fmt.Errorf("%w: no content returned from %s", ErrEmptyResponse, g.cfg.Provider)
		g.recordFailure(span, model, err)
		return "", err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *OpenAIGenerator) recordFailure(span trace.Span, model string, err error) {
	aiFailures.WithLabelValues(g.cfg.Provider, model, FailureClass(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Debug().Err(err).Str("model", model).Msg("generation failed")
}

// ClassifyError maps provider client errors onto the package failure classes.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	code := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests || code == "rate_limit_exceeded":
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == http.StatusNotFound || code == "model_not_found":
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// FailureClass returns a short label for metrics and logs.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	default:
		return "transport"
	}
}

func providerLabel(provider string) string {
	if provider == "" {
		return "openai"
	}
	return provider
}
