package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	CacheSize int
	// Redis, when set, shares vectors between processes.
	Redis    *redis.Client
	RedisTTL time.Duration
	Logger   zerolog.Logger
}

// OpenAIEmbedder implements Embedder using an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client   *openai.Client
	cfg      EmbedderConfig
	cache    *lru.Cache[string, []float32]
	redis    *redis.Client
	redisTTL time.Duration
	logger   zerolog.Logger
}

// NewOpenAIEmbedder creates a new embedder.
func NewOpenAIEmbedder(cfg EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s embedding api key is required", providerLabel(cfg.Provider))
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.RedisTTL <= 0 {
		cfg.RedisTTL = 24 * time.Hour
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:   openai.NewClientWithConfig(config),
		cfg:      cfg,
		cache:    cache,
		redis:    cfg.Redis,
		redisTTL: cfg.RedisTTL,
		logger:   cfg.Logger.With().Str("component", "embedder").Logger(),
	}, nil
}

// Embed returns the embedding vector for text, consulting the caches first.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := EmbeddingCacheKey(e.cfg.Provider, e.cfg.Model, text)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	if vec, ok := e.fromRedis(ctx, key); ok {
		e.cache.Add(key, vec)
		return vec, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.cfg.Model),
	})
	if err != nil {
		return nil, ClassifyError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmptyResponse)
	}

	vec := resp.Data[0].Embedding
	e.cache.Add(key, vec)
	e.toRedis(ctx, key, vec)
	return vec, nil
}

func (e *OpenAIEmbedder) fromRedis(ctx context.Context, key string) ([]float32, bool) {
	if e.redis == nil {
		return nil, false
	}

	payload, err := e.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.Warn().Err(err).Msg("embedding cache read failed")
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(payload, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (e *OpenAIEmbedder) toRedis(ctx context.Context, key string, vec []float32) {
	if e.redis == nil {
		return
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, key, payload, e.redisTTL).Err(); err != nil {
		e.logger.Warn().Err(err).Msg("embedding cache write failed")
	}
}

// EmbeddingCacheKey derives a stable cache key for a provider, model and text.
func EmbeddingCacheKey(provider, model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return strings.Join([]string{"gema", "emb", provider, model, hex.EncodeToString(sum[:])}, ":")
}
