package grading

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Similarity methods reported alongside a score.
const (
	MethodIdentical = "identical"
	MethodEmbedding = "embedding"
	MethodLexical   = "lexical"
)

// SimilarityResult is a similarity score with the method that produced it.
type SimilarityResult struct {
	Score  float64
	Method string
}

// SimilarityEngine compares two feedback texts. It never fails: embedding
// problems fall back to the lexical score.
type SimilarityEngine struct {
	embedder ai.Embedder
	weights  LexicalWeights
	logger   zerolog.Logger
}

// NewSimilarityEngine constructs an engine. A nil embedder means lexical only.
func NewSimilarityEngine(embedder ai.Embedder, weights LexicalWeights, logger zerolog.Logger) *SimilarityEngine {
	if weights == (LexicalWeights{}) {
		weights = DefaultLexicalWeights()
	}
	return &SimilarityEngine{
		embedder: embedder,
		weights:  weights,
		logger:   logger.With().Str("component", "similarity").Logger(),
	}
}

// Score returns the similarity of a and b in [0, 1].
func (e *SimilarityEngine) Score(ctx context.Context, a, b string) float64 {
	return e.Compare(ctx, a, b).Score
}

// Compare returns the similarity of a and b and how it was computed.
func (e *SimilarityEngine) Compare(ctx context.Context, a, b string) SimilarityResult {
	result := e.compare(ctx, a, b)
	observability.SimilarityMethods().WithLabelValues(result.Method).Inc()
	return result
}

func (e *SimilarityEngine) compare(ctx context.Context, a, b string) SimilarityResult {
	if a == b {
		return SimilarityResult{Score: 1, Method: MethodIdentical}
	}

	if e.embedder != nil {
		score, err := e.embeddingScore(ctx, a, b)
		if err == nil {
			return SimilarityResult{Score: score, Method: MethodEmbedding}
		}
		e.logger.Warn().Err(err).Msg("embedding similarity unavailable, using lexical fallback")
	}

	return SimilarityResult{Score: LexicalSimilarity(a, b, e.weights), Method: MethodLexical}
}

func (e *SimilarityEngine) embeddingScore(ctx context.Context, a, b string) (float64, error) {
	var va, vb []float32

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		vec, err := e.embedder.Embed(groupCtx, a)
		va = vec
		return err
	})
	group.Go(func() error {
		vec, err := e.embedder.Embed(groupCtx, b)
		vb = vec
		return err
	})
	if err := group.Wait(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	return CosineSimilarity(va, vb)
}

// CosineSimilarity validates both vectors and returns their cosine clamped to [0, 1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector lengths %d and %d", ErrEmbeddingUnavailable, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return 0, fmt.Errorf("%w: non-finite component", ErrEmbeddingUnavailable)
		}
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("%w: zero vector", ErrEmbeddingUnavailable)
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(cos) || math.IsInf(cos, 0) {
		return 0, fmt.Errorf("%w: non-finite cosine", ErrEmbeddingUnavailable)
	}
	return clampUnit(cos), nil
}
