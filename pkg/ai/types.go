package ai

import (
	"context"
	"errors"
)

// Failure classes reported by remote text and embedding providers. Providers
// wrap one of these so callers can branch with errors.Is.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrTransport        = errors.New("transport error")
	ErrEmptyResponse    = errors.New("empty response")
)

// GenerateRequest is a single prompt sent to a text-generation provider.
type GenerateRequest struct {
	System string
	Prompt string
	// Model overrides the provider default when set.
	Model string
	// JSON asks the provider for a JSON object reply where supported.
	JSON bool
}

// Generator describes a remote text-generation capability.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder describes a remote embedding capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
