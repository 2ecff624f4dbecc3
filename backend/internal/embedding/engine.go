// Package embedding turns text into fixed-length vectors for memory retrieval.
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"vega-agent/backend/pkg/config"
	"vega-agent/backend/pkg/logger"
)

// =============================================================================
// EMBEDDER INTERFACE
// =============================================================================

// Embedder generates vector embeddings for text.
// Every vector an Embedder returns has exactly Dimensions() elements.
type Embedder interface {
	// Embed generates the embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the embedder name, e.g. "simple" or "openai/text-embedding-3-small"
	Name() string
}

// =============================================================================
// FACTORY
// =============================================================================

// New creates an embedder based on configuration.
func New(cfg *config.Config) (Embedder, error) {
	log := logger.Get()

	var (
		embedder Embedder
		err      error
	)

	switch cfg.EmbeddingProvider {
	case "simple", "":
		embedder, err = NewHashEmbedder(cfg.EmbeddingDimension)
	case "openai":
		embedder = NewOpenAIEmbedder("openai", cfg.OpenAIAPIKey, "", cfg.EmbeddingModel)
	case "ollama":
		embedder = NewOpenAIEmbedder("ollama", "", ollamaBaseURL(cfg), cfg.EmbeddingModel)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'simple', 'openai' or 'ollama')", cfg.EmbeddingProvider)
	}
	if err != nil {
		log.Error("Failed to create embedder", zap.String("provider", cfg.EmbeddingProvider), zap.Error(err))
		return nil, err
	}

	log.Info("Embedder created",
		zap.String("name", embedder.Name()),
		zap.Int("dimensions", embedder.Dimensions()),
	)
	return embedder, nil
}

// ollamaBaseURL reuses the chat base URL when the chat provider is also ollama
func ollamaBaseURL(cfg *config.Config) string {
	if cfg.Provider == "ollama" && cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return "http://localhost:11434/v1"
}

// =============================================================================
// VECTOR HELPERS
// =============================================================================

// Normalize scales v to unit length in place. The zero vector is left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
