package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	apperrors "vega-agent/backend/pkg/errors"
	"vega-agent/backend/pkg/logger"
)

// Known model dimensions. Unknown models fall back to the provider default.
var modelDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"all-minilm":             384,
	"mxbai-embed-large":      1024,
}

// Default models per provider
var defaultModels = map[string]string{
	"openai": "text-embedding-3-small",
	"ollama": "nomic-embed-text",
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
// Ollama exposes the same API under /v1, so one implementation serves both.
type OpenAIEmbedder struct {
	client   *openai.Client
	provider string
	model    string
	dim      int
	logger   *zap.Logger
}

// NewOpenAIEmbedder creates an embedder for provider ("openai" or "ollama").
// An empty model selects the provider default; an empty baseURL the provider endpoint.
func NewOpenAIEmbedder(provider, apiKey, baseURL, model string) *OpenAIEmbedder {
	if model == "" {
		model = defaultModels[provider]
	}
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	if baseURL == "" {
		baseURL = adapter.ProviderBaseURL(provider)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")

	return &OpenAIEmbedder{
		client:   openai.NewClientWithConfig(cfg),
		provider: provider,
		model:    model,
		dim:      DimensionsFor(provider, model),
		logger:   logger.Get(),
	}
}

// DimensionsFor returns the declared dimensionality of a provider's model
func DimensionsFor(provider, model string) int {
	// ollama tags such as "nomic-embed-text:latest"
	base, _, _ := strings.Cut(model, ":")
	if dim, ok := modelDimensions[base]; ok {
		return dim
	}
	if provider == "ollama" {
		return 768
	}
	return 1536
}

// Embed generates the embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		e.logger.Warn("Attempting to embed empty text")
		return make([]float32, e.dim), nil
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		e.logger.Warn("Embedding request failed",
			zap.String("model", e.model),
			zap.Int("texts", len(texts)),
			zap.Error(err),
		)
		return nil, apperrors.NewEmbeddingFailed(e.Name(), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewEmbeddingFailed(e.Name(),
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, apperrors.NewEmbeddingFailed(e.Name(), fmt.Errorf("embedding index %d out of range", item.Index))
		}
		if len(item.Embedding) != e.dim {
			return nil, apperrors.NewDimensionMismatch(e.dim, len(item.Embedding))
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

// Dimensions returns the declared dimensionality
func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

// Name returns provider/model
func (e *OpenAIEmbedder) Name() string { return e.provider + "/" + e.model }
