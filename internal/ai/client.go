package ai

import (
	"context"
	"errors"
)

// Embedder converts text into fixed-dimension vectors. Document and query
// embeddings use different input-type hints; mixing them degrades retrieval.
type Embedder interface {
	// EmbedDocuments embeds texts for storage. The result preserves input
	// order: out[i] is the vector for texts[i]. Any upstream failure is
	// returned as an error, never as a silently missing vector.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dim returns the vector dimension this embedder produces.
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderVoyage   Provider = "voyage"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for embedding clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
	Provider   Provider
}

// NewEmbedder creates an embedding client based on configuration.
func NewEmbedder(config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderVoyage:
		return NewVoyageClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(context.Background(), config)
	case ProviderStub:
		return NewStubEmbedder(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubEmbedder is a deterministic Embedder for testing.
type StubEmbedder struct {
	dim int
}

// NewStubEmbedder creates a new StubEmbedder
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *StubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *StubEmbedder) Dim() int {
	return s.dim
}
