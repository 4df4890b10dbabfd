// Package provider adapts hosted model APIs to the two capabilities the rest
// of bookrag needs: text embeddings and chat completion.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/models"
)

// Embedder maps text to a vector. The same model must be used for indexing
// and querying.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer answers a prompt given the prior turns of the conversation.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []models.Turn) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// ErrEmptyText is returned when asked to embed empty text.
var ErrEmptyText = errors.New("text cannot be empty")

// SystemPrompt frames every completion.
const SystemPrompt = "You are a helpful assistant answering questions about a catalog of books. " +
	"Answer based only on the catalog excerpts provided. " +
	"If the answer is not in the excerpts, say so."

// Provider bundles the embedder and completer of one backend.
type Provider struct {
	Name      string
	Embedder  Embedder
	Completer Completer
	// EmbeddingModel is recorded with the index so a model change is detected on load.
	EmbeddingModel string
}

// New builds the backend selected by cfg.Provider. The embedder is wrapped in
// an LRU cache when cfg.EmbedCacheSize is positive.
func New(ctx context.Context, cfg *config.Config) (*Provider, error) {
	var p *Provider
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.ChatModel)
		if err != nil {
			return nil, err
		}
		p = &Provider{Name: cfg.Provider, Embedder: g, Completer: g, EmbeddingModel: g.embeddingModel}
	case config.ProviderOpenAI:
		o := NewOpenAI(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.ChatModel,
		})
		p = &Provider{Name: cfg.Provider, Embedder: o, Completer: o, EmbeddingModel: o.embeddingModel}
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.EmbedCacheSize > 0 {
		cached, err := NewCachedEmbedder(p.Embedder, cfg.EmbedCacheSize)
		if err != nil {
			return nil, err
		}
		p.Embedder = cached
	}
	return p, nil
}
