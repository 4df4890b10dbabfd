package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/aluiziolira/bookrag/models"
)

const (
	// DefaultGeminiEmbeddingModel is used when no embedding model is configured.
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	// DefaultGeminiChatModel is used when no chat model is configured.
	DefaultGeminiChatModel = "gemini-2.0-flash"
)

var (
	_ Embedder  = (*Gemini)(nil)
	_ Completer = (*Gemini)(nil)
)

// Gemini implements Embedder and Completer using Google Gemini.
type Gemini struct {
	client         *genai.Client
	embeddingModel string
	chatModel      string
}

// NewGemini creates a Gemini API client. Empty model names select the defaults.
func NewGemini(ctx context.Context, apiKey, embeddingModel, chatModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client, embeddingModel, chatModel), nil
}

func newGemini(client *genai.Client, embeddingModel, chatModel string) *Gemini {
	if embeddingModel == "" {
		embeddingModel = DefaultGeminiEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	return &Gemini{client: client, embeddingModel: embeddingModel, chatModel: chatModel}
}

// Embed returns the embedding of text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	result, err := g.client.Models.EmbedContent(ctx, g.embeddingModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return result.Embeddings[0].Values, nil
}

// Complete answers prompt with history replayed as prior messages.
func (g *Gemini) Complete(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, g.chatModel, BuildContents(prompt, history), BuildConfig())
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if result == nil {
		return "", ErrEmptyResponse
	}

	text := result.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// BuildConfig returns the GenerateContentConfig for Gemini API calls.
func BuildConfig() *genai.GenerateContentConfig {
	temp := float32(0.2)
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt}},
		},
		Temperature: &temp,
	}
}

// BuildContents lays out the conversation as alternating user and model
// messages, ending with prompt.
func BuildContents(prompt string, history []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, 2*len(history)+1)
	for _, turn := range history {
		contents = append(contents,
			genai.NewContentFromText(turn.Question, genai.RoleUser),
			genai.NewContentFromText(turn.Answer, genai.RoleModel),
		)
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}
