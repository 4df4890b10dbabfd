package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aluiziolira/bookrag/models"
)

const (
	// DefaultOpenAIEmbeddingModel is used when no embedding model is configured.
	DefaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultOpenAIChatModel is used when no chat model is configured.
	DefaultOpenAIChatModel = openai.GPT4oMini
)

var (
	_ Embedder  = (*OpenAI)(nil)
	_ Completer = (*OpenAI)(nil)
)

// OpenAIConfig configures the OpenAI adapter. BaseURL and HTTPClient are
// optional.
type OpenAIConfig struct {
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	BaseURL        string
	HTTPClient     *http.Client
}

// OpenAI implements Embedder and Completer using the OpenAI API.
type OpenAI struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultOpenAIEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultOpenAIChatModel
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}
}

// Embed calls the embeddings endpoint for a single input.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

// Complete sends the system prompt, the replayed history and prompt as one
// chat completion request.
func (o *OpenAI) Complete(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    BuildMessages(prompt, history),
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// BuildMessages lays out the chat request messages.
func BuildMessages(prompt string, history []models.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2*len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt,
	})
	for _, turn := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Answer},
		)
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}
