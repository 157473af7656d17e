package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// newOpenAIClient works against api.openai.com or any OpenAI-compatible
// server (Ollama, vLLM) when BaseURL is set.
func newOpenAIClient(options Options) *openai.Client {
	cfg := openai.DefaultConfig(options.ApiKey)
	if options.BaseURL != "" {
		cfg.BaseURL = options.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type openaiGenerator struct {
	options Options
	client  *openai.Client
}

// NewOpenAIGenerator creates an OpenAI-compatible generator
func NewOpenAIGenerator(opts ...Option) Generator {
	options := NewOptions(opts...)
	return &openaiGenerator{options: options, client: newOpenAIClient(options)}
}

func (g *openaiGenerator) Model() string { return g.options.Model }

func (g *openaiGenerator) StartChat() ChatSession {
	return &openaiChat{generator: g}
}

// openaiChat keeps the exchanged messages client-side, the way a Gemini
// chat session does, and replays them on every request.
type openaiChat struct {
	generator *openaiGenerator
	history   []openai.ChatCompletionMessage
}

func (c *openaiChat) Send(ctx context.Context, prompt string) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}

	messages := make([]openai.ChatCompletionMessage, 0, len(c.history)+1)
	messages = append(messages, c.history...)
	messages = append(messages, user)

	req := openai.ChatCompletionRequest{
		Model:       c.generator.options.Model,
		Messages:    messages,
		Temperature: c.generator.options.Temperature,
		TopP:        c.generator.options.TopP,
	}

	rsp, err := c.generator.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(rsp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	answer := rsp.Choices[0].Message.Content
	c.history = append(c.history, user, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: answer,
	})

	return answer, nil
}

type openaiEmbedder struct {
	options Options
	client  *openai.Client
}

// NewOpenAIEmbedder creates an OpenAI-compatible embedder
func NewOpenAIEmbedder(opts ...Option) Embedder {
	options := NewOptions(opts...)
	return &openaiEmbedder{options: options, client: newOpenAIClient(options)}
}

func (e *openaiEmbedder) Model() string { return e.options.Model }

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.options.Model),
	})
	if err != nil {
		return nil, err
	}
	if len(rsp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(rsp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range rsp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}
