package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"
)

// maxGeminiBatch is the largest batch BatchEmbedContents accepts
const maxGeminiBatch = 100

type geminiGenerator struct {
	options Options
	client  *genai.Client
	model   *genai.GenerativeModel
}

// NewGeminiGenerator creates a Gemini-backed generator
func NewGeminiGenerator(ctx context.Context, opts ...Option) (Generator, error) {
	options := NewOptions(opts...)

	client, err := genai.NewClient(ctx, genaiopt.WithAPIKey(options.ApiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(options.Model)
	if options.Temperature > 0 {
		model.SetTemperature(options.Temperature)
	}
	if options.TopP > 0 {
		model.SetTopP(options.TopP)
	}
	if options.TopK > 0 {
		model.SetTopK(options.TopK)
	}

	return &geminiGenerator{
		options: options,
		client:  client,
		model:   model,
	}, nil
}

func (g *geminiGenerator) Model() string { return g.options.Model }

func (g *geminiGenerator) StartChat() ChatSession {
	return &geminiChat{cs: g.model.StartChat()}
}

type geminiChat struct {
	cs *genai.ChatSession
}

func (c *geminiChat) Send(ctx context.Context, prompt string) (string, error) {
	rsp, err := c.cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(rsp)
}

func responseText(rsp *genai.GenerateContentResponse) (string, error) {
	if rsp == nil || len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil || len(rsp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from Gemini")
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String(), nil
}

type geminiEmbedder struct {
	options Options
	client  *genai.Client
}

// NewGeminiEmbedder creates a Gemini-backed embedder
func NewGeminiEmbedder(ctx context.Context, opts ...Option) (Embedder, error) {
	options := NewOptions(opts...)

	client, err := genai.NewClient(ctx, genaiopt.WithAPIKey(options.ApiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiEmbedder{options: options, client: client}, nil
}

func (e *geminiEmbedder) Model() string { return e.options.Model }

func (e *geminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.client.EmbeddingModel(e.options.Model)
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxGeminiBatch {
		end := min(start+maxGeminiBatch, len(texts))

		batch := model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}

		rsp, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		if rsp == nil || len(rsp.Embeddings) != end-start {
			return nil, errors.New("incomplete embedding response from Gemini")
		}

		for _, emb := range rsp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, errors.New("empty embedding from Gemini")
			}
			vectors = append(vectors, emb.Values)
		}
	}

	return vectors, nil
}
