// Package provider adapts external embedding and generation runtimes to the
// narrow contracts the chat and retrieval services depend on.
package provider

import (
	"context"
	"fmt"
)

// Embedder turns texts into vectors. The returned slice is parallel to texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Generator starts provider-side chat sessions
type Generator interface {
	StartChat() ChatSession
	Model() string
}

// ChatSession is one provider-side conversation. Implementations are not
// safe for concurrent use; callers serialize access per session.
type ChatSession interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// NewGenerator builds the generator for the named provider
func NewGenerator(ctx context.Context, name string, opts ...Option) (Generator, error) {
	switch name {
	case "gemini":
		return NewGeminiGenerator(ctx, opts...)
	case "openai":
		return NewOpenAIGenerator(opts...), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", name)
	}
}

// NewEmbedder builds the embedder for the named provider
func NewEmbedder(ctx context.Context, name string, opts ...Option) (Embedder, error) {
	switch name {
	case "gemini":
		return NewGeminiEmbedder(ctx, opts...)
	case "openai":
		return NewOpenAIEmbedder(opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", name)
	}
}
