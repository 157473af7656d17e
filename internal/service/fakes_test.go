package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/liliang-cn/solace/internal/corpus"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/provider"
)

// scriptedGenerator hands out chats that replay a shared script of
// replies. A nil error entry in errs means the reply at the same position
// is returned.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
	started int
}

func (g *scriptedGenerator) StartChat() provider.ChatSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started++
	return &scriptedChat{gen: g}
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type scriptedChat struct {
	gen *scriptedGenerator
}

func (c *scriptedChat) Send(_ context.Context, prompt string) (string, error) {
	g := c.gen
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(g.replies) == 0 {
		return "I'm here with you.", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type stubRetriever struct {
	docs  []domain.RetrievedDocument
	calls int
	k     int
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, k int) []domain.RetrievedDocument {
	r.calls++
	r.k = k
	if len(r.docs) > k {
		return r.docs[:k]
	}
	return r.docs
}

type failingTranscript struct{}

func (failingTranscript) AppendMessage(context.Context, string, string, string, time.Time) (*domain.Message, error) {
	return nil, domain.ErrStoreUnavailable
}

// hashEmbedder maps every text to a deterministic 4-dimensional vector
type hashEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.failOn != "" && text == e.failOn {
			return nil, errors.New("embedding backend unavailable")
		}
		h := fnv.New32a()
		h.Write([]byte(text))
		sum := h.Sum32()
		out[i] = []float32{
			float32(sum&0xff) + 1,
			float32(sum>>8&0xff) + 1,
			float32(sum>>16&0xff) + 1,
			float32(sum>>24&0xff) + 1,
		}
	}
	return out, nil
}

func (e *hashEmbedder) Model() string { return "hash-embed" }

// memorySource serves fixed rows per dataset and split
type memorySource struct {
	splits map[string][]string
	rows   map[string][]corpus.Record
	fail   map[string]error
}

func (s *memorySource) Splits(_ context.Context, dataset string) ([]string, error) {
	if err := s.fail[dataset]; err != nil {
		return nil, err
	}
	return s.splits[dataset], nil
}

func (s *memorySource) Rows(_ context.Context, dataset, split string) ([]corpus.Record, error) {
	return s.rows[dataset+"/"+split], nil
}
