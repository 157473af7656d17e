package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/provider"
	"go.uber.org/zap"
)

// Retriever finds reference passages similar to a query. Implementations
// report failures as an empty result.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) []domain.RetrievedDocument
}

// Transcript persists conversation turns
type Transcript interface {
	AppendMessage(ctx context.Context, sessionID, role, content string, ts time.Time) (*domain.Message, error)
}

// State is the generation state of a Therapist
type State int32

const (
	StateIdle State = iota
	StateRetrieving
	StateGenerating
	StateBackoff
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// TherapistConfig bounds history, retries and provider calls. TurnTimeout,
// when set, caps a whole turn including backoff waits.
type TherapistConfig struct {
	MaxHistory  int
	MaxAttempts int
	MaxBackoff  time.Duration
	CallTimeout time.Duration
	TurnTimeout time.Duration
	NExamples   int
}

// ChatInput is one user turn
type ChatInput struct {
	Message   string
	UseRAG    bool
	NExamples int
}

// ChatResult is the outcome of a successful turn. SourcesUsed is nil when
// retrieval was skipped or found nothing.
type ChatResult struct {
	Response    string
	SourcesUsed []string
	Timestamp   time.Time
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TherapistOption configures a Therapist
type TherapistOption func(*Therapist)

// WithRetriever enables retrieval-augmented prompts
func WithRetriever(r Retriever) TherapistOption {
	return func(t *Therapist) { t.retriever = r }
}

// WithTranscript persists every turn through tr
func WithTranscript(tr Transcript) TherapistOption {
	return func(t *Therapist) { t.transcript = tr }
}

// WithHistory seeds the in-memory history, e.g. when a session is reloaded
func WithHistory(turns []domain.Turn) TherapistOption {
	return func(t *Therapist) { t.history = append([]domain.Turn(nil), turns...) }
}

// WithSleep replaces the backoff wait
func WithSleep(sleep SleepFunc) TherapistOption {
	return func(t *Therapist) { t.sleep = sleep }
}

// WithLogger sets the parent logger
func WithLogger(logger *zap.Logger) TherapistOption {
	return func(t *Therapist) { t.logger = logger }
}

// Therapist is the conversation context of one session. It owns the
// in-memory history and the provider chat, and serializes turns.
type Therapist struct {
	sessionID  string
	generator  provider.Generator
	retriever  Retriever
	transcript Transcript
	cfg        TherapistConfig
	logger     *zap.Logger
	sleep      SleepFunc

	mu      sync.Mutex
	chat    provider.ChatSession
	history []domain.Turn
	state   atomic.Int32
}

// NewTherapist creates the conversation context for sessionID
func NewTherapist(sessionID string, generator provider.Generator, cfg TherapistConfig, opts ...TherapistOption) *Therapist {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	t := &Therapist{
		sessionID: sessionID,
		generator: generator,
		cfg:       cfg,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = t.logger.Named("therapist").With(zap.String("session_id", sessionID))
	t.chat = generator.StartChat()

	return t
}

// SessionID returns the session this context belongs to
func (t *Therapist) SessionID() string { return t.sessionID }

// State returns the current generation state
func (t *Therapist) State() State { return State(t.state.Load()) }

func (t *Therapist) setState(s State) { t.state.Store(int32(s)) }

// Chat runs one turn: optional retrieval, prompt assembly, generation with
// rate-limit backoff, and transcript bookkeeping.
func (t *Therapist) Chat(ctx context.Context, in ChatInput) (*ChatResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.TurnTimeout)
		defer cancel()
	}

	var (
		examples string
		sources  []string
	)
	if in.UseRAG && t.retriever != nil {
		t.setState(StateRetrieving)

		k := in.NExamples
		if k <= 0 {
			k = t.cfg.NExamples
		}

		rctx, cancel := t.callContext(ctx)
		docs := t.retriever.Retrieve(rctx, in.Message, k)
		cancel()

		examples, sources = buildContext(docs)
	}

	prompt := buildPrompt(examples, t.history, t.cfg.MaxHistory, in.Message)

	t.appendTurn(ctx, domain.RoleUser, in.Message)

	reply, err := t.generate(ctx, prompt)
	if err != nil {
		t.setState(StateFailed)
		t.logger.Error("chat turn failed", zap.Error(err))
		return nil, err
	}

	t.appendTurn(ctx, domain.RoleAssistant, reply)
	t.trimHistory()
	t.setState(StateIdle)

	return &ChatResult{
		Response:    reply,
		SourcesUsed: sources,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// generate sends prompt, retrying rate-limited attempts. Other failures
// are returned at once.
func (t *Therapist) generate(ctx context.Context, prompt string) (string, error) {
	for attempt := 1; ; attempt++ {
		t.setState(StateGenerating)

		cctx, cancel := t.callContext(ctx)
		reply, err := t.chat.Send(cctx, prompt)
		cancel()
		if err == nil {
			return reply, nil
		}

		c := provider.Classify(err)
		t.logger.Error("generation provider error",
			zap.Int("attempt", attempt),
			zap.Stringer("kind", c.Kind),
			zap.Error(err),
		)

		switch c.Kind {
		case provider.KindRateLimit:
			if attempt >= t.cfg.MaxAttempts {
				return "", rateLimitError(attempt, c, err)
			}

			wait := t.backoff(attempt, c)
			// a wait that outlives the turn is reported as the rate limit itself
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= wait {
				return "", rateLimitError(attempt, c, err)
			}
			t.logger.Warn("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", t.cfg.MaxAttempts),
				zap.Duration("wait", wait),
			)

			t.setState(StateBackoff)
			if err := t.sleep(ctx, wait); err != nil {
				return "", &domain.ProviderError{Kind: domain.ErrProvider, Err: err}
			}
		case provider.KindInvalidCredentials:
			return "", &domain.ProviderError{Kind: domain.ErrInvalidCredentials, Err: err}
		default:
			return "", &domain.ProviderError{Kind: domain.ErrProvider, Err: err}
		}
	}
}

// backoff prefers the provider's suggested delay, else 2^attempt seconds
// capped at MaxBackoff.
func (t *Therapist) backoff(attempt int, c provider.Classification) time.Duration {
	if c.HasRetryAfter && c.RetryAfter > 0 {
		return c.RetryAfter
	}

	wait := t.cfg.MaxBackoff
	if attempt < 32 {
		if d := time.Duration(1<<attempt) * time.Second; d < wait {
			wait = d
		}
	}
	return wait
}

func rateLimitError(attempts int, c provider.Classification, err error) error {
	rle := &domain.RateLimitError{Attempts: attempts, Err: err}
	if c.HasRetryAfter {
		rle.RetryAfter = c.RetryAfter
	}
	return rle
}

func (t *Therapist) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, t.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// appendTurn records a turn in memory and, best effort, in the transcript.
// Persistence outlives a cancelled request so the stored transcript matches
// the in-memory one.
func (t *Therapist) appendTurn(ctx context.Context, role, content string) {
	ts := time.Now().UTC()
	t.history = append(t.history, domain.Turn{Role: role, Content: content, Timestamp: ts})

	if t.transcript == nil {
		return
	}
	if _, err := t.transcript.AppendMessage(context.WithoutCancel(ctx), t.sessionID, role, content, ts); err != nil {
		t.logger.Warn("failed to persist message", zap.String("role", role), zap.Error(err))
	}
}

func (t *Therapist) trimHistory() {
	limit := 2 * t.cfg.MaxHistory
	if limit > 0 && len(t.history) > limit {
		t.history = append([]domain.Turn(nil), t.history[len(t.history)-limit:]...)
	}
}

// Summary asks the provider once for a summary of the in-memory history
func (t *Therapist) Summary(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return emptySummary, nil
	}

	t.setState(StateGenerating)
	defer t.setState(StateIdle)

	cctx, cancel := t.callContext(ctx)
	defer cancel()

	summary, err := t.chat.Send(cctx, buildSummaryPrompt(t.history))
	if err != nil {
		t.logger.Error("summary failed", zap.Error(err))

		c := provider.Classify(err)
		switch c.Kind {
		case provider.KindRateLimit:
			return "", rateLimitError(1, c, err)
		case provider.KindInvalidCredentials:
			return "", &domain.ProviderError{Kind: domain.ErrInvalidCredentials, Err: err}
		default:
			return "", &domain.ProviderError{Kind: domain.ErrProvider, Err: err}
		}
	}

	return summary, nil
}

// Reset clears the in-memory history and starts a fresh provider chat.
// Persisted messages are left alone.
func (t *Therapist) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = nil
	t.chat = t.generator.StartChat()
	t.setState(StateIdle)
}

// History returns a copy of the in-memory history
func (t *Therapist) History() []domain.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]domain.Turn(nil), t.history...)
}
