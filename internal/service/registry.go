package service

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/provider"
	"go.uber.org/zap"
)

// SessionStore is the durable side of the registry
type SessionStore interface {
	Transcript
	CreateOrReplace(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, id string) error
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type sessionEntry struct {
	therapist *Therapist
	meta      *domain.Session
}

// SessionRegistry maps session ids to their conversation contexts and
// cached metadata, backed by a SessionStore.
type SessionRegistry struct {
	store     SessionStore
	generator provider.Generator
	retriever Retriever
	cfg       TherapistConfig
	logger    *zap.Logger
	sleep     SleepFunc

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	// deletes counts DeleteSession calls so a concurrent reload can tell
	// that the store changed under it
	deletes uint64
}

// NewSessionRegistry creates an empty registry. retriever may be nil to
// disable retrieval-augmented prompts.
func NewSessionRegistry(
	store SessionStore,
	generator provider.Generator,
	retriever Retriever,
	cfg TherapistConfig,
	logger *zap.Logger,
) *SessionRegistry {
	return &SessionRegistry{
		store:     store,
		generator: generator,
		retriever: retriever,
		cfg:       cfg,
		logger:    logger.Named("sessions"),
		sleep:     sleepContext,
		sessions:  make(map[string]*sessionEntry),
	}
}

func (r *SessionRegistry) newTherapist(sessionID string, history []domain.Turn) *Therapist {
	opts := []TherapistOption{
		WithTranscript(r.store),
		WithLogger(r.logger),
		WithSleep(r.sleep),
		WithHistory(history),
	}
	if r.retriever != nil {
		opts = append(opts, WithRetriever(r.retriever))
	}
	return NewTherapist(sessionID, r.generator, r.cfg, opts...)
}

// CreateSession persists a new session and caches an empty context for it
func (r *SessionRegistry) CreateSession(ctx context.Context, userID string, metadata map[string]any) (*domain.Session, error) {
	session := &domain.Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		Metadata: metadata,
	}
	if err := r.store.CreateOrReplace(ctx, session); err != nil {
		return nil, err
	}

	entry := &sessionEntry{therapist: r.newTherapist(session.ID, nil), meta: session}

	r.mu.Lock()
	r.sessions[session.ID] = entry
	r.mu.Unlock()

	r.logger.Info("session created", zap.String("session_id", session.ID))
	return cloneSession(session), nil
}

// GetSession returns the context of id. A session that exists only in the
// store, e.g. after a restart, is rebuilt from its most recent 2*MaxHistory
// persisted turns. Unknown ids yield domain.ErrNotFound.
func (r *SessionRegistry) GetSession(ctx context.Context, id string) (*Therapist, error) {
	for {
		r.mu.RLock()
		entry, ok := r.sessions[id]
		epoch := r.deletes
		r.mu.RUnlock()
		if ok {
			return entry.therapist, nil
		}

		meta, history, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		// another request may have rebuilt it meanwhile
		if entry, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return entry.therapist, nil
		}
		// a delete ran while the store was read; reload to see its outcome
		if r.deletes != epoch {
			r.mu.Unlock()
			continue
		}

		entry = &sessionEntry{therapist: r.newTherapist(id, history), meta: meta}
		r.sessions[id] = entry
		r.mu.Unlock()

		r.logger.Info("session restored from store", zap.String("session_id", id), zap.Int("turns", len(history)))
		return entry.therapist, nil
	}
}

func (r *SessionRegistry) load(ctx context.Context, id string) (*domain.Session, []domain.Turn, error) {
	meta, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return nil, nil, domain.ErrNotFound
	}

	messages, err := r.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if limit := 2 * r.cfg.MaxHistory; limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	history := make([]domain.Turn, 0, len(messages))
	for _, m := range messages {
		history = append(history, domain.TurnFromMessage(m))
	}
	return meta, history, nil
}

// DeleteSession drops the cached context and the durable records. It
// reports whether the session existed.
func (r *SessionRegistry) DeleteSession(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	_, cached := r.sessions[id]
	delete(r.sessions, id)
	r.deletes++
	r.mu.Unlock()

	if deleted || cached {
		r.logger.Info("session deleted", zap.String("session_id", id))
	}
	return deleted || cached, nil
}

// IncrementMessageCount runs after a turn: the transcript writes already
// counted the messages, so this touches last activity and refreshes the
// cached metadata from the store.
func (r *SessionRegistry) IncrementMessageCount(ctx context.Context, id string) error {
	if err := r.store.Touch(ctx, id); err != nil {
		return err
	}

	meta, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	if entry, ok := r.sessions[id]; ok {
		entry.meta = meta
	}
	r.mu.Unlock()

	return nil
}

// GetSessionHistory returns the persisted transcript of id. When the store
// cannot be read the cached in-memory turns are served instead.
func (r *SessionRegistry) GetSessionHistory(ctx context.Context, id string) (*domain.HistoryResponse, error) {
	meta, err := r.store.Get(ctx, id)
	if err == nil && meta == nil {
		return nil, domain.ErrNotFound
	}

	var messages []*domain.Message
	if err == nil {
		messages, err = r.store.ListMessages(ctx, id)
	}
	if err != nil {
		r.mu.RLock()
		entry, ok := r.sessions[id]
		var createdAt time.Time
		if ok {
			createdAt = entry.meta.CreatedAt
		}
		r.mu.RUnlock()
		if !ok {
			return nil, err
		}

		r.logger.Warn("serving in-memory history", zap.String("session_id", id), zap.Error(err))
		return &domain.HistoryResponse{
			SessionID: id,
			Messages:  entry.therapist.History(),
			CreatedAt: createdAt,
		}, nil
	}

	turns := make([]domain.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, domain.TurnFromMessage(m))
	}

	return &domain.HistoryResponse{
		SessionID: id,
		Messages:  turns,
		CreatedAt: meta.CreatedAt,
	}, nil
}

// Len returns the number of cached sessions
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}
