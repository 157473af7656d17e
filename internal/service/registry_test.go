package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *repository.SessionRepository {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewSessionRepository(db)
}

func newTestRegistry(store SessionStore, gen *scriptedGenerator, retriever Retriever) *SessionRegistry {
	r := NewSessionRegistry(store, gen, retriever, testTherapistConfig, zap.NewNop())
	r.sleep = (&sleepRecorder{}).Sleep
	return r
}

func TestRegistryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "u1", map[string]any{"channel": "web"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, 0, session.MessageCount)
	assert.False(t, session.CreatedAt.IsZero())

	th, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, th.SessionID())
	assert.Equal(t, 1, reg.Len())

	again, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Same(t, th, again)

	stored, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "u1", stored.UserID)
	assert.Equal(t, "web", stored.Metadata["channel"])
}

func TestRegistryUnknownSession(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(newTestStore(t), &scriptedGenerator{}, nil)

	_, err := reg.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.GetSessionHistory(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	deleted, err := reg.DeleteSession(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRegistryMessageCountMatchesTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	th, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := th.Chat(ctx, ChatInput{Message: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		require.NoError(t, reg.IncrementMessageCount(ctx, session.ID))
	}

	meta, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, meta.MessageCount)
	assert.Equal(t, 6, reg.sessions[session.ID].meta.MessageCount)

	history, err := reg.GetSessionHistory(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history.Messages, 6)
	assert.Equal(t, "message 0", history.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, history.Messages[5].Role)
}

func TestRegistryRestoresSessionFromStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &scriptedGenerator{replies: []string{"First answer."}}

	reg := newTestRegistry(store, gen, nil)
	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	th, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	_, err = th.Chat(ctx, ChatInput{Message: "First question"})
	require.NoError(t, err)

	// a fresh registry over the same store, as after a restart
	restarted := newTestRegistry(store, gen, nil)
	assert.Equal(t, 0, restarted.Len())

	restored, err := restarted.GetSession(ctx, session.ID)
	require.NoError(t, err)

	history := restored.History()
	require.Len(t, history, 2)
	assert.Equal(t, "First question", history[0].Content)
	assert.Equal(t, "First answer.", history[1].Content)

	_, err = restored.Chat(ctx, ChatInput{Message: "Second question"})
	require.NoError(t, err)

	prompts := gen.Prompts()
	assert.Contains(t, prompts[len(prompts)-1], "User: First question\nTherapist: First answer.")
}

func TestRegistryRestoreKeepsRecentTurns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	total := 2*testTherapistConfig.MaxHistory + 4
	for i := 0; i < total; i++ {
		_, err := store.AppendMessage(ctx, session.ID, domain.RoleUser, fmt.Sprintf("m%d", i), session.CreatedAt)
		require.NoError(t, err)
	}

	restarted := newTestRegistry(store, &scriptedGenerator{}, nil)
	th, err := restarted.GetSession(ctx, session.ID)
	require.NoError(t, err)

	history := th.History()
	require.Len(t, history, 2*testTherapistConfig.MaxHistory)
	assert.Equal(t, "m4", history[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", total-1), history[len(history)-1].Content)
}

func TestRegistryDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	deleted, err := reg.DeleteSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, reg.Len())

	_, err = reg.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.GetSessionHistory(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryWiresRetriever(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{docs: []domain.RetrievedDocument{
		{Text: "example", Metadata: map[string]any{domain.MetadataKeySource: "counsel"}},
	}}
	reg := newTestRegistry(newTestStore(t), &scriptedGenerator{}, retriever)

	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	th, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)

	result, err := th.Chat(ctx, ChatInput{Message: "hello", UseRAG: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"counsel"}, result.SourcesUsed)
}

func TestRegistryCreateReturnsCopy(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(newTestStore(t), &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "", map[string]any{"k": "v"})
	require.NoError(t, err)
	session.Metadata["k"] = "changed"

	assert.Equal(t, "v", reg.sessions[session.ID].meta.Metadata["k"])
}

// deletingStore removes the session from the registry while it is being
// reloaded, the way a concurrent DELETE request would.
type deletingStore struct {
	*repository.SessionRepository
	reg  *SessionRegistry
	once bool
}

func (s *deletingStore) ListMessages(ctx context.Context, id string) ([]*domain.Message, error) {
	messages, err := s.SessionRepository.ListMessages(ctx, id)
	if !s.once {
		s.once = true
		if _, err := s.reg.DeleteSession(ctx, id); err != nil {
			return nil, err
		}
	}
	return messages, err
}

func TestRegistryReloadDoesNotResurrectDeletedSession(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	session, err := newTestRegistry(repo, &scriptedGenerator{}, nil).CreateSession(ctx, "", nil)
	require.NoError(t, err)

	store := &deletingStore{SessionRepository: repo}
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)
	store.reg = reg

	_, err = reg.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, store.once)

	_, err = reg.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, reg.Len())
}

// flakyTranscriptStore fails ListMessages once armed
type flakyTranscriptStore struct {
	*repository.SessionRepository
	broken bool
}

func (s *flakyTranscriptStore) ListMessages(ctx context.Context, id string) ([]*domain.Message, error) {
	if s.broken {
		return nil, fmt.Errorf("list messages: %w: disk I/O error", domain.ErrStoreUnavailable)
	}
	return s.SessionRepository.ListMessages(ctx, id)
}

func TestRegistryHistoryFallsBackToCachedTurns(t *testing.T) {
	ctx := context.Background()
	store := &flakyTranscriptStore{SessionRepository: newTestStore(t)}
	reg := newTestRegistry(store, &scriptedGenerator{}, nil)

	session, err := reg.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	th, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	_, err = th.Chat(ctx, ChatInput{Message: "hello"})
	require.NoError(t, err)

	store.broken = true
	history, err := reg.GetSessionHistory(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.CreatedAt, history.CreatedAt)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "hello", history.Messages[0].Content)

	_, err = reg.GetSessionHistory(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
