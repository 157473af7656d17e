package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createSession(t *testing.T, repo *SessionRepository, id string) *domain.Session {
	t.Helper()
	session := &domain.Session{ID: id, UserID: "u1", Metadata: map[string]any{"tier": "free"}}
	require.NoError(t, repo.CreateOrReplace(context.Background(), session))
	return session
}

func TestSessionRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	createSession(t, repo, "s1")

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 0, got.MessageCount)
	assert.Equal(t, "free", got.Metadata["tier"])
	assert.False(t, got.CreatedAt.IsZero())

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepositoryAppendKeepsCountInSync(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")

	const n = 7
	for i := 0; i < n; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		_, err := repo.AppendMessage(ctx, "s1", role, fmt.Sprintf("message %d", i), time.Time{})
		require.NoError(t, err)
	}

	messages, err := repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, n)
	for i, m := range messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		if i > 0 {
			assert.Greater(t, m.ID, messages[i-1].ID)
		}
	}

	session, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, n, session.MessageCount)
}

func TestSessionRepositoryOrdersByIDNotTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")

	later := time.Now().Add(time.Hour)
	earlier := time.Now().Add(-time.Hour)
	_, err := repo.AppendMessage(ctx, "s1", domain.RoleUser, "first", later)
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, "s1", domain.RoleAssistant, "second", earlier)
	require.NoError(t, err)

	messages, err := repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestSessionRepositoryAppendToMissingSession(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))

	_, err := repo.AppendMessage(context.Background(), "ghost", domain.RoleUser, "hello", time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepositoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AppendMessage(ctx, "s1", domain.RoleUser, fmt.Sprintf("m%d", i), time.Time{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	messages, err := repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 20)

	session, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 20, session.MessageCount)
}

func TestSessionRepositoryTouchAndIncrement(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")

	future := time.Now().Add(time.Minute)
	repo.now = func() time.Time { return future }

	require.NoError(t, repo.Touch(ctx, "s1"))
	require.NoError(t, repo.IncrementMessageCount(ctx, "s1"))

	session, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, session.MessageCount)
	assert.WithinDuration(t, future, session.LastActivity, time.Millisecond)

	assert.ErrorIs(t, repo.IncrementMessageCount(ctx, "ghost"), domain.ErrNotFound)
}

func TestSessionRepositoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")
	createSession(t, repo, "s2")

	_, err := repo.AppendMessage(ctx, "s1", domain.RoleUser, "hello", time.Time{})
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, "s2", domain.RoleUser, "other", time.Time{})
	require.NoError(t, err)

	existed, err := repo.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, existed)

	session, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, session)

	messages, err := repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	others, err := repo.ListMessages(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, others, 1)

	existed, err = repo.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, existed)

	count, err := repo.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSessionRepositoryReplaceResetsCounters(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	createSession(t, repo, "s1")

	require.NoError(t, repo.IncrementMessageCount(ctx, "s1"))
	createSession(t, repo, "s1")

	session, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, session.MessageCount)
}
