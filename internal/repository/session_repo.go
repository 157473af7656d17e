package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
)

// SessionRepository persists sessions and their transcripts.
//
// Every write holds mu so read-modify-write updates such as the message
// count never race each other. Reads skip the lock: messages are append-only
// and a reader may observe a prefix of a concurrent write.
type SessionRepository struct {
	db  *DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// CreateOrReplace writes a session row, resetting its counters when the id
// already exists.
func (r *SessionRepository) CreateOrReplace(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	session.CreatedAt = now
	session.LastActivity = now
	session.MessageCount = 0
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}

	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal session metadata: %v", domain.ErrInvalidRequest, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (session_id, user_id, created_at, last_activity, message_count, metadata)
		VALUES (?, ?, ?, ?, 0, ?)
	`, session.ID, nullString(session.UserID), formatTime(now), formatTime(now), string(metadataJSON))
	if err != nil {
		return fmt.Errorf("create session: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a session by ID. It returns nil, nil when the session does not exist.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	session := &domain.Session{}
	var userID, metadataJSON sql.NullString
	var createdAt, lastActivity string

	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, created_at, last_activity, message_count, metadata
		FROM sessions WHERE session_id = ?
	`, id).Scan(&session.ID, &userID, &createdAt, &lastActivity, &session.MessageCount, &metadataJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w: %w", domain.ErrStoreUnavailable, err)
	}

	session.UserID = userID.String
	session.CreatedAt = parseTime(createdAt)
	session.LastActivity = parseTime(lastActivity)
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &session.Metadata)
	}

	return session, nil
}

// Touch updates a session's last activity timestamp
func (r *SessionRepository) Touch(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE session_id = ?`,
		formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("touch session: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// IncrementMessageCount bumps a session's message count by one
func (r *SessionRepository) IncrementMessageCount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `UPDATE sessions SET message_count = message_count + 1 WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment message count: %w: %w", domain.ErrStoreUnavailable, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AppendMessage inserts a message and, in the same transaction, bumps the
// session's message count and last activity. A zero ts means now.
func (r *SessionRepository) AppendMessage(ctx context.Context, sessionID, role, content string, ts time.Time) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts.IsZero() {
		ts = r.now()
	}
	ts = ts.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_activity = ?
		WHERE session_id = ?
	`, formatTime(r.now()), sessionID)
	if err != nil {
		return nil, fmt.Errorf("append message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)
	`, sessionID, role, content, formatTime(ts))
	if err != nil {
		return nil, fmt.Errorf("append message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return &domain.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}, nil
}

// ListMessages retrieves all messages for a session in append order
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		var ts string

		if err := rows.Scan(&message.ID, &message.SessionID, &message.Role, &message.Content, &ts); err != nil {
			return nil, fmt.Errorf("list messages: %w: %w", domain.ErrStoreUnavailable, err)
		}
		message.Timestamp = parseTime(ts)
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// Delete removes a session and all of its messages. It reports whether the
// session existed.
func (r *SessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete session: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete session: %w: %w", domain.ErrStoreUnavailable, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w: %w", domain.ErrStoreUnavailable, err)
	}
	affected, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete session: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return affected > 0, nil
}

// CountSessions returns the number of stored sessions
func (r *SessionRepository) CountSessions(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
