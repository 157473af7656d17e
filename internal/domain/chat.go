package domain

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session represents a durable conversation between one user and the assistant
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	MessageCount int            `json:"message_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Message represents a persisted transcript entry. ID is assigned by the
// store and defines replay order.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one entry of the in-memory conversation history
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnFromMessage converts a persisted message into a history turn
func TurnFromMessage(m *Message) Turn {
	return Turn{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
}

// CreateSessionRequest is the request to create a session
type CreateSessionRequest struct {
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionResponse is returned after creating a session
type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// ChatRequest is the request to send a chat message
type ChatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	UseRAG    *bool  `json:"use_rag,omitempty"`
	NExamples int    `json:"n_examples,omitempty"`
}

// ChatResponse is the response from a chat message
type ChatResponse struct {
	Response    string    `json:"response"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	SourcesUsed []string  `json:"sources_used"`
}

// HistoryResponse is the persisted transcript of a session
type HistoryResponse struct {
	SessionID string    `json:"session_id"`
	Messages  []Turn    `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// SummaryResponse carries a generated conversation summary
type SummaryResponse struct {
	Summary   string `json:"summary"`
	SessionID string `json:"session_id"`
}
