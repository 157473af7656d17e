package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/solace/internal/api/response"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/service"
	"go.uber.org/zap"
)

// Handler serves the session and chat API
type Handler struct {
	registry  *service.SessionRegistry
	nExamples int
	logger    *zap.Logger
}

// NewHandler creates a new session handler. nExamples is the retrieval
// depth used when a chat request does not set n_examples.
func NewHandler(registry *service.SessionRegistry, nExamples int, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		nExamples: nExamples,
		logger:    logger.Named("api.session"),
	}
}

// RegisterRoutes registers session routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions/create", h.CreateSession)
	r.DELETE("/sessions/:session_id", h.DeleteSession)
	r.GET("/sessions/:session_id/history", h.GetHistory)
	r.POST("/sessions/:session_id/summary", h.GetSummary)
	r.POST("/sessions/:session_id/reset", h.ResetConversation)
	r.POST("/chat", h.Chat)
}

// CreateSession starts a new conversation. The body is optional.
func (h *Handler) CreateSession(c *gin.Context) {
	var req domain.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}

	session, err := h.registry.CreateSession(c.Request.Context(), req.UserID, req.Metadata)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		response.RespondDomainError(c, err)
		return
	}

	response.RespondOK(c, domain.SessionResponse{
		SessionID:    session.ID,
		CreatedAt:    session.CreatedAt,
		MessageCount: session.MessageCount,
	})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	deleted, err := h.registry.DeleteSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if !deleted {
		response.RespondError(c, http.StatusNotFound, "not_found", errSessionNotFound)
		return
	}

	response.RespondOK(c, gin.H{"status": "success", "message": "Session deleted"})
}

// Chat runs one conversation turn
func (h *Handler) Chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := c.Request.Context()

	therapist, err := h.registry.GetSession(ctx, req.SessionID)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}

	in := service.ChatInput{
		Message:   req.Message,
		UseRAG:    req.UseRAG == nil || *req.UseRAG,
		NExamples: req.NExamples,
	}
	if in.NExamples <= 0 {
		in.NExamples = h.nExamples
	}

	result, err := therapist.Chat(ctx, in)
	if err != nil {
		h.logger.Error("chat failed", zap.String("session_id", req.SessionID), zap.Error(err))
		response.RespondDomainError(c, err)
		return
	}

	if err := h.registry.IncrementMessageCount(ctx, req.SessionID); err != nil {
		h.logger.Warn("failed to update session activity", zap.String("session_id", req.SessionID), zap.Error(err))
	}

	response.RespondOK(c, domain.ChatResponse{
		Response:    result.Response,
		SessionID:   req.SessionID,
		Timestamp:   result.Timestamp,
		SourcesUsed: result.SourcesUsed,
	})
}

func (h *Handler) GetHistory(c *gin.Context) {
	history, err := h.registry.GetSessionHistory(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondSessionError(c, err)
		return
	}

	response.RespondOK(c, history)
}

func (h *Handler) GetSummary(c *gin.Context) {
	sessionID := c.Param("session_id")

	therapist, err := h.registry.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}

	summary, err := therapist.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("summary failed", zap.String("session_id", sessionID), zap.Error(err))
		response.RespondDomainError(c, err)
		return
	}

	response.RespondOK(c, domain.SummaryResponse{Summary: summary, SessionID: sessionID})
}

// ResetConversation clears the in-memory conversation; the stored
// transcript is kept.
func (h *Handler) ResetConversation(c *gin.Context) {
	therapist, err := h.registry.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondSessionError(c, err)
		return
	}

	therapist.Reset()
	response.RespondOK(c, gin.H{"status": "success", "message": "Conversation reset"})
}

func (h *Handler) respondSessionError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "not_found", errSessionNotFound)
		return
	}
	response.RespondDomainError(c, err)
}
