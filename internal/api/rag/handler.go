package rag

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/solace/internal/api/response"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/service"
	"go.uber.org/zap"
)

const (
	defaultPeek = 3
	maxPeek     = 100
)

// Handler serves retrieval index operations
type Handler struct {
	retrieval *service.RetrievalService
	logger    *zap.Logger
}

// NewHandler creates a new retrieval handler
func NewHandler(retrieval *service.RetrievalService, logger *zap.Logger) *Handler {
	return &Handler{retrieval: retrieval, logger: logger.Named("api.rag")}
}

// RegisterRoutes registers the public read-only routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.GetStats)
	r.GET("/debug", h.Debug)
}

// RegisterAdminRoutes registers routes that mutate the index
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/initialize", h.Initialize)
}

// Initialize runs a full ingestion of the configured corpora. The run is
// detached from the request so a disconnecting client does not abort it
// midway.
func (h *Handler) Initialize(c *gin.Context) {
	report, err := h.retrieval.Ingest(context.WithoutCancel(c.Request.Context()))
	switch {
	case err == nil:
		response.RespondOK(c, gin.H{"status": "success", "message": "RAG system initialized", "report": report})
	case errors.Is(err, domain.ErrIngestion) && report != nil:
		h.logger.Warn("ingestion finished with failures", zap.Error(err))
		response.RespondOK(c, gin.H{"status": "partial", "message": "Some corpora failed to index", "report": report})
	default:
		h.logger.Error("ingestion failed", zap.Error(err))
		response.RespondDomainError(c, err)
	}
}

func (h *Handler) GetStats(c *gin.Context) {
	response.RespondOK(c, h.retrieval.Stats(c.Request.Context()))
}

// Debug returns the stats and a sample of n indexed documents
func (h *Handler) Debug(c *gin.Context) {
	n := defaultPeek
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("n must be a positive integer"))
			return
		}
		n = min(v, maxPeek)
	}

	response.RespondOK(c, h.retrieval.Peek(c.Request.Context(), n))
}
