package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/solace/internal/api/middleware"
	"github.com/liliang-cn/solace/internal/api/rag"
	"github.com/liliang-cn/solace/internal/api/session"
	"github.com/liliang-cn/solace/internal/service"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	AdminAPIKey  string
	AllowOrigins []string
	NExamples    int
}

// SessionCounter reports how many sessions the store holds
type SessionCounter interface {
	CountSessions(ctx context.Context) (int, error)
}

// SetupRouter sets up the Gin router
func SetupRouter(
	registry *service.SessionRegistry,
	retrieval *service.RetrievalService,
	store SessionCounter,
	logger *zap.Logger,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger.Named("http")))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		stored, err := store.CountSessions(c.Request.Context())
		if err != nil {
			logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "healthy",
			"active_sessions": registry.Len(),
			"stored_sessions": stored,
		})
	})

	sessionHandler := session.NewHandler(registry, cfg.NExamples, logger)
	sessionHandler.RegisterRoutes(api)

	// Retrieval API; ingestion requires the admin key
	ragHandler := rag.NewHandler(retrieval, logger)
	ragGroup := api.Group("/rag")
	ragHandler.RegisterRoutes(ragGroup)

	adminGroup := ragGroup.Group("")
	adminGroup.Use(middleware.AdminKey(cfg.AdminAPIKey))
	ragHandler.RegisterAdminRoutes(adminGroup)

	return r
}
