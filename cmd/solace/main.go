package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/liliang-cn/solace/internal/api"
	"github.com/liliang-cn/solace/internal/config"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/service"
	"go.uber.org/zap"
)

var cli struct {
	Config string `help:"Path to config file" default:""`

	Serve  ServeCmd  `cmd:"" default:"1" help:"Run the HTTP API."`
	Ingest IngestCmd `cmd:"" help:"Index every configured corpus once and print the report."`
	Stats  StatsCmd  `cmd:"" help:"Print retrieval index statistics."`
	Peek   PeekCmd   `cmd:"" help:"Print a sample of indexed documents."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("solace"),
		kong.Description("Retrieval-grounded counselling chat service."),
	)

	// Load configuration
	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.NeedsAPIKey() && cfg.LLM.APIKey == "" {
		logger.Fatal("llm.api_key is not set (SOLACE_LLM_API_KEY)", zap.String("provider", cfg.LLM.Provider))
	}

	if err := kctx.Run(cfg, logger); err != nil {
		logger.Fatal("Command failed", zap.String("command", kctx.Command()), zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}

	return zcfg.Build()
}

// ServeCmd runs the HTTP adapter until SIGINT/SIGTERM
type ServeCmd struct{}

func (c *ServeCmd) Run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	app, err := bootstrap(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer app.Close()

	registry := service.NewSessionRegistry(app.sessions, app.generator, app.retrieval, service.TherapistConfig{
		MaxHistory:  cfg.Chat.MaxHistory,
		MaxAttempts: cfg.Chat.MaxAttempts,
		MaxBackoff:  cfg.Chat.MaxBackoff,
		CallTimeout: cfg.LLM.CallTimeout,
		TurnTimeout: cfg.TurnTimeout(),
		NExamples:   cfg.RAG.NResults,
	}, logger)

	// Setup router
	router := api.SetupRouter(registry, app.retrieval, app.sessions, logger, api.RouterConfig{
		AdminAPIKey:  cfg.Admin.APIKey,
		AllowOrigins: cfg.Server.AllowOrigins,
		NExamples:    cfg.RAG.NResults,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Solace server",
			zap.String("address", cfg.Address()),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
			zap.String("rag_backend", cfg.RAG.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

// IngestCmd indexes the configured corpora from the command line
type IngestCmd struct{}

func (c *IngestCmd) Run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.retrieval.Ingest(ctx)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	if err != nil && !errors.Is(err, domain.ErrIngestion) {
		return err
	}

	if perr := printJSON(app.retrieval.Stats(ctx)); perr != nil {
		return perr
	}
	return err
}

// StatsCmd prints the index statistics
type StatsCmd struct{}

func (c *StatsCmd) Run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	app, err := bootstrap(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	return printJSON(app.retrieval.Stats(ctx))
}

// PeekCmd prints a sample of indexed documents
type PeekCmd struct {
	N int `short:"n" help:"Number of documents to show." default:"3"`
}

func (c *PeekCmd) Run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	app, err := bootstrap(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	return printJSON(app.retrieval.Peek(ctx, c.N))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
