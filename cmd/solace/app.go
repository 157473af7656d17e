package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/liliang-cn/solace/internal/config"
	"github.com/liliang-cn/solace/internal/corpus"
	"github.com/liliang-cn/solace/internal/provider"
	"github.com/liliang-cn/solace/internal/repository"
	"github.com/liliang-cn/solace/internal/service"
	"github.com/liliang-cn/solace/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds the components shared by every subcommand
type app struct {
	db        *repository.DB
	index     vectorstore.Index
	sessions  *repository.SessionRepository
	generator provider.Generator
	retrieval *service.RetrievalService
}

func (a *app) Close() error {
	return errors.Join(a.index.Close(), a.db.Close())
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger, withGenerator bool) (*app, error) {
	// Initialize database (sessions, transcripts and the corpus ledger)
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	index, err := openIndex(ctx, cfg.RAG)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	a := &app{
		db:       db,
		index:    index,
		sessions: repository.NewSessionRepository(db),
	}

	embedder, err := provider.NewEmbedder(ctx, cfg.LLM.EmbeddingProvider,
		provider.WithApiKey(cfg.LLM.APIKey),
		provider.WithBaseURL(cfg.LLM.BaseURL),
		provider.WithModel(cfg.LLM.EmbeddingModel),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if withGenerator {
		a.generator, err = provider.NewGenerator(ctx, cfg.LLM.Provider,
			provider.WithApiKey(cfg.LLM.APIKey),
			provider.WithBaseURL(cfg.LLM.BaseURL),
			provider.WithModel(cfg.LLM.Model),
			provider.WithSampling(cfg.LLM.Temperature, cfg.LLM.TopP, cfg.LLM.TopK),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
	}

	source, err := corpus.NewSource(cfg.RAG)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.retrieval = service.NewRetrievalService(
		cfg.RAG,
		index,
		embedder,
		source,
		repository.NewCorpusRepository(db),
		logger,
	)

	return a, nil
}

func openIndex(ctx context.Context, cfg config.RAGConfig) (vectorstore.Index, error) {
	switch cfg.Backend {
	case "pgvector":
		return vectorstore.NewPGVectorIndex(ctx, cfg.PostgresDSN, cfg.CollectionName, cfg.EmbeddingDim)
	default:
		return vectorstore.NewSQLiteIndex(cfg.DBPath, cfg.CollectionName)
	}
}
