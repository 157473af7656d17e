package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/solace/internal/config"
	"github.com/liliang-cn/solace/internal/corpus"
	"github.com/liliang-cn/solace/internal/domain"
	"github.com/liliang-cn/solace/internal/provider"
	"github.com/liliang-cn/solace/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CorpusLedger records per-corpus ingestion progress
type CorpusLedger interface {
	MarkIndexing(ctx context.Context, name string) error
	MarkReady(ctx context.Context, name string, documentCount int) error
	MarkFailed(ctx context.Context, name string, documentCount int, cause error) error
	LastIngestedAt(ctx context.Context) (*time.Time, error)
	List(ctx context.Context) ([]*domain.CorpusRecord, error)
}

// RetrievalService owns the vector index: it ingests the configured corpora
// and answers similarity queries.
type RetrievalService struct {
	cfg      config.RAGConfig
	index    vectorstore.Index
	embedder provider.Embedder
	source   corpus.Source
	ledger   CorpusLedger
	logger   *zap.Logger
	now      func() time.Time

	ingestMu sync.Mutex
}

// NewRetrievalService creates a retrieval service. source and ledger may be
// nil when the process never ingests.
func NewRetrievalService(
	cfg config.RAGConfig,
	index vectorstore.Index,
	embedder provider.Embedder,
	source corpus.Source,
	ledger CorpusLedger,
	logger *zap.Logger,
) *RetrievalService {
	return &RetrievalService{
		cfg:      cfg,
		index:    index,
		embedder: embedder,
		source:   source,
		ledger:   ledger,
		logger:   logger.Named("retrieval"),
		now:      time.Now,
	}
}

// Retrieve returns at most k documents closest to query, closest first.
// k <= 0 uses the configured default. Failures are logged and reported
// as an empty result.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, k int) []domain.RetrievedDocument {
	if k <= 0 {
		k = s.cfg.NResults
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		s.logger.Error("failed to embed query", zap.Error(err))
		return nil
	}

	docs, err := s.index.Query(ctx, vectors[0], k)
	if err != nil {
		s.logger.Error("failed to query index", zap.Error(err))
		return nil
	}

	if len(docs) > k {
		docs = docs[:k]
	}
	return docs
}

// Stats never fails: a count error yields zero documents and no timestamp
func (s *RetrievalService) Stats(ctx context.Context) domain.RetrievalStats {
	stats := domain.RetrievalStats{
		CollectionName: s.index.Name(),
		EmbeddingModel: s.embedder.Model(),
	}

	count, err := s.index.Count(ctx)
	if err != nil {
		s.logger.Error("failed to count documents", zap.Error(err))
		return stats
	}
	stats.DocumentCount = count

	if s.ledger != nil {
		last, err := s.ledger.LastIngestedAt(ctx)
		if err != nil {
			s.logger.Warn("failed to read corpus ledger", zap.Error(err))
		} else {
			stats.LastUpdated = last
		}
	}

	return stats
}

// Peek returns a sample of up to n indexed documents with the index stats
func (s *RetrievalService) Peek(ctx context.Context, n int) domain.IndexSample {
	sample := domain.IndexSample{
		Stats:     s.Stats(ctx),
		Corpora:   []*domain.CorpusRecord{},
		Documents: []domain.IndexedDocument{},
	}

	if s.ledger != nil {
		records, err := s.ledger.List(ctx)
		if err != nil {
			s.logger.Warn("failed to list corpus ledger", zap.Error(err))
		} else if records != nil {
			sample.Corpora = records
		}
	}

	docs, err := s.index.Peek(ctx, n)
	if err != nil {
		s.logger.Error("failed to peek index", zap.Error(err))
		return sample
	}
	if docs != nil {
		sample.Documents = docs
	}

	return sample
}

// Ingest indexes every configured corpus. A failing corpus is logged,
// marked failed and skipped; documents of other corpora stay indexed.
// The returned error joins the per-corpus *domain.IngestionError values.
// Only one run may be active at a time.
func (s *RetrievalService) Ingest(ctx context.Context) (*domain.IngestReport, error) {
	if s.source == nil || s.ledger == nil {
		return nil, fmt.Errorf("%w: no corpus source configured", domain.ErrInvalidRequest)
	}
	if !s.ingestMu.TryLock() {
		return nil, domain.ErrIngestionInProgress
	}
	defer s.ingestMu.Unlock()

	report := &domain.IngestReport{Started: s.now().UTC()}
	var errs []error

	for _, c := range s.cfg.Corpora {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		logger := s.logger.With(zap.String("corpus", c.Name))
		logger.Info("processing corpus")

		outcome, err := s.ingestCorpus(ctx, c)
		report.Total += outcome.Documents
		if err != nil {
			ierr := &domain.IngestionError{Corpus: c.Name, Err: err}
			outcome.Error = err.Error()
			errs = append(errs, ierr)
			logger.Error("corpus ingestion failed", zap.Int("indexed", outcome.Documents), zap.Error(err))

			if lerr := s.ledger.MarkFailed(context.WithoutCancel(ctx), c.Name, outcome.Documents, err); lerr != nil {
				logger.Warn("failed to record corpus failure", zap.Error(lerr))
			}
		} else {
			logger.Info("corpus indexed", zap.Int("documents", outcome.Documents), zap.Int("skipped", outcome.Skipped))

			if lerr := s.ledger.MarkReady(ctx, c.Name, outcome.Documents); lerr != nil {
				logger.Warn("failed to record corpus completion", zap.Error(lerr))
			}
		}

		report.Corpora = append(report.Corpora, outcome)
	}

	report.Finished = s.now().UTC()
	s.logger.Info("ingestion finished",
		zap.Int("documents", report.Total),
		zap.Int("corpora", len(report.Corpora)),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)

	return report, errors.Join(errs...)
}

// ingestCorpus normalizes every split of c and indexes the kept records
// in batches. Ids are "{corpus}-{ordinal}" over the kept records.
func (s *RetrievalService) ingestCorpus(ctx context.Context, c domain.Corpus) (domain.CorpusOutcome, error) {
	outcome := domain.CorpusOutcome{Corpus: c.Name}

	if err := s.ledger.MarkIndexing(ctx, c.Name); err != nil {
		return outcome, err
	}

	splits, err := s.source.Splits(ctx, c.Name)
	if err != nil {
		return outcome, fmt.Errorf("list splits: %w", err)
	}

	var docs []domain.IndexedDocument
	for _, split := range splits {
		rows, err := s.source.Rows(ctx, c.Name, split)
		if err != nil {
			return outcome, fmt.Errorf("load split %s: %w", split, err)
		}

		for _, rec := range rows {
			text, meta, ok := corpus.Normalize(c, split, rec, s.cfg.MinTextLength)
			if !ok {
				outcome.Skipped++
				continue
			}
			docs = append(docs, domain.IndexedDocument{
				ID:       fmt.Sprintf("%s-%d", c.Name, len(docs)),
				Text:     text,
				Source:   c.Name,
				Split:    split,
				Metadata: meta,
			})
		}
	}

	if len(docs) == 0 {
		return outcome, nil
	}

	indexed, err := s.indexBatches(ctx, docs)
	outcome.Documents = indexed
	return outcome, err
}

// indexBatches embeds and upserts docs in batches of BatchSize, running up
// to EmbedConcurrency batches at once. The first failure cancels the rest.
func (s *RetrievalService) indexBatches(ctx context.Context, docs []domain.IndexedDocument) (int, error) {
	batchSize := max(s.cfg.BatchSize, 1)

	var indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.EmbedConcurrency, 1))

	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, doc := range batch {
				texts[i] = doc.Text
			}

			vectors, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch at %s: %w", batch[0].ID, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embed batch at %s: got %d vectors for %d texts", batch[0].ID, len(vectors), len(batch))
			}

			for i := range batch {
				batch[i].Embedding = vectors[i]
			}

			if err := s.index.Upsert(gctx, batch); err != nil {
				return fmt.Errorf("write batch at %s: %w", batch[0].ID, err)
			}

			indexed.Add(int64(len(batch)))
			return nil
		})
	}

	err := g.Wait()
	return int(indexed.Load()), err
}
