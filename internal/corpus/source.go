package corpus

import (
	"context"
	"fmt"

	"github.com/liliang-cn/solace/internal/config"
	"github.com/liliang-cn/solace/internal/domain"
)

// Record is one raw row of a dataset split
type Record map[string]any

// Source yields the raw records of a dataset, split by split
type Source interface {
	Splits(ctx context.Context, dataset string) ([]string, error)
	Rows(ctx context.Context, dataset, split string) ([]Record, error)
}

// NewSource builds the source configured under rag.source
func NewSource(cfg config.RAGConfig) (Source, error) {
	switch cfg.Source {
	case "huggingface":
		return NewHuggingFaceSource(cfg.HFBaseURL, cfg.HFPageSize, cfg.HFToken), nil
	case "dir":
		return NewDirSource(cfg.SourceDir), nil
	default:
		return nil, fmt.Errorf("%w: unknown rag.source %q", domain.ErrInvalidRequest, cfg.Source)
	}
}
