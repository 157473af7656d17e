// Package vectorstore holds the similarity-search collection the retrieval
// service writes during ingestion and reads on every RAG-enabled turn.
package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/liliang-cn/solace/internal/domain"
)

// Index is a persistent collection of embedded documents ranked by cosine
// distance. Upsert overwrites documents that share an id.
type Index interface {
	Upsert(ctx context.Context, docs []domain.IndexedDocument) error
	Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievedDocument, error)
	Count(ctx context.Context) (int, error)
	Peek(ctx context.Context, n int) ([]domain.IndexedDocument, error)
	Name() string
	Close() error
}

// CosineDistance returns 1 - cos(a, b). Mismatched or zero vectors are
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// documentMetadata merges the residual metadata with the source and split
// tags, which always win.
func documentMetadata(doc domain.IndexedDocument) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[domain.MetadataKeySource] = doc.Source
	meta[domain.MetadataKeySplit] = doc.Split
	return meta
}

func marshalMetadata(doc domain.IndexedDocument) ([]byte, error) {
	b, err := json.Marshal(documentMetadata(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) map[string]any {
	meta := map[string]any{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &meta); err != nil {
			return map[string]any{}
		}
	}
	return meta
}
