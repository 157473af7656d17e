package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
	_ "modernc.org/sqlite"
)

type cachedVector struct {
	id     string
	vector []float32
}

// SQLiteIndex is an embedded index: documents live in a SQLite file and
// queries rank every vector of the collection in process. Vectors are cached
// after the first query and the cache is dropped on every upsert.
type SQLiteIndex struct {
	db         *sql.DB
	collection string

	mu     sync.RWMutex
	cache  []cachedVector
	loaded bool
}

// NewSQLiteIndex opens (or creates) the index file and its collection table
func NewSQLiteIndex(dbPath, collection string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	return &SQLiteIndex{db: db, collection: collection}, nil
}

// Name returns the collection name
func (s *SQLiteIndex) Name() string { return s.collection }

// Upsert writes a batch in one transaction, overwriting existing ids
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []domain.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (collection, id, text, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, doc := range docs {
		meta, err := marshalMetadata(doc)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.collection, doc.ID, doc.Text, string(meta), encodeVector(doc.Embedding), now); err != nil {
			return fmt.Errorf("upsert %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.cache = nil
	s.loaded = false
	return nil
}

// Query returns the k documents closest to vector, closest first
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievedDocument, error) {
	if k < 1 {
		return nil, nil
	}

	cache, err := s.vectors(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id       string
		distance float64
	}
	candidates := make([]scored, 0, len(cache))
	for _, c := range cache {
		candidates = append(candidates, scored{id: c.id, distance: CosineDistance(vector, c.vector)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]any, 0, len(candidates)+1)
	ids = append(ids, s.collection)
	for _, c := range candidates {
		ids = append(ids, c.id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata FROM documents
		WHERE collection = ? AND id IN (?`+strings.Repeat(",?", len(candidates)-1)+`)
	`, ids...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]domain.RetrievedDocument, len(candidates))
	for rows.Next() {
		var doc domain.RetrievedDocument
		var meta sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Text, &meta); err != nil {
			return nil, err
		}
		doc.Metadata = unmarshalMetadata([]byte(meta.String))
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]domain.RetrievedDocument, 0, len(candidates))
	for _, c := range candidates {
		doc, ok := byID[c.id]
		if !ok {
			continue
		}
		doc.Distance = c.distance
		results = append(results, doc)
	}

	return results, nil
}

func (s *SQLiteIndex) vectors(ctx context.Context) ([]cachedVector, error) {
	s.mu.RLock()
	if s.loaded {
		cache := s.cache
		s.mu.RUnlock()
		return cache, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cache, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM documents WHERE collection = ?`, s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cache []cachedVector
	for rows.Next() {
		var c cachedVector
		var blob []byte
		if err := rows.Scan(&c.id, &blob); err != nil {
			return nil, err
		}
		if c.vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("document %s: %w", c.id, err)
		}
		cache = append(cache, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache = cache
	s.loaded = true
	return cache, nil
}

// Count returns the number of documents in the collection
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.collection).Scan(&count)
	return count, err
}

// Peek returns up to n documents without their embeddings
func (s *SQLiteIndex) Peek(ctx context.Context, n int) ([]domain.IndexedDocument, error) {
	if n < 1 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata FROM documents
		WHERE collection = ? ORDER BY rowid ASC LIMIT ?
	`, s.collection, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.IndexedDocument
	for rows.Next() {
		var doc domain.IndexedDocument
		var meta sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Text, &meta); err != nil {
			return nil, err
		}
		doc.Metadata = unmarshalMetadata([]byte(meta.String))
		doc.Source, _ = doc.Metadata[domain.MetadataKeySource].(string)
		doc.Split, _ = doc.Metadata[domain.MetadataKeySplit].(string)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
