package domain

import "time"

// Metadata keys every indexed document carries
const (
	MetadataKeySource = "source"
	MetadataKeySplit  = "split"
)

// IndexedDocument is one embedded text chunk stored in the vector index.
// ID is "{source}-{ordinal}" so re-ingesting a corpus overwrites in place.
type IndexedDocument struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Split     string         `json:"split"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
}

// RetrievedDocument is a nearest-neighbour hit. Distance is cosine distance,
// smaller is closer.
type RetrievedDocument struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// Source returns the corpus the hit came from
func (d RetrievedDocument) Source() string {
	if d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata[MetadataKeySource].(string)
	return s
}

// RetrievalStats is read-only introspection over the vector index
type RetrievalStats struct {
	DocumentCount  int        `json:"document_count"`
	CollectionName string     `json:"collection_name"`
	EmbeddingModel string     `json:"embedding_model"`
	LastUpdated    *time.Time `json:"last_updated"`
}

// IndexSample is a small peek into the index for debugging, alongside the
// ingestion ledger
type IndexSample struct {
	Stats     RetrievalStats    `json:"stats"`
	Corpora   []*CorpusRecord   `json:"corpora"`
	Documents []IndexedDocument `json:"sample"`
}
