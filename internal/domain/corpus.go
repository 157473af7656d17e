package domain

import "time"

// Corpus ingestion status (stored in the corpus ledger)
const (
	CorpusStatusIndexing = "indexing"
	CorpusStatusReady    = "ready"
	CorpusStatusFailed   = "failed"
)

// Corpus describes one source collection and how its text is assembled.
// Exactly one of TextColumn or TextColumns is expected to be set.
type Corpus struct {
	Name        string   `mapstructure:"name" json:"name"`
	TextColumn  string   `mapstructure:"text_column" json:"text_column,omitempty"`
	TextColumns []string `mapstructure:"text_columns" json:"text_columns,omitempty"`
}

// UsedColumns returns the columns consumed into the text field
func (c Corpus) UsedColumns() []string {
	if c.TextColumn != "" {
		return []string{c.TextColumn}
	}
	return c.TextColumns
}

// CorpusRecord is the ingestion ledger entry of a corpus
type CorpusRecord struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	DocumentCount  int        `json:"document_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastIngestedAt *time.Time `json:"last_ingested_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CorpusOutcome reports what one ingestion run did for one corpus
type CorpusOutcome struct {
	Corpus    string `json:"corpus"`
	Documents int    `json:"documents"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// IngestReport summarizes a full ingestion run
type IngestReport struct {
	Total    int             `json:"total"`
	Corpora  []CorpusOutcome `json:"corpora"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
}
