package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
)

// CorpusRepository is the ingestion ledger: one row per corpus recording
// how far its last ingestion run got.
type CorpusRepository struct {
	db *DB
}

// NewCorpusRepository creates a new corpus repository
func NewCorpusRepository(db *DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

// MarkIndexing records that an ingestion run started for a corpus
func (r *CorpusRepository) MarkIndexing(ctx context.Context, name string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO corpora (name, status, document_count, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(name) DO UPDATE SET status = excluded.status, last_error = NULL, updated_at = excluded.updated_at
	`, name, domain.CorpusStatusIndexing, now)
	return err
}

// MarkReady records a successful ingestion with its document count
func (r *CorpusRepository) MarkReady(ctx context.Context, name string, documentCount int) error {
	now := formatTime(time.Now())
	result, err := r.db.ExecContext(ctx, `
		UPDATE corpora SET status = ?, document_count = ?, last_error = NULL, last_ingested_at = ?, updated_at = ?
		WHERE name = ?
	`, domain.CorpusStatusReady, documentCount, now, now, name)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("corpus not found: %s", name)
	}
	return nil
}

// MarkFailed records a failed ingestion. Documents written before the
// failure stay indexed, so document_count keeps the partial total.
func (r *CorpusRepository) MarkFailed(ctx context.Context, name string, documentCount int, cause error) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE corpora SET status = ?, document_count = ?, last_error = ?, updated_at = ?
		WHERE name = ?
	`, domain.CorpusStatusFailed, documentCount, cause.Error(), formatTime(time.Now()), name)
	return err
}

// List retrieves all ledger entries
func (r *CorpusRepository) List(ctx context.Context) ([]*domain.CorpusRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, status, document_count, last_error, last_ingested_at, updated_at
		FROM corpora ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CorpusRecord
	for rows.Next() {
		record, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// LastIngestedAt returns the newest successful ingestion time, or nil if no
// corpus was ever ingested.
func (r *CorpusRepository) LastIngestedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT MAX(last_ingested_at) FROM corpora`).Scan(&last)
	if err != nil {
		return nil, err
	}
	if !last.Valid || last.String == "" {
		return nil, nil
	}
	t := parseTime(last.String)
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorpus(row rowScanner) (*domain.CorpusRecord, error) {
	record := &domain.CorpusRecord{}
	var lastError, lastIngested sql.NullString
	var updatedAt string

	if err := row.Scan(&record.Name, &record.Status, &record.DocumentCount,
		&lastError, &lastIngested, &updatedAt); err != nil {
		return nil, err
	}

	record.LastError = lastError.String
	record.UpdatedAt = parseTime(updatedAt)
	if lastIngested.Valid && lastIngested.String != "" {
		t := parseTime(lastIngested.String)
		record.LastIngestedAt = &t
	}

	return record, nil
}
