package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `
	id, content_hash, original_filename, size, mime_type,
	original_path, working_path, text_path, processed_path, sidecar_path,
	quality_score, text_source, metadata, parent_id, chunk_index,
	current_run_id, created_at, updated_at`

// Save creates or updates a document.
// A second document with an existing content hash returns domain.ErrAlreadyExists.
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}

	var quality sql.NullFloat64
	if doc.QualityScore != nil {
		quality = sql.NullFloat64{Float64: *doc.QualityScore, Valid: true}
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			working_path = EXCLUDED.working_path,
			text_path = EXCLUDED.text_path,
			processed_path = EXCLUDED.processed_path,
			sidecar_path = EXCLUDED.sidecar_path,
			quality_score = EXCLUDED.quality_score,
			text_source = EXCLUDED.text_source,
			metadata = EXCLUDED.metadata,
			current_run_id = EXCLUDED.current_run_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		doc.ID,
		doc.ContentHash,
		doc.OriginalFilename,
		doc.Size,
		doc.MimeType,
		doc.OriginalPath,
		doc.WorkingPath,
		doc.TextPath,
		doc.ProcessedPath,
		doc.SidecarPath,
		quality,
		string(doc.TextSource),
		metadataJSON,
		doc.ParentID,
		doc.ChunkIndex,
		doc.CurrentRunID,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return doc, err
}

// GetByHash retrieves a document by content hash
func (s *DocumentStore) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return doc, err
}

// List retrieves documents newest first
func (s *DocumentStore) List(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// SetRunID sets the document's current run identifier
func (s *DocumentStore) SetRunID(ctx context.Context, id, runID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET current_run_id = $1, updated_at = NOW() WHERE id = $2`,
		runID, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete deletes a document; step rows cascade, audit events are kept
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// Count returns total document count
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var quality sql.NullFloat64
	var textSource string
	var metadataJSON []byte

	err := row.Scan(
		&doc.ID,
		&doc.ContentHash,
		&doc.OriginalFilename,
		&doc.Size,
		&doc.MimeType,
		&doc.OriginalPath,
		&doc.WorkingPath,
		&doc.TextPath,
		&doc.ProcessedPath,
		&doc.SidecarPath,
		&quality,
		&textSource,
		&metadataJSON,
		&doc.ParentID,
		&doc.ChunkIndex,
		&doc.CurrentRunID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if quality.Valid {
		doc.QualityScore = &quality.Float64
	}
	doc.TextSource = domain.TextSource(textSource)
	doc.Metadata = make(map[string]string)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}
