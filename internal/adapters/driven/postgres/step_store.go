package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.StepStore = (*StepStore)(nil)

// StepStore implements driven.StepStore using PostgreSQL.
//
// Writes to one (document, step) pair are serialized with a transaction-scoped
// advisory lock keyed by the pair, so concurrent workers never interleave a
// read-modify-write on the same row.
type StepStore struct {
	db  *DB
	now func() time.Time
}

// NewStepStore creates a new StepStore
func NewStepStore(db *DB) *StepStore {
	return &StepStore{db: db, now: time.Now}
}

func stepLockKey(documentID string, step domain.StepName) int64 {
	h := fnv.New64a()
	h.Write([]byte("docpipe:step:" + documentID + ":" + string(step)))
	return int64(h.Sum64())
}

const stepColumns = `document_id, step, kind, status, run_id, started_at, completed_at, error, updated_at`

// CreatePending inserts pending rows for steps that do not exist yet
func (s *StepStore) CreatePending(ctx context.Context, documentID, runID string, steps []domain.StepName) ([]domain.StepName, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	var created []domain.StepName
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO step_records (document_id, step, kind, status, run_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (document_id, step) DO NOTHING
		`
		now := s.now()
		for _, step := range steps {
			result, err := tx.ExecContext(ctx, query,
				documentID,
				string(step),
				string(step.Kind()),
				string(domain.StepStatusPending),
				runID,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert step %s: %w", step, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				created = append(created, step)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetStatus upserts the (document, step) row.
// A non-empty update.RunID must match the document's current run, otherwise
// domain.ErrSuperseded is returned and nothing is written.
func (s *StepStore) SetStatus(ctx context.Context, documentID string, step domain.StepName, update domain.StepUpdate) (*domain.StepRecord, error) {
	if !update.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, update.Status)
	}

	var rec *domain.StepRecord
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", stepLockKey(documentID, step)); err != nil {
			return fmt.Errorf("lock step row: %w", err)
		}

		if update.RunID != "" {
			var current string
			err := tx.QueryRowContext(ctx, `SELECT current_run_id FROM documents WHERE id = $1`, documentID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("read current run: %w", err)
			}
			if current != "" && current != update.RunID {
				return domain.ErrSuperseded
			}
		}

		existing, err := scanStepRecord(tx.QueryRowContext(ctx,
			`SELECT `+stepColumns+` FROM step_records WHERE document_id = $1 AND step = $2`,
			documentID, string(step),
		))
		switch {
		case err == sql.ErrNoRows:
			existing = &domain.StepRecord{DocumentID: documentID, Step: step, Kind: step.Kind()}
		case err != nil:
			return fmt.Errorf("read step row: %w", err)
		}

		if !existing.Matches(update) {
			return domain.ErrStepChanged
		}
		existing.Apply(update, s.now())

		query := `
			INSERT INTO step_records (` + stepColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (document_id, step) DO UPDATE SET
				status = EXCLUDED.status,
				run_id = EXCLUDED.run_id,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				error = EXCLUDED.error,
				updated_at = EXCLUDED.updated_at
		`
		_, err = tx.ExecContext(ctx, query,
			existing.DocumentID,
			string(existing.Step),
			string(existing.Kind),
			string(existing.Status),
			existing.RunID,
			NullTime(existing.StartedAt),
			NullTime(existing.CompletedAt),
			NullString(existing.Error),
			existing.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert step row: %w", err)
		}
		rec = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a single record
func (s *StepStore) Get(ctx context.Context, documentID string, step domain.StepName) (*domain.StepRecord, error) {
	rec, err := scanStepRecord(s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE document_id = $1 AND step = $2`,
		documentID, string(step),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all records for a document
func (s *StepStore) List(ctx context.Context, documentID string) ([]*domain.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE document_id = $1 ORDER BY step`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStepRecords(rows)
}

// ListStale returns in_progress records started before cutoff, oldest first
func (s *StepStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.StepRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM step_records
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3
	`, string(domain.StepStatusInProgress), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStepRecords(rows)
}

// CountDocumentsByStatus reduces every document's rows in one aggregate query
func (s *StepStore) CountDocumentsByStatus(ctx context.Context) (map[domain.OverallStatus]int64, error) {
	query := `
		SELECT
			COUNT(*),
			bool_or(status = 'failure' AND kind = 'main'),
			bool_or(status IN ('pending', 'in_progress')),
			bool_or(status = 'failure' AND kind = 'destination')
		FROM step_records
		GROUP BY document_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.OverallStatus]int64)
	for rows.Next() {
		var flags domain.StatusFlags
		if err := rows.Scan(&flags.Steps, &flags.MainFailed, &flags.Active, &flags.DestinationFailed); err != nil {
			return nil, err
		}
		counts[flags.Reduce()]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Documents without rows have not been initialized yet
	var bare int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents d
		WHERE NOT EXISTS (SELECT 1 FROM step_records r WHERE r.document_id = d.id)
	`).Scan(&bare)
	if err != nil {
		return nil, err
	}
	if bare > 0 {
		counts[domain.OverallPending] += bare
	}

	return counts, nil
}

// ListAllPendingDocuments returns documents whose every row is pending
func (s *StepStore) ListAllPendingDocuments(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id
		FROM step_records
		GROUP BY document_id
		HAVING bool_and(status = $1)
		ORDER BY document_id
		LIMIT $2
	`, string(domain.StepStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStepRecord(row rowScanner) (*domain.StepRecord, error) {
	var rec domain.StepRecord
	var startedAt, completedAt sql.NullTime
	var errStr sql.NullString

	err := row.Scan(
		&rec.DocumentID,
		&rec.Step,
		&rec.Kind,
		&rec.Status,
		&rec.RunID,
		&startedAt,
		&completedAt,
		&errStr,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.StartedAt = TimePtr(startedAt)
	rec.CompletedAt = TimePtr(completedAt)
	rec.Error = StringPtr(errStr)
	return &rec, nil
}

func scanStepRecords(rows *sql.Rows) ([]*domain.StepRecord, error) {
	var records []*domain.StepRecord
	for rows.Next() {
		rec, err := scanStepRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
