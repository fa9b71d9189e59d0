package postgres

import (
	"context"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.AuditLog = (*AuditLog)(nil)

// AuditLog implements driven.AuditLog on the append-only audit_events table
type AuditLog struct {
	db *DB
}

// NewAuditLog creates a new AuditLog
func NewAuditLog(db *DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append inserts an event and assigns its ID
func (a *AuditLog) Append(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (document_id, run_id, step, status, message, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return a.db.QueryRowContext(ctx, query,
		event.DocumentID,
		event.RunID,
		string(event.Step),
		string(event.Status),
		event.Message,
		event.Detail,
		event.CreatedAt,
	).Scan(&event.ID)
}

// ListEvents returns a document's events, oldest first
func (a *AuditLog) ListEvents(ctx context.Context, documentID string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT id, document_id, run_id, step, status, message, detail, created_at
		FROM audit_events
		WHERE document_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := a.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.RunID, &e.Step, &e.Status, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
