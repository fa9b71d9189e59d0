package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// AuditEvent is one append-only record of a step transition attempt.
// Events are never updated or deleted.
type AuditEvent struct {
	ID         int64      `json:"id"`
	DocumentID string     `json:"document_id"`
	RunID      string     `json:"run_id"`
	Step       StepName   `json:"step"`
	Status     StepStatus `json:"status"`
	Message    string     `json:"message"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewAuditEvent creates an event stamped with the current time.
func NewAuditEvent(documentID, runID string, step StepName, status StepStatus, message string) *AuditEvent {
	return &AuditEvent{
		DocumentID: documentID,
		RunID:      runID,
		Step:       step,
		Status:     status,
		Message:    CleanText(message),
		CreatedAt:  time.Now(),
	}
}

// WithDetail attaches a detail payload, truncated to limit bytes when limit > 0.
func (e *AuditEvent) WithDetail(detail string, limit int) *AuditEvent {
	e.Detail = TruncateText(detail, limit)
	return e
}

// CleanText returns s as valid UTF-8 with NUL bytes removed, the form a
// Postgres text column accepts.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

// TruncateText cleans s and cuts it to at most limit bytes without splitting
// a rune. A limit <= 0 keeps the whole text.
func TruncateText(s string, limit int) string {
	s = CleanText(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
