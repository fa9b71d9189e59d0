package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven/mocks"
)

func TestDocumentService_GetAndList(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	svc := NewDocumentService(store, mocks.NewMockAuditLog())
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		doc := domain.NewDocument(fmt.Sprintf("hash-%d", i), fmt.Sprintf("f%d.pdf", i), "application/pdf", "/a", 10)
		doc.ID = fmt.Sprintf("doc-%d", i)
		doc.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Save(ctx, doc))
	}

	doc, err := svc.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "f1.pdf", doc.OriginalFilename)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	docs, err := svc.List(ctx, 0, -5)
	require.NoError(t, err)
	require.Len(t, docs, 3, "limit defaults and negative offset clamps")
	assert.Equal(t, "doc-2", docs[0].ID, "newest first")

	docs, err = svc.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
}

func TestDocumentService_Events(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	audit := mocks.NewMockAuditLog()
	svc := NewDocumentService(store, audit)
	ctx := context.Background()

	doc := domain.NewDocument("h", "a.txt", "text/plain", "/a", 1)
	require.NoError(t, store.Save(ctx, doc))
	require.NoError(t, audit.Append(ctx, domain.NewAuditEvent(doc.ID, "run-1", domain.StepHash, domain.StepStatusPending, "registered")))
	require.NoError(t, audit.Append(ctx, domain.NewAuditEvent(doc.ID, "run-1", domain.StepHash, domain.StepStatusInProgress, "started")))
	require.NoError(t, audit.Append(ctx, domain.NewAuditEvent("other", "run-9", domain.StepHash, domain.StepStatusPending, "registered")))

	events, err := svc.Events(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.StepStatusPending, events[0].Status)
	assert.Equal(t, domain.StepStatusInProgress, events[1].Status)

	_, err = svc.Events(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
