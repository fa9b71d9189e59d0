package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

func TestPipeline_ReprocessStartsNewRun(t *testing.T) {
	h := newHarness(t)
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)

	handle, err := h.pipeline.Reprocess(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, doc.CurrentRunID, handle.RunID)
	assert.Equal(t, handle.RunID, h.doc(t, doc.ID).CurrentRunID)

	// Every static and destination step is back to pending under the new run
	records, err := h.steps.List(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, records, 12)
	for _, r := range records {
		assert.Equal(t, domain.StepStatusPending, r.Status, r.Step)
		assert.Equal(t, handle.RunID, r.RunID, r.Step)
	}
	assert.Equal(t, domain.OverallProcessing, h.status(t, doc.ID).OverallStatus)

	last := h.queue.Tasks()[len(h.queue.Tasks())-1]
	assert.Equal(t, domain.StepHash, last.Step())
	assert.Equal(t, handle.RunID, last.RunID())

	h.drain(t)
	assert.Equal(t, domain.OverallCompleted, h.status(t, doc.ID).OverallStatus)
	assert.Equal(t, 2, h.archive.Uploads())
}

func TestPipeline_ReprocessCancelsQueuedTasksOfEarlierRun(t *testing.T) {
	h := newHarness(t)
	doc := h.ingest(t, goodText, "invoice.txt")
	queued := h.queue.Tasks()
	require.NotEmpty(t, queued)
	stale := queued[len(queued)-1]
	require.Equal(t, domain.TaskStatusPending, stale.Status)

	handle, err := h.pipeline.Reprocess(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, h.queue.Cancelled())
	assert.Equal(t, domain.TaskStatusFailed, stale.Status)
	assert.Equal(t, "cancelled", stale.Error)

	h.drain(t)
	assert.Equal(t, domain.OverallCompleted, h.status(t, doc.ID).OverallStatus)
	assert.Equal(t, handle.RunID, h.doc(t, doc.ID).CurrentRunID)
}

func TestPipeline_ReprocessWithMissingOriginalMutatesNothing(t *testing.T) {
	h := newHarness(t)
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)
	require.NoError(t, os.Remove(doc.OriginalPath))

	before := h.audit.Len()
	tasks := len(h.queue.Tasks())

	_, err := h.pipeline.Reprocess(context.Background(), doc.ID)
	var missing *domain.OriginalMissingError
	require.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, domain.ErrOriginalMissing)
	assert.Equal(t, doc.ID, missing.DocumentID)

	assert.Equal(t, doc.CurrentRunID, h.doc(t, doc.ID).CurrentRunID)
	assert.Equal(t, before, h.audit.Len())
	assert.Len(t, h.queue.Tasks(), tasks)
	assert.Equal(t, domain.OverallCompleted, h.status(t, doc.ID).OverallStatus)
}

func TestPipeline_ReprocessUnknownDocument(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Reprocess(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_ReprocessOCRForcesOCR(t *testing.T) {
	h := newHarness(t)
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)
	require.Equal(t, domain.StepStatusSkipped, h.stepStatus(t, doc.ID, domain.StepOCR))

	handle, err := h.pipeline.ReprocessOCR(context.Background(), doc.ID)
	require.NoError(t, err)

	// Steps before OCR are untouched
	assert.Equal(t, domain.StepStatusSuccess, h.stepStatus(t, doc.ID, domain.StepQualityCheck))
	assert.Equal(t, domain.StepStatusPending, h.stepStatus(t, doc.ID, domain.StepOCR))
	assert.FileExists(t, h.doc(t, doc.ID).WorkingPath, "a fresh working copy is prepared")

	last := h.queue.Tasks()[len(h.queue.Tasks())-1]
	assert.Equal(t, domain.StepOCR, last.Step())
	assert.True(t, last.ForceOCR())
	assert.Equal(t, handle.RunID, last.RunID())

	h.drain(t)
	assert.Equal(t, domain.StepStatusSuccess, h.stepStatus(t, doc.ID, domain.StepOCR), "quality skip is bypassed")
	assert.Equal(t, 1, h.ocr.Calls)
	detail := h.status(t, doc.ID)
	assert.Equal(t, domain.OverallCompleted, detail.OverallStatus)
	require.NotEmpty(t, detail.Tasks)
	for _, task := range detail.Tasks {
		assert.Equal(t, doc.ID, task.DocumentID())
	}
}

func TestPipeline_RetryDestinations(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.cloud.UploadFn = func(*driven.UploadRequest) error {
		calls++
		if calls == 1 {
			return domain.Permanent(errors.New("quota exceeded"))
		}
		return nil
	}
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)
	require.Equal(t, domain.OverallCompletedWithErrors, h.status(t, doc.ID).OverallStatus)

	auditBefore := h.audit.Len()
	retried, err := h.pipeline.RetryDestinations(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud"}, retried)

	// Main steps and the healthy destination are untouched
	for _, e := range mustEvents(t, h, doc.ID)[auditBefore:] {
		assert.Equal(t, "cloud", e.Step.Destination(), e.Step)
	}
	assert.Equal(t, domain.StepStatusSuccess, h.stepStatus(t, doc.ID, domain.QueueStepName("cloud")))
	assert.Equal(t, domain.StepStatusPending, h.stepStatus(t, doc.ID, domain.UploadStepName("cloud")))

	h.drain(t)
	assert.Equal(t, domain.OverallCompleted, h.status(t, doc.ID).OverallStatus)
	assert.Equal(t, 1, h.archive.Uploads())
	assert.Equal(t, 2, h.cloud.Uploads())
}

func TestPipeline_RetryDestinationsNothingFailed(t *testing.T) {
	h := newHarness(t)
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)

	retried, err := h.pipeline.RetryDestinations(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, retried)
}

func TestPipeline_RetryDestinationsNoLongerEnabled(t *testing.T) {
	h := newHarness(t)
	h.cloud.UploadFn = func(*driven.UploadRequest) error { return domain.Permanent(errors.New("gone")) }
	doc := h.ingest(t, goodText, "invoice.txt")
	h.drain(t)

	h.dests.Destinations = []driven.Destination{h.archive}
	_, err := h.pipeline.RetryDestinations(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipeline_SubmitBatchUnderThreshold(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, h.ingest(t, fmt.Sprintf("%s %d", goodText, i), fmt.Sprintf("doc%d.txt", i)).ID)
	}

	result, err := h.pipeline.SubmitBatch(context.Background(), driving.BatchRequest{DocumentIDs: ids})
	require.NoError(t, err)
	assert.False(t, result.Throttled)
	assert.Zero(t, result.Spread)
	require.Len(t, result.Entries, 3)
	for _, e := range result.Entries {
		assert.Empty(t, e.Error)
		assert.NotEmpty(t, e.RunID)
		assert.Zero(t, e.Delay)
	}
}

func TestPipeline_SubmitBatchThrottled(t *testing.T) {
	h := newHarness(t)
	h.pipeline = NewPipelineService(PipelineServiceConfig{
		Documents:         h.docs,
		Steps:             h.steps,
		Tracker:           h.tracker,
		Registry:          h.registry,
		Orchestrator:      h.orch,
		Queue:             h.queue,
		Layout:            h.layout,
		Destinations:      h.dests,
		ThrottleThreshold: 2,
		ThrottleDelay:     3 * time.Second,
	})

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.ingest(t, fmt.Sprintf("%s %d", goodText, i), fmt.Sprintf("doc%d.txt", i)).ID)
	}
	ids = append(ids, ids[0], "missing")

	result, err := h.pipeline.SubmitBatch(context.Background(), driving.BatchRequest{DocumentIDs: ids})
	require.NoError(t, err)
	assert.True(t, result.Throttled)
	require.Len(t, result.Entries, 5, "duplicates are removed")
	assert.Equal(t, 12*time.Second, result.Spread)

	for i, e := range result.Entries {
		assert.Equal(t, time.Duration(i)*3*time.Second, e.Delay)
	}
	assert.NotEmpty(t, result.Entries[4].Error, "a bad document does not fail the batch")

	// Queued first-step tasks are delayed by their entry's delay
	byDoc := map[string]*domain.Task{}
	for _, task := range h.queue.Tasks() {
		byDoc[task.DocumentID()] = task
	}
	for _, e := range result.Entries[:4] {
		task := byDoc[e.DocumentID]
		require.NotNil(t, task)
		assert.Equal(t, e.RunID, task.RunID())
		assert.Equal(t, e.Delay, task.ScheduledFor.Sub(task.CreatedAt))
	}
}

func TestPipeline_SubmitBatchAllPending(t *testing.T) {
	h := newHarness(t)
	pending := h.ingest(t, goodText, "a.txt")
	done := h.ingest(t, goodText+"!", "b.txt")
	require.NoError(t, h.tracker.Succeed(context.Background(), done.ID, done.CurrentRunID, domain.StepHash, "ok", ""))

	result, err := h.pipeline.SubmitBatch(context.Background(), driving.BatchRequest{AllPending: true})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, pending.ID, result.Entries[0].DocumentID)
}

func TestPipeline_SubmitBatchEmpty(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.SubmitBatch(context.Background(), driving.BatchRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipeline_QueueHealth(t *testing.T) {
	h := newHarness(t)
	monitor := NewCredentialMonitor(CredentialMonitorConfig{})
	monitor.Check(context.Background(), h.archive)
	h.pipeline = NewPipelineService(PipelineServiceConfig{
		Documents: h.docs,
		Steps:     h.steps,
		Queue:     h.queue,
		Layout:    h.layout,
		Monitor:   monitor,
	})

	h.ingest(t, goodText, "a.txt")
	h.drain(t)
	h.ingest(t, goodText+"!", "b.txt")

	health, err := h.pipeline.QueueHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.Documents[domain.OverallCompleted])
	assert.Equal(t, int64(1), health.Documents[domain.OverallProcessing])
	assert.Equal(t, int64(1), health.Queue.PendingCount)
	require.Len(t, health.Credentials, 1)
	assert.True(t, health.Credentials[0].Healthy)
}

func TestPipeline_QueueHealthStatsError(t *testing.T) {
	h := newHarness(t)
	h.queue.StatsFn = func() (*driven.QueueStats, error) { return nil, errors.New("redis down") }

	_, err := h.pipeline.QueueHealth(context.Background())
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}

func mustEvents(t *testing.T, h *harness, docID string) []*domain.AuditEvent {
	t.Helper()
	events, err := h.audit.ListEvents(context.Background(), docID)
	require.NoError(t, err)
	return events
}
