package services

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
	"github.com/custodia-labs/docpipe/internal/extractors"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// goodText scores above the default quality threshold.
var goodText = strings.Repeat("The quarterly invoice lists every delivered item and its price.\n", 8)

// harness wires every service against in-memory stores and a temp layout.
type harness struct {
	docs      *mocks.MockDocumentStore
	steps     *mocks.MockStepStore
	audit     *mocks.MockAuditLog
	queue     *mocks.MockTaskQueue
	layout    *filestore.Layout
	dests     *mocks.MockDestinationSet
	health    *mocks.MockCredentialHealth
	ocr       *mocks.MockOCRProvider
	metadata  *mocks.MockMetadataExtractor
	tracker   *StepTracker
	registry  *StepRegistry
	orch      *Orchestrator
	pipeline  driving.PipelineService
	intake    driving.IntakeService
	archive   *mocks.MockDestination
	cloud     *mocks.MockDestination
	runIDs    int
	setupOpts harnessOptions
}

type harnessOptions struct {
	noOCR      bool
	noMetadata bool
	throttleT  int
}

type harnessOption func(*harnessOptions)

func withoutOCR() harnessOption      { return func(o *harnessOptions) { o.noOCR = true } }
func withoutMetadata() harnessOption { return func(o *harnessOptions) { o.noMetadata = true } }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var o harnessOptions
	for _, fn := range opts {
		fn(&o)
	}

	root := t.TempDir()
	layout := filestore.NewLayout(filepath.Join(root, "archive"), filepath.Join(root, "work"), filepath.Join(root, "processed"))
	require.NoError(t, layout.EnsureDirs())

	reg := extractors.NewRegistry()
	reg.Register(&extractors.PlainTextExtractor{})
	reg.Register(&extractors.MarkdownExtractor{})

	h := &harness{
		docs:      mocks.NewMockDocumentStore(),
		steps:     mocks.NewMockStepStore(),
		audit:     mocks.NewMockAuditLog(),
		queue:     mocks.NewMockTaskQueue(),
		layout:    layout,
		health:    &mocks.MockCredentialHealth{Unhealthy: map[string]bool{}},
		archive:   mocks.NewMockDestination("archive"),
		cloud:     mocks.NewMockDestination("cloud"),
		setupOpts: o,
	}
	h.dests = &mocks.MockDestinationSet{Destinations: []driven.Destination{h.archive, h.cloud}}

	var ocr driven.OCRProvider
	if !o.noOCR {
		h.ocr = &mocks.MockOCRProvider{Text: goodText, Quality: 0.95}
		ocr = h.ocr
	}
	var meta driven.MetadataExtractor
	if !o.noMetadata {
		h.metadata = &mocks.MockMetadataExtractor{Fields: map[string]string{"title": "Invoice 42", "document_type": "invoice"}}
		meta = h.metadata
	}

	h.tracker = NewStepTracker(StepTrackerConfig{Steps: h.steps, Audit: h.audit})
	h.registry = NewStepRegistry(h.steps, h.audit, nil)
	h.orch = NewOrchestrator(OrchestratorConfig{
		Documents:    h.docs,
		Tracker:      h.tracker,
		Registry:     h.registry,
		Queue:        h.queue,
		Layout:       layout,
		Extractors:   reg,
		OCR:          ocr,
		Metadata:     meta,
		Destinations: h.dests,
		Health:       h.health,
	})
	h.pipeline = NewPipelineService(PipelineServiceConfig{
		Documents:         h.docs,
		Steps:             h.steps,
		Tracker:           h.tracker,
		Registry:          h.registry,
		Orchestrator:      h.orch,
		Queue:             h.queue,
		Layout:            layout,
		Destinations:      h.dests,
		ThrottleThreshold: o.throttleT,
	})
	h.intake = NewIntakeService(IntakeServiceConfig{
		Documents: h.docs,
		Registry:  h.registry,
		Queue:     h.queue,
		Layout:    layout,
	})
	return h
}

// ingest admits content as a new document.
func (h *harness) ingest(t *testing.T, content, filename string) *domain.Document {
	t.Helper()
	res, err := h.intake.Ingest(context.Background(), bytes.NewBufferString(content), filename)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	return res.Documents[0]
}

// drain runs ready tasks the way the worker does until none are left.
// It returns the number of tasks processed.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	processed := 0
	for i := 0; i < 200; i++ {
		progressed := false
		for _, q := range domain.AllQueues() {
			task, err := h.queue.DequeueWithTimeout(ctx, q, 0)
			require.NoError(t, err)
			if task == nil {
				continue
			}
			progressed = true
			processed++

			var herr error
			switch task.Type {
			case domain.TaskTypePipelineStep:
				herr = h.orch.HandleStep(ctx, task)
			case domain.TaskTypeDestinationUpload:
				herr = h.orch.HandleUpload(ctx, task)
			}
			if herr != nil {
				require.NoError(t, h.queue.Nack(ctx, task.ID, herr.Error()))
			} else {
				require.NoError(t, h.queue.Ack(ctx, task.ID))
			}
		}
		if !progressed {
			return processed
		}
	}
	t.Fatal("pipeline did not settle")
	return processed
}

func (h *harness) status(t *testing.T, docID string) *domain.DocumentDetail {
	t.Helper()
	detail, err := h.pipeline.Status(context.Background(), docID)
	require.NoError(t, err)
	return detail
}

func (h *harness) stepStatus(t *testing.T, docID string, step domain.StepName) domain.StepStatus {
	t.Helper()
	rec, err := h.steps.Get(context.Background(), docID, step)
	require.NoError(t, err)
	return rec.Status
}

func (h *harness) doc(t *testing.T, id string) *domain.Document {
	t.Helper()
	doc, err := h.docs.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}
