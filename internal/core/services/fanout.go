package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// fanOut registers a queue-to-X and upload-to-X step for every enabled
// destination and runs the queue-to-X steps concurrently.
func (o *Orchestrator) fanOut(ctx context.Context, doc *domain.Document, task *domain.Task) (*stepOutcome, error) {
	dests := o.destinations.Enabled()
	if len(dests) == 0 {
		return &stepOutcome{message: "no destinations enabled"}, nil
	}

	runID := task.RunID()
	var names []domain.StepName
	for _, d := range dests {
		names = append(names, domain.DestinationStepNames(d.Name())...)
	}
	if _, err := o.registry.AddDynamicSteps(ctx, doc.ID, runID, names); err != nil {
		return nil, domain.Transient(err)
	}

	failed := o.DispatchDestinations(ctx, doc, runID, dests)
	return &stepOutcome{
		message: fmt.Sprintf("fanned out to %d destinations, %d failed to queue", len(dests), failed),
	}, nil
}

// DispatchDestinations runs the queue-to-X step of each destination
// concurrently. Each destination's outcome is recorded on its own step, so
// one failing destination never blocks the others. Returns how many failed.
func (o *Orchestrator) DispatchDestinations(ctx context.Context, doc *domain.Document, runID string, dests []driven.Destination) int {
	results := make([]error, len(dests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.fanOutLimit)
	for i, d := range dests {
		i, d := i, d
		g.Go(func() error {
			results[i] = o.queueDestination(gctx, doc, runID, d)
			// Never cancel siblings
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	return failed
}

// queueDestination runs queue-to-X: it hands the upload to the general
// queue unless the destination's credential is known to be unhealthy.
func (o *Orchestrator) queueDestination(ctx context.Context, doc *domain.Document, runID string, dest driven.Destination) error {
	name := dest.Name()
	step := domain.QueueStepName(name)
	logger := o.logger.With("document_id", doc.ID, "run_id", runID, "step", step)

	if err := o.tracker.Begin(ctx, doc.ID, runID, step); err != nil {
		logger.Error("failed to start destination step", "error", err)
		return err
	}

	var stepErr error
	if credential := credentialName(dest); o.health != nil && !o.health.IsHealthy(credential) {
		stepErr = domain.Permanent(fmt.Errorf("%w: %s", domain.ErrCredentialUnhealthy, credential))
	} else if err := o.enqueueWithRetry(ctx, domain.NewUploadTask(doc.ID, runID, name)); err != nil {
		stepErr = domain.Transient(fmt.Errorf("enqueue upload: %w", err))
	}

	if stepErr != nil {
		logger.Warn("destination not queued", "error", stepErr)
		if err := o.tracker.Fail(ctx, doc.ID, runID, step, stepErr); err != nil {
			if !errors.Is(err, domain.ErrSuperseded) {
				logger.Error("failed to record destination failure", "error", err)
			}
			return stepErr
		}
		// The upload cannot run this attempt
		if err := o.tracker.Skip(ctx, doc.ID, runID, domain.UploadStepName(name), "not queued: "+string(step)+" failed"); err != nil && !errors.Is(err, domain.ErrSuperseded) {
			logger.Error("failed to skip upload step", "error", err)
		}
		return stepErr
	}

	if err := o.tracker.Succeed(ctx, doc.ID, runID, step, "upload queued", ""); err != nil {
		logger.Error("failed to record destination queued", "error", err)
		return err
	}
	return nil
}

// enqueueWithRetry retries a failed enqueue with doubling backoff until
// enqueueAttempts is spent or ctx ends.
func (o *Orchestrator) enqueueWithRetry(ctx context.Context, task *domain.Task) error {
	backoff := o.enqueueBackoff
	for attempt := 1; ; attempt++ {
		err := o.queue.Enqueue(ctx, task)
		if err == nil || attempt >= o.enqueueAttempts {
			return err
		}
		o.logger.Debug("enqueue failed, retrying", "task_id", task.ID, "attempt", attempt, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
}

// upload runs the body of upload-to-X.
func (o *Orchestrator) upload(ctx context.Context, doc *domain.Document, runID, name string) (*stepOutcome, error) {
	dest := o.destinations.Get(name)
	if dest == nil {
		return nil, domain.Permanent(fmt.Errorf("destination %q is not configured", name))
	}
	if doc.ProcessedPath == "" {
		return nil, domain.Permanent(errors.New("document has no processed output"))
	}

	err := dest.Upload(ctx, &driven.UploadRequest{
		Document:    doc,
		FilePath:    doc.ProcessedPath,
		SidecarPath: doc.SidecarPath,
		RunID:       runID,
	})
	if err != nil {
		return nil, err
	}
	return &stepOutcome{message: "uploaded to " + name}, nil
}

// credentialName is the credential a destination is gated on.
func credentialName(dest driven.Destination) string {
	if p, ok := dest.(driven.CredentialProbe); ok {
		return p.CredentialName()
	}
	return dest.Name()
}
