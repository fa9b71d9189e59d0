package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// PipelineHandler runs pipeline and upload tasks.
type PipelineHandler interface {
	HandleStep(ctx context.Context, task *domain.Task) error
	HandleUpload(ctx context.Context, task *domain.Task) error
}

// MaintenanceHandler runs management-queue tasks.
type MaintenanceHandler interface {
	Handle(ctx context.Context, task *domain.Task) error
}

// Lifecycle is a background component started and stopped with the worker.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DefaultConcurrency is the number of consumers per named queue.
var DefaultConcurrency = map[domain.QueueName]int{
	domain.QueueFast:       2,
	domain.QueueGeneral:    4,
	domain.QueueManagement: 1,
}

// Worker consumes the named queues. Each queue gets its own consumers so a
// backlog of heavy fast-queue steps never starves uploads or housekeeping.
type Worker struct {
	taskQueue   driven.TaskQueue
	pipeline    PipelineHandler
	maintenance MaintenanceHandler
	background  []Lifecycle
	logger      *slog.Logger

	// Configuration
	concurrency    map[domain.QueueName]int
	dequeueTimeout time.Duration
	errorBackoff   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue   driven.TaskQueue
	Pipeline    PipelineHandler
	Maintenance MaintenanceHandler
	// Background components (scheduler, credential monitor) run alongside the consumers
	Background     []Lifecycle
	Logger         *slog.Logger
	Concurrency    map[domain.QueueName]int // consumers per queue; a zero entry disables the queue
	DequeueTimeout time.Duration            // wait for a task before checking again (default: 5s)
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if len(concurrency) == 0 {
		concurrency = DefaultConcurrency
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		pipeline:       cfg.Pipeline,
		maintenance:    cfg.Maintenance,
		background:     cfg.Background,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   time.Second,
	}
}

// Start begins the consumer loops.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	for _, b := range w.background {
		if err := b.Start(ctx); err != nil {
			w.logger.Error("failed to start background component", "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, queue := range domain.AllQueues() {
		for i := 0; i < w.concurrency[queue]; i++ {
			wg.Add(1)
			go func(queue domain.QueueName, consumerID int) {
				defer wg.Done()
				w.processLoop(ctx, queue, consumerID)
			}(queue, i)
		}
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight tasks run to completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopCh)
	w.mu.Unlock()

	for _, b := range w.background {
		if err := b.Stop(ctx); err != nil {
			w.logger.Warn("failed to stop background component", "error", err)
		}
	}

	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
	return nil
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop consumes one named queue.
func (w *Worker) processLoop(ctx context.Context, queue domain.QueueName, consumerID int) {
	logger := w.logger.With("queue", queue, "consumer_id", consumerID)
	logger.Debug("consumer started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("consumer context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("consumer stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, queue, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(w.errorBackoff):
			case <-ctx.Done():
			}
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs one task and acknowledges it. Handler errors are
// retryable by contract; recorded step failures come back as nil.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With(
		"task_id", task.ID,
		"task_type", task.Type,
		"document_id", task.DocumentID(),
		"attempt", task.Attempts,
	)
	logger.Debug("processing task")

	startTime := time.Now()
	err := w.dispatch(ctx, task)
	duration := time.Since(startTime)

	if err != nil {
		logger.Warn("task failed", "duration", duration, "error", err)

		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Debug("task completed", "duration", duration)

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) dispatch(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTypePipelineStep:
		if task.DocumentID() == "" {
			return fmt.Errorf("document_id not found in task payload")
		}
		return w.pipeline.HandleStep(ctx, task)
	case domain.TaskTypeDestinationUpload:
		if task.DocumentID() == "" || task.Destination() == "" {
			return fmt.Errorf("document_id or destination not found in task payload")
		}
		return w.pipeline.HandleUpload(ctx, task)
	case domain.TaskTypeReconcileStale, domain.TaskTypePurgeTasks:
		if w.maintenance == nil {
			return fmt.Errorf("no maintenance handler for %s", task.Type)
		}
		return w.maintenance.Handle(ctx, task)
	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
