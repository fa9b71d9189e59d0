package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
)

// TaskQueue handles background task queuing across the named queues.
// Implementations can use Redis (preferred) or Postgres (fallback).
type TaskQueue interface {
	// Enqueue adds a task to the queue named by task.Queue.
	// A task whose ScheduledFor lies in the future is held until it is due.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch adds multiple tasks to the queue atomically.
	// If any task fails to enqueue, all tasks are rolled back.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// DequeueWithTimeout retrieves the next available task from the named queue,
	// waiting up to timeout. Returns nil, nil if nothing became available.
	// The task is marked as processing and will not be returned to other workers.
	DequeueWithTimeout(ctx context.Context, queue domain.QueueName, timeout time.Duration) (*domain.Task, error)

	// Ack acknowledges successful completion of a task.
	Ack(ctx context.Context, taskID string) error

	// Nack indicates task processing failed and should be retried.
	// The task is returned to its queue with backoff; once max attempts are
	// exhausted it is moved to failed state.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask retrieves a task by ID (for status checking).
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ListTasks retrieves tasks matching the filter criteria.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask marks a pending task as cancelled.
	// Returns error if task is already processing or completed.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks removes completed/failed tasks older than the given age.
	PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// TaskFilter specifies criteria for listing tasks
type TaskFilter struct {
	// Queue filters by named queue (optional)
	Queue domain.QueueName

	// Status filters by task status (optional, empty means all)
	Status domain.TaskStatus

	// Type filters by task type (optional, empty means all)
	Type domain.TaskType

	// DocumentID filters by payload document id (optional)
	DocumentID string

	// Limit is the maximum number of tasks to return
	Limit int

	// Offset is the number of tasks to skip (for pagination)
	Offset int
}

// QueueDepth is the per-queue breakdown of work.
type QueueDepth struct {
	// Pending tasks are ready to be picked up
	Pending int64 `json:"pending"`
	// Processing tasks are held by a worker (active)
	Processing int64 `json:"processing"`
	// Scheduled tasks are delayed by backoff or throttling (reserved)
	Scheduled int64 `json:"scheduled"`
}

// QueueStats contains queue statistics
type QueueStats struct {
	// PendingCount is the number of tasks waiting to be processed
	PendingCount int64 `json:"pending_count"`

	// ProcessingCount is the number of tasks currently being processed
	ProcessingCount int64 `json:"processing_count"`

	// ScheduledCount is the number of tasks held for a future time
	ScheduledCount int64 `json:"scheduled_count"`

	// CompletedCount is the number of successfully completed tasks
	CompletedCount int64 `json:"completed_count"`

	// FailedCount is the number of tasks that failed after all retries
	FailedCount int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest pending task in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`

	// Queues breaks the counts down per named queue
	Queues map[domain.QueueName]*QueueDepth `json:"queues"`
}

// Depth returns the entry for a queue, creating it if needed.
func (s *QueueStats) Depth(name domain.QueueName) *QueueDepth {
	if s.Queues == nil {
		s.Queues = make(map[domain.QueueName]*QueueDepth)
	}
	d, ok := s.Queues[name]
	if !ok {
		d = &QueueDepth{}
		s.Queues[name] = d
	}
	return d
}

// SchedulerStore persists the housekeeping schedule (stale-step sweeps,
// task purges). Rows are operator-editable configuration, not queue items.
type SchedulerStore interface {
	// GetScheduledTask retrieves a scheduled task by ID
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)

	// ListScheduledTasks retrieves all scheduled tasks ordered by next run
	ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// SaveScheduledTask creates or replaces a scheduled task
	SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error

	// CreateScheduledTask inserts task unless its ID already exists and
	// reports whether it was inserted. Existing rows are left untouched.
	CreateScheduledTask(ctx context.Context, task *domain.ScheduledTask) (bool, error)

	// ClaimDueScheduledTasks returns the enabled tasks due at now and moves
	// their next run one interval past now, so each due run is claimed once.
	ClaimDueScheduledTasks(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error)

	// RecordRun stores when a claimed task was enqueued and the enqueue error, if any.
	RecordRun(ctx context.Context, id string, at time.Time, runErr string) error
}
