package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// QueueName identifies one of the named work queues.
type QueueName string

const (
	// QueueFast carries the heavy document-processing steps
	QueueFast QueueName = "fast"
	// QueueGeneral carries metadata, storage and upload steps
	QueueGeneral QueueName = "general"
	// QueueManagement carries housekeeping work (reconcile, purge)
	QueueManagement QueueName = "management"
)

// AllQueues lists every named queue in consumption priority order.
func AllQueues() []QueueName {
	return []QueueName{QueueFast, QueueGeneral, QueueManagement}
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypePipelineStep runs one static pipeline step for a document
	TaskTypePipelineStep TaskType = "pipeline_step"
	// TaskTypeDestinationUpload runs the upload-to-X step for one destination
	TaskTypeDestinationUpload TaskType = "destination_upload"
	// TaskTypeReconcileStale sweeps step records stuck in progress
	TaskTypeReconcileStale TaskType = "reconcile_stale"
	// TaskTypePurgeTasks removes old finished tasks from the queue
	TaskTypePurgeTasks TaskType = "purge_tasks"
)

// Payload keys shared by producers and consumers.
const (
	PayloadDocumentID  = "document_id"
	PayloadRunID       = "run_id"
	PayloadStep        = "step"
	PayloadDestination = "destination"
	PayloadForceOCR    = "force_ocr"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// Queue is the named queue the task is routed to
	Queue QueueName `json:"queue"`

	// Payload contains task-specific data, keyed by the Payload* constants
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task becomes eligible for dequeue.
	// Throttled batch submissions set it in the future.
	ScheduledFor time.Time `json:"scheduled_for"`
}

// DefaultMaxAttempts is the attempt budget given to new tasks.
// Set once at startup from configuration.
var DefaultMaxAttempts = 3

// NewTask creates a new task with default values
func NewTask(taskType TaskType, queue QueueName, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		Queue:        queue,
		Payload:      payload,
		Status:       TaskStatusPending,
		Attempts:     0,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewStepTask creates a task that runs a static step of a document's pipeline.
func NewStepTask(documentID, runID string, step StepName, forceOCR bool) *Task {
	payload := map[string]string{
		PayloadDocumentID: documentID,
		PayloadRunID:      runID,
		PayloadStep:       string(step),
	}
	if forceOCR {
		payload[PayloadForceOCR] = "true"
	}
	return NewTask(TaskTypePipelineStep, QueueForStep(step), payload)
}

// NewUploadTask creates a task that uploads a finished document to one destination.
func NewUploadTask(documentID, runID, destination string) *Task {
	return NewTask(TaskTypeDestinationUpload, QueueGeneral, map[string]string{
		PayloadDocumentID:  documentID,
		PayloadRunID:       runID,
		PayloadDestination: destination,
	})
}

// DocumentID extracts the document_id from the payload
func (t *Task) DocumentID() string {
	return t.payload(PayloadDocumentID)
}

// RunID extracts the run_id from the payload
func (t *Task) RunID() string {
	return t.payload(PayloadRunID)
}

// Step extracts the step name from the payload
func (t *Task) Step() StepName {
	return StepName(t.payload(PayloadStep))
}

// Destination extracts the destination name from the payload
func (t *Task) Destination() string {
	return t.payload(PayloadDestination)
}

// ForceOCR reports whether the run bypasses the quality-based OCR skip
func (t *Task) ForceOCR() bool {
	v, _ := strconv.ParseBool(t.payload(PayloadForceOCR))
	return v
}

func (t *Task) payload(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

// DelayBy pushes the task's eligibility into the future.
func (t *Task) DelayBy(d time.Duration) {
	if d <= 0 {
		return
	}
	t.ScheduledFor = t.CreatedAt.Add(d)
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && !time.Now().Before(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err
	t.ScheduledFor = now.Add(RetryBackoff(t.Attempts))
}

// RetryBackoff returns the delay before the next attempt: 1s, 2s, 4s, ... capped at 5 minutes.
func RetryBackoff(attempts int) time.Duration {
	if attempts > 16 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

// ScheduledTask represents a recurring management task configuration
type ScheduledTask struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      TaskType      `json:"type"`
	Interval  time.Duration `json:"interval"`
	Enabled   bool          `json:"enabled"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	NextRun   time.Time     `json:"next_run"`
	LastError string        `json:"last_error,omitempty"`
}

// NewScheduledTask creates a new scheduled task
func NewScheduledTask(id, name string, taskType TaskType, interval time.Duration) *ScheduledTask {
	return &ScheduledTask{
		ID:       id,
		Name:     name,
		Type:     taskType,
		Interval: interval,
		Enabled:  true,
		NextRun:  time.Now().Add(interval),
	}
}

// IsDue returns true if the scheduled task should be triggered
func (s *ScheduledTask) IsDue() bool {
	return s.Enabled && !time.Now().Before(s.NextRun)
}

// DefaultScheduledTasks returns the housekeeping schedule.
func DefaultScheduledTasks(reconcileEvery, purgeEvery time.Duration) []*ScheduledTask {
	return []*ScheduledTask{
		NewScheduledTask("stale-step-sweep", "Stale Step Sweep", TaskTypeReconcileStale, reconcileEvery),
		NewScheduledTask("task-purge", "Finished Task Purge", TaskTypePurgeTasks, purgeEvery),
	}
}
