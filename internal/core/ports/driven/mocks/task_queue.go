package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*MockTaskQueue)(nil)

// MockTaskQueue records enqueued tasks and serves them back in FIFO order per queue.
type MockTaskQueue struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	order     []string
	acked     []string
	nacked    []string
	cancelled int
	Enqueued  []*domain.Task

	EnqueueFn func(task *domain.Task) error
	DequeueFn func(queue domain.QueueName) (*domain.Task, error)
	AckFn     func(taskID string) error
	NackFn    func(taskID, reason string) error
	StatsFn   func() (*driven.QueueStats, error)
	PingFn    func() error
}

// NewMockTaskQueue creates a new MockTaskQueue
func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{tasks: make(map[string]*domain.Task)}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(task); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	m.Enqueued = append(m.Enqueued, task)
	return nil
}

func (m *MockTaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	for _, t := range tasks {
		if err := m.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, queue domain.QueueName, timeout time.Duration) (*domain.Task, error) {
	if m.DequeueFn != nil {
		return m.DequeueFn(queue)
	}
	if t := m.next(queue); t != nil {
		return t, nil
	}

	// Nothing ready: wait briefly so consumer loops do not spin
	wait := 10 * time.Millisecond
	if timeout < wait {
		wait = timeout
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (m *MockTaskQueue) next(queue domain.QueueName) *domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		t, ok := m.tasks[id]
		if ok && t.Queue == queue && t.IsReady() {
			t.MarkProcessing()
			return t
		}
	}
	return nil
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID string) error {
	if m.AckFn != nil {
		if err := m.AckFn(taskID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.MarkCompleted()
	}
	m.acked = append(m.acked, taskID)
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	if m.NackFn != nil {
		if err := m.NackFn(taskID, reason); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		if t.CanRetry() {
			t.Retry(reason)
		} else {
			t.MarkFailed(reason)
		}
	}
	m.nacked = append(m.nacked, taskID)
	return nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *MockTaskQueue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for i := len(m.order) - 1; i >= 0; i-- {
		t, ok := m.tasks[m.order[i]]
		if !ok {
			continue
		}
		if filter.Queue != "" && t.Queue != filter.Queue {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.DocumentID != "" && t.DocumentID() != filter.DocumentID {
			continue
		}
		out = append(out, t)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockTaskQueue) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return fmt.Errorf("task %s is %s", taskID, t.Status)
	}
	t.Status = domain.TaskStatusFailed
	t.Error = "cancelled"
	m.cancelled++
	return nil
}

// Cancelled reports how many tasks CancelTask has cancelled.
func (m *MockTaskQueue) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *MockTaskQueue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, t := range m.tasks {
		done := t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed
		if done && t.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *MockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	now := time.Now()
	for _, t := range m.tasks {
		d := stats.Depth(t.Queue)
		switch t.Status {
		case domain.TaskStatusPending:
			if t.ScheduledFor.After(now) {
				stats.ScheduledCount++
				d.Scheduled++
			} else {
				stats.PendingCount++
				d.Pending++
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
			d.Processing++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockTaskQueue) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockTaskQueue) Close() error { return nil }

// Tasks returns a snapshot of enqueued tasks in order.
func (m *MockTaskQueue) Tasks() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Task(nil), m.Enqueued...)
}

// Acked returns acknowledged task IDs.
func (m *MockTaskQueue) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// Nacked returns negatively acknowledged task IDs.
func (m *MockTaskQueue) Nacked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nacked...)
}
