package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

func setupQueue(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(client, "test-worker")
	require.NoError(t, err)
	return mr, client, q
}

func TestNewQueue_CreatesGroupPerQueue(t *testing.T) {
	mr, client, _ := setupQueue(t)

	for _, name := range domain.AllQueues() {
		assert.True(t, mr.Exists(streamKey(name)), "stream for %s", name)
	}

	// Creating the queue again is idempotent
	_, err := NewQueue(client, "second-worker")
	assert.NoError(t, err)

	_, err = NewQueue(nil, "x")
	assert.Error(t, err)
}

func TestQueue_RoutesByNamedQueue(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	fast := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	general := domain.NewStepTask("doc-1", "run-1", domain.StepExtractMetadata, false)
	require.NoError(t, q.Enqueue(ctx, fast))
	require.NoError(t, q.Enqueue(ctx, general))

	got, err := q.DequeueWithTimeout(ctx, domain.QueueManagement, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "management queue is empty")

	got, err = q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fast.ID, got.ID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	got, err = q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "a processing task is not handed out twice")

	got, err = q.DequeueWithTimeout(ctx, domain.QueueGeneral, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, general.ID, got.ID)
}

func TestQueue_Ack(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	task := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Queues[domain.QueueFast].Pending)
	assert.Zero(t, stats.Queues[domain.QueueFast].Processing)
	assert.Equal(t, int64(1), stats.CompletedCount)
}

func TestQueue_DelayedTaskWaitsUntilDue(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	task := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	task.DelayBy(80 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queues[domain.QueueFast].Scheduled)
	assert.Equal(t, int64(1), stats.ScheduledCount)

	got, err := q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "task is not due yet")

	time.Sleep(100 * time.Millisecond)
	got, err = q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestQueue_NackRetriesWithBackoffThenFails(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	task := domain.NewUploadTask("doc-1", "run-1", "archive")
	task.MaxAttempts = 2
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.DequeueWithTimeout(ctx, domain.QueueGeneral, 0)
	require.NoError(t, err)
	before := time.Now()
	require.NoError(t, q.Nack(ctx, task.ID, "503 from upstream"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Equal(t, "503 from upstream", stored.Error)
	assert.WithinDuration(t, before.Add(domain.RetryBackoff(1)), stored.ScheduledFor, time.Second)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queues[domain.QueueGeneral].Scheduled)
	assert.Zero(t, stats.Queues[domain.QueueGeneral].Processing)

	// Second and last attempt
	require.NoError(t, q.client.ZAdd(ctx, scheduledKey(domain.QueueGeneral), redis.Z{Score: 0, Member: task.ID}).Err())
	got, err := q.DequeueWithTimeout(ctx, domain.QueueGeneral, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, q.Nack(ctx, task.ID, "still failing"))
	stored, err = q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
}

func TestQueue_ClaimsAbandonedTask(t *testing.T) {
	_, client, q := setupQueue(t)
	ctx := context.Background()

	task := domain.NewStepTask("doc-1", "run-1", domain.StepOCR, false)
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)

	// The first consumer dies; a second one with no idle threshold reclaims
	rescuer, err := NewQueue(client, "rescuer")
	require.NoError(t, err)
	rescuer.claimTimeout = 0

	got, err := rescuer.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 2, got.Attempts)
}

func TestQueue_EnqueueBatch(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	now := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	later := domain.NewStepTask("doc-2", "run-2", domain.StepHash, false)
	later.DelayBy(time.Hour)
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{now, later}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queues[domain.QueueFast].Pending)
	assert.Equal(t, int64(1), stats.Queues[domain.QueueFast].Scheduled)

	bad := domain.NewTask(domain.TaskTypePipelineStep, "", nil)
	err = q.EnqueueBatch(ctx, []*domain.Task{domain.NewStepTask("doc-3", "run-3", domain.StepHash, false), bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{DocumentID: "doc-3"})
	require.NoError(t, err)
	assert.Empty(t, tasks, "a rejected batch writes nothing")
}

func TestQueue_ListTasks(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	a := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	b := domain.NewUploadTask("doc-1", "run-1", "archive")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c := domain.NewStepTask("doc-2", "run-2", domain.StepHash, false)
	for _, task := range []*domain.Task{a, b, c} {
		require.NoError(t, q.Enqueue(ctx, task))
	}

	tests := []struct {
		name   string
		filter driven.TaskFilter
		want   []string
	}{
		{"by document newest first", driven.TaskFilter{DocumentID: "doc-1"}, []string{b.ID, a.ID}},
		{"by queue", driven.TaskFilter{Queue: domain.QueueGeneral}, []string{b.ID}},
		{"by type", driven.TaskFilter{Type: domain.TaskTypeDestinationUpload}, []string{b.ID}},
		{"limit", driven.TaskFilter{DocumentID: "doc-1", Limit: 1}, []string{b.ID}},
		{"offset", driven.TaskFilter{DocumentID: "doc-1", Offset: 1}, []string{a.ID}},
		{"offset past end", driven.TaskFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := q.ListTasks(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(tasks))
			for _, task := range tasks {
				ids = append(ids, task.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestQueue_CancelTask(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	delayed := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	delayed.DelayBy(time.Hour)
	require.NoError(t, q.Enqueue(ctx, delayed))
	require.NoError(t, q.CancelTask(ctx, delayed.ID))

	stored, err := q.GetTask(ctx, delayed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "cancelled", stored.Error)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ScheduledCount)

	assert.Error(t, q.CancelTask(ctx, delayed.ID), "already cancelled")
	assert.ErrorIs(t, q.CancelTask(ctx, "missing"), domain.ErrNotFound)
}

func TestQueue_CancelledStreamEntryIsDropped(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	task := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.client.Del(ctx, taskKeyPrefix+task.ID).Err())

	got, err := q.DequeueWithTimeout(ctx, domain.QueueFast, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	length, err := q.client.XLen(ctx, streamKey(domain.QueueFast)).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueue_PurgeTasks(t *testing.T) {
	_, _, q := setupQueue(t)
	ctx := context.Background()

	old := domain.NewStepTask("doc-1", "run-1", domain.StepHash, false)
	fresh := domain.NewStepTask("doc-2", "run-2", domain.StepHash, false)
	pending := domain.NewStepTask("doc-3", "run-3", domain.StepHash, false)
	old.MarkCompleted()
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh.MarkCompleted()
	for _, task := range []*domain.Task{old, fresh, pending} {
		require.NoError(t, q.Enqueue(ctx, task))
	}

	n, err := q.PurgeTasks(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetTask(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = q.GetTask(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestQueue_GetTaskNotFound(t *testing.T) {
	_, _, q := setupQueue(t)
	_, err := q.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = q.Ack(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQueue_Ping(t *testing.T) {
	mr, _, q := setupQueue(t)
	assert.NoError(t, q.Ping(context.Background()))
	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
