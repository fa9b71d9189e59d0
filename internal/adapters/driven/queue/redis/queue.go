package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

const (
	// Key prefixes; each named queue gets its own stream and delay set
	streamPrefix    = "docpipe:queue:"
	scheduledPrefix = "docpipe:scheduled:"
	taskKeyPrefix   = "docpipe:task:"
	taskGroup       = "docpipe:workers"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// Claim timeout - how long before a task is considered abandoned
	claimTimeout = 5 * time.Minute

	// taskTTL bounds how long task bodies outlive their last update
	taskTTL = 24 * time.Hour
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue using Redis Streams.
// Ready tasks live in one stream per named queue, read through a shared
// consumer group; delayed tasks wait in a per-queue sorted set scored by
// their due time and are promoted into the stream on dequeue.
type Queue struct {
	client       *redis.Client
	consumerName string
	claimTimeout time.Duration
}

// NewQueue creates a new Redis-backed task queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(client *redis.Client, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
		claimTimeout: claimTimeout,
	}

	// Create consumer groups if they don't exist
	ctx := context.Background()
	for _, name := range domain.AllQueues() {
		err := q.client.XGroupCreateMkStream(ctx, streamKey(name), taskGroup, "0").Err()
		if err != nil && !isGroupExistsError(err) {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", name, err)
		}
	}

	return q, nil
}

func streamKey(queue domain.QueueName) string {
	return streamPrefix + string(queue)
}

func scheduledKey(queue domain.QueueName) string {
	return scheduledPrefix + string(queue)
}

func msgKey(taskID string) string {
	return taskKeyPrefix + taskID + ":msg"
}

func streamValues(task *domain.Task) map[string]interface{} {
	return map[string]interface{}{
		"task_id":  task.ID,
		"type":     string(task.Type),
		"priority": task.Priority,
	}
}

// stage adds the task body and its stream or delay-set entry to a pipeline.
func stage(ctx context.Context, pipe redis.Pipeliner, task *domain.Task, now time.Time) error {
	if task.Queue == "" {
		return fmt.Errorf("%w: task %s has no queue", domain.ErrInvalidInput, task.ID)
	}
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	pipe.Set(ctx, taskKeyPrefix+task.ID, taskData, taskTTL)

	if task.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, scheduledKey(task.Queue), redis.Z{
			Score:  float64(task.ScheduledFor.UnixMilli()),
			Member: task.ID,
		})
	} else {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(task.Queue),
			Values: streamValues(task),
		})
	}
	return nil
}

// Enqueue adds a task to its named queue.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	pipe := q.client.TxPipeline()
	if err := stage(ctx, pipe, task, time.Now()); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple tasks to the queue atomically.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	now := time.Now()
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := stage(ctx, pipe, task, now); err != nil {
			return err
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return nil
}

// DequeueWithTimeout retrieves the next available task from a queue, blocking
// up to timeout. A timeout of zero does not block.
func (q *Queue) DequeueWithTimeout(ctx context.Context, queue domain.QueueName, timeout time.Duration) (*domain.Task, error) {
	// Promotion is best effort; a failure leaves tasks for the next call
	_ = q.promoteScheduledTasks(ctx, queue)

	// Try to claim abandoned tasks first
	task, err := q.claimAbandonedTask(ctx, queue)
	if err == nil && task != nil {
		return task, nil
	}

	block := timeout
	if block <= 0 {
		block = -1
	}

	stream := streamKey(queue)
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No tasks available
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.take(ctx, stream, streams[0].Messages[0])
}

// take loads the task behind a stream message and marks it processing.
// Messages whose task body is gone are acknowledged and dropped.
func (q *Queue) take(ctx context.Context, stream string, msg redis.XMessage) (*domain.Task, error) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		q.client.XAck(ctx, stream, taskGroup, msg.ID)
		q.client.XDel(ctx, stream, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.client.XAck(ctx, stream, taskGroup, msg.ID)
		q.client.XDel(ctx, stream, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task data: %w", err)
	}

	task.MarkProcessing()

	// Store updated task and message ID for ack/nack
	taskData, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, taskData, taskTTL)
	pipe.Set(ctx, msgKey(task.ID), msg.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}

	return task, nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	msgID, err := q.client.Get(ctx, msgKey(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, streamKey(task.Queue), taskGroup, msgID)
		pipe.XDel(ctx, streamKey(task.Queue), msgID)
	}

	task.MarkCompleted()
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe.Set(ctx, taskKeyPrefix+taskID, taskData, taskTTL)
	pipe.Del(ctx, msgKey(taskID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Nack indicates task processing failed and should be retried.
// The task goes back to its queue's delay set with exponential backoff,
// or is marked failed once its attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	msgID, _ := q.client.Get(ctx, msgKey(taskID)).Result()

	pipe := q.client.TxPipeline()

	// Acknowledge the current message (we'll re-enqueue if retrying)
	if msgID != "" {
		pipe.XAck(ctx, streamKey(task.Queue), taskGroup, msgID)
		pipe.XDel(ctx, streamKey(task.Queue), msgID)
	}

	if task.CanRetry() {
		task.Retry(reason)
		pipe.ZAdd(ctx, scheduledKey(task.Queue), redis.Z{
			Score:  float64(task.ScheduledFor.UnixMilli()),
			Member: task.ID,
		})
	} else {
		task.MarkFailed(reason)
	}

	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe.Set(ctx, taskKeyPrefix+taskID, taskData, taskTTL)
	pipe.Del(ctx, msgKey(taskID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// scanTasks visits every stored task body. This is O(N) - use sparingly.
func (q *Queue) scanTasks(ctx context.Context, visit func(key string, task *domain.Task) bool) error {
	var cursor uint64
	pattern := taskKeyPrefix + "*"

	for {
		keys, next, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan tasks: %w", err)
		}

		for _, key := range keys {
			if strings.HasSuffix(key, ":msg") {
				continue
			}
			data, err := q.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var task domain.Task
			if err := json.Unmarshal([]byte(data), &task); err != nil {
				continue
			}
			if !visit(key, &task) {
				return nil
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// ListTasks retrieves tasks matching the filter criteria, newest first.
// Note: This is less efficient in Redis than Postgres for complex queries.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := q.scanTasks(ctx, func(_ string, task *domain.Task) bool {
		if filter.Queue != "" && task.Queue != filter.Queue {
			return true
		}
		if filter.Status != "" && task.Status != filter.Status {
			return true
		}
		if filter.Type != "" && task.Type != filter.Type {
			return true
		}
		if filter.DocumentID != "" && task.DocumentID() != filter.DocumentID {
			return true
		}
		tasks = append(tasks, task)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*domain.Task{}, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// CancelTask marks a pending task as cancelled.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status == domain.TaskStatusProcessing {
		return errors.New("cannot cancel task that is processing")
	}
	if task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		return errors.New("cannot cancel completed or failed task")
	}

	pipe := q.client.TxPipeline()

	// Remove from the delay set if present; a stream entry is dropped by take
	pipe.ZRem(ctx, scheduledKey(task.Queue), taskID)

	task.Status = domain.TaskStatusFailed
	task.Error = "cancelled"
	task.UpdatedAt = time.Now()
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe.Set(ctx, taskKeyPrefix+taskID, taskData, taskTTL)

	_, err = pipe.Exec(ctx)
	return err
}

// PurgeTasks removes completed/failed tasks older than the specified age.
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var stale []string

	err := q.scanTasks(ctx, func(key string, task *domain.Task) bool {
		if (task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed) &&
			task.UpdatedAt.Before(cutoff) {
			stale = append(stale, key)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := q.client.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return int(n), nil
}

// Stats returns queue statistics, broken down per named queue.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	for _, name := range domain.AllQueues() {
		depth := stats.Depth(name)
		stream := streamKey(name)

		length, err := q.client.XLen(ctx, stream).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to get stream length: %w", err)
		}

		// Delivered but unacknowledged entries are the ones being processed
		if pending, err := q.client.XPending(ctx, stream, taskGroup).Result(); err == nil {
			depth.Processing = pending.Count
		}
		depth.Pending = length - depth.Processing
		if depth.Pending < 0 {
			depth.Pending = 0
		}

		scheduled, err := q.client.ZCard(ctx, scheduledKey(name)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to get scheduled count: %w", err)
		}
		depth.Scheduled = scheduled

		stats.PendingCount += depth.Pending
		stats.ProcessingCount += depth.Processing
		stats.ScheduledCount += depth.Scheduled
	}

	// Count completed/failed tasks and the oldest ready task (requires scan - expensive)
	now := time.Now()
	var oldest time.Time
	err := q.scanTasks(ctx, func(_ string, task *domain.Task) bool {
		switch task.Status {
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		case domain.TaskStatusPending:
			if !task.ScheduledFor.After(now) && (oldest.IsZero() || task.ScheduledFor.Before(oldest)) {
				oldest = task.ScheduledFor
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = int64(now.Sub(oldest).Seconds())
	}

	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

// promoteScheduledTasks moves a queue's due delayed tasks into its stream.
func (q *Queue) promoteScheduledTasks(ctx context.Context, queue domain.QueueName) error {
	key := scheduledKey(queue)
	due, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, taskID := range due {
		// ZREM decides which consumer promotes the task
		removed, err := q.client.ZRem(ctx, key, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(queue),
			Values: streamValues(task),
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandonedTask tries to claim a task that was abandoned by another worker.
func (q *Queue) claimAbandonedTask(ctx context.Context, queue domain.QueueName) (*domain.Task, error) {
	stream := streamKey(queue)
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   q.claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    taskGroup,
			Consumer: q.consumerName,
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		task, err := q.take(ctx, stream, claimed[0])
		if err != nil || task == nil {
			continue
		}
		return task, nil
	}

	return nil, nil
}

// Helper functions

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
