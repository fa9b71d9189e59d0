package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// pollInterval bounds how often an idle consumer re-queries its queue.
const pollInterval = 250 * time.Millisecond

// maxBackoffSeconds mirrors the cap of domain.RetryBackoff.
const maxBackoffSeconds = 300

// Queue keeps tasks in the tasks table. It is used when no Redis is
// configured; consumers claim rows with FOR UPDATE SKIP LOCKED.
type Queue struct {
	db *sql.DB
}

// NewQueue expects the tasks table from postgres.InitSchema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

const taskColumns = `id, type, queue, payload, status, priority, attempts, max_attempts,
	error, created_at, updated_at, started_at, completed_at, scheduled_for`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, task *domain.Task) error {
	if task.Queue == "" {
		return fmt.Errorf("%w: task %s has no queue", domain.ErrInvalidInput, task.ID)
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", task.ID, err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.Type, task.Queue, payload, task.Status, task.Priority,
		task.Attempts, task.MaxAttempts, task.Error, task.CreatedAt, task.UpdatedAt,
		task.StartedAt, task.CompletedAt, task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", task.ID, task.Queue, err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return insertTask(ctx, q.db, task)
}

// EnqueueBatch inserts every task or none.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, task := range tasks {
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// DequeueWithTimeout polls the queue until a task is claimed or the timeout
// elapses, in which case it returns nil, nil.
func (q *Queue) DequeueWithTimeout(ctx context.Context, queue domain.QueueName, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := q.claim(ctx, queue)
		if err != nil || task != nil {
			return task, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(min(pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// claim flips the highest-priority ready row to processing in one statement.
func (q *Queue) claim(ctx context.Context, queue domain.QueueName) (*domain.Task, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $2, started_at = NOW(), updated_at = NOW(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE queue = $1 AND status = $3 AND scheduled_for <= NOW()
			ORDER BY priority DESC, scheduled_for, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queue, domain.TaskStatusProcessing, domain.TaskStatusPending)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	return q.expectOne(ctx, "ack "+taskID, `
		UPDATE tasks
		SET status = $2, completed_at = NOW(), updated_at = NOW(), error = ''
		WHERE id = $1`,
		taskID, domain.TaskStatusCompleted)
}

// Nack puts the task back with exponential backoff while attempts remain and
// fails it otherwise.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	return q.expectOne(ctx, "nack "+taskID, `
		UPDATE tasks
		SET error = $2,
			updated_at = NOW(),
			status = CASE WHEN attempts < max_attempts THEN $3 ELSE $4 END,
			scheduled_for = CASE
				WHEN attempts < max_attempts
				THEN NOW() + LEAST(POWER(2, LEAST(attempts, 16)), $5) * INTERVAL '1 second'
				ELSE scheduled_for
			END
		WHERE id = $1`,
		taskID, reason, domain.TaskStatusPending, domain.TaskStatusFailed, maxBackoffSeconds)
}

// expectOne runs an update that must touch exactly the row it names.
func (q *Queue) expectOne(ctx context.Context, op, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks returns matching tasks, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Queue != "" {
		add("queue = ?", filter.Queue)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.Type != "" {
		add("type = ?", filter.Type)
	}
	if filter.DocumentID != "" {
		add("payload->>'"+domain.PayloadDocumentID+"' = ?", filter.DocumentID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CancelTask fails a task that no consumer has claimed yet.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	err := q.expectOne(ctx, "cancel "+taskID, `
		UPDATE tasks SET status = $2, error = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		taskID, domain.TaskStatusFailed, domain.TaskStatusPending)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	task, getErr := q.GetTask(ctx, taskID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("cannot cancel task %s: it is %s", taskID, task.Status)
}

// PurgeTasks deletes finished tasks last touched before now-olderThan.
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN ($1, $2) AND updated_at < $3`,
		domain.TaskStatusCompleted, domain.TaskStatusFailed, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(n), nil
}

// Stats aggregates every queue in a single pass over the table.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}
	for _, name := range domain.AllQueues() {
		stats.Depth(name)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT queue,
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_for <= NOW()),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_for > NOW()),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(scheduled_for)
				FILTER (WHERE status = 'pending' AND scheduled_for <= NOW())), 0)::bigint
		FROM tasks
		GROUP BY queue`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var queue string
		var ready, delayed, processing, completed, failed, oldest int64
		if err := rows.Scan(&queue, &ready, &delayed, &processing, &completed, &failed, &oldest); err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		depth := stats.Depth(domain.QueueName(queue))
		depth.Pending += ready
		depth.Scheduled += delayed
		depth.Processing += processing

		stats.PendingCount += ready
		stats.ScheduledCount += delayed
		stats.ProcessingCount += processing
		stats.CompletedCount += completed
		stats.FailedCount += failed
		stats.OldestPendingAge = max(stats.OldestPendingAge, oldest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close leaves the shared pool open; its owner closes it.
func (q *Queue) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload                []byte
		lastErr                sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&task.ID, &task.Type, &task.Queue, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &lastErr, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &task.ScheduledFor,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", task.ID, err)
		}
	}
	task.Error = lastErr.String
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
