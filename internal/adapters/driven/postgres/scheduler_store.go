package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.SchedulerStore = (*SchedulerStore)(nil)

const scheduleColumns = `id, name, type, interval_ns, enabled, next_run, last_run, last_error`

// SchedulerStore keeps the housekeeping schedule in scheduled_tasks.
type SchedulerStore struct {
	db *DB
}

// NewSchedulerStore creates a new SchedulerStore
func NewSchedulerStore(db *DB) *SchedulerStore {
	return &SchedulerStore{db: db}
}

func (s *SchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	task, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled task %s: %w", id, err)
	}
	return task, nil
}

func (s *SchedulerStore) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_tasks ORDER BY next_run ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	return collectSchedules(rows)
}

func (s *SchedulerStore) SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			interval_ns = EXCLUDED.interval_ns,
			enabled = EXCLUDED.enabled,
			next_run = EXCLUDED.next_run,
			last_run = EXCLUDED.last_run,
			last_error = EXCLUDED.last_error`,
		scheduleArgs(task)...,
	)
	if err != nil {
		return fmt.Errorf("save scheduled task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SchedulerStore) CreateScheduledTask(ctx context.Context, task *domain.ScheduledTask) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		scheduleArgs(task)...,
	)
	if err != nil {
		return false, fmt.Errorf("create scheduled task %s: %w", task.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimDueScheduledTasks advances next_run in the same statement that selects
// the due rows; concurrent schedulers therefore never claim the same run.
func (s *SchedulerStore) ClaimDueScheduledTasks(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE scheduled_tasks
		SET next_run = $1::timestamptz + (interval_ns / 1000) * INTERVAL '1 microsecond'
		WHERE enabled AND next_run <= $1
		RETURNING `+scheduleColumns, now)
	if err != nil {
		return nil, fmt.Errorf("claim due scheduled tasks: %w", err)
	}
	return collectSchedules(rows)
}

func (s *SchedulerStore) RecordRun(ctx context.Context, id string, at time.Time, runErr string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET last_run = $1, last_error = NULLIF($2, '') WHERE id = $3`,
		at, runErr, id)
	if err != nil {
		return fmt.Errorf("record run of %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scheduleArgs(task *domain.ScheduledTask) []any {
	return []any{
		task.ID,
		task.Name,
		string(task.Type),
		int64(task.Interval),
		task.Enabled,
		task.NextRun,
		NullTime(task.LastRun),
		sql.NullString{String: task.LastError, Valid: task.LastError != ""},
	}
}

func collectSchedules(rows *sql.Rows) ([]*domain.ScheduledTask, error) {
	defer rows.Close()

	var tasks []*domain.ScheduledTask
	for rows.Next() {
		task, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanSchedule(row rowScanner) (*domain.ScheduledTask, error) {
	var (
		task       domain.ScheduledTask
		intervalNs int64
		lastRun    sql.NullTime
		lastError  sql.NullString
	)
	if err := row.Scan(&task.ID, &task.Name, &task.Type, &intervalNs, &task.Enabled, &task.NextRun, &lastRun, &lastError); err != nil {
		return nil, err
	}
	task.Interval = time.Duration(intervalNs)
	task.LastRun = TimePtr(lastRun)
	task.LastError = lastError.String
	return &task, nil
}
