package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

var _ driving.Scheduler = (*Scheduler)(nil)

const schedulerLockName = "scheduler"

// Scheduler enqueues housekeeping tasks onto the management queue from
// the scheduled_tasks table.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance enqueues per cycle.
type Scheduler struct {
	store     driven.SchedulerStore
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	logger    *slog.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	lockTTL time.Duration
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Store        driven.SchedulerStore
	TaskQueue    driven.TaskQueue
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger       *slog.Logger
	PollInterval time.Duration // How often to check for due tasks (default: 30s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 60s)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * interval
	}

	return &Scheduler{
		store:     cfg.Store,
		taskQueue: cfg.TaskQueue,
		lock:      cfg.Lock,
		logger:    logger,
		interval:  interval,
		lockTTL:   lockTTL,
	}
}

// EnsureDefaults stores any of the given schedules that do not exist yet.
// Existing rows keep their operator-edited interval and enabled flag.
func (s *Scheduler) EnsureDefaults(ctx context.Context, defaults []*domain.ScheduledTask) error {
	for _, d := range defaults {
		created, err := s.store.CreateScheduledTask(ctx, d)
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("created scheduled task", "scheduled_id", d.ID, "interval", d.Interval)
		}
	}
	return nil
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.interval)

	go s.run(ctx)

	return nil
}

// Stop stops the loop and waits for the current cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkAndEnqueue(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndEnqueue(ctx)
		}
	}
}

// checkAndEnqueue enqueues every due scheduled task. With a lock
// configured, a cycle is skipped unless this instance holds it.
func (s *Scheduler) checkAndEnqueue(ctx context.Context) {
	ran, err := runLocked(ctx, s.lock, schedulerLockName, s.lockTTL, s.logger, func() error {
		s.enqueueDue(ctx)
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to acquire scheduler lock", "error", err)
		return
	}
	if !ran {
		s.logger.Debug("scheduler lock held by another instance, skipping cycle")
	}
}

func (s *Scheduler) enqueueDue(ctx context.Context) {
	tasks, err := s.store.ClaimDueScheduledTasks(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to claim due scheduled tasks", "error", err)
		return
	}

	for _, scheduled := range tasks {
		task := domain.NewTask(scheduled.Type, domain.QueueManagement, nil)
		runErr := ""
		if err := s.taskQueue.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue scheduled task",
				"scheduled_id", scheduled.ID,
				"error", err,
			)
			runErr = err.Error()
		} else {
			s.logger.Info("enqueued scheduled task",
				"scheduled_id", scheduled.ID,
				"task_id", task.ID,
				"task_type", task.Type,
			)
		}

		if err := s.store.RecordRun(ctx, scheduled.ID, time.Now(), runErr); err != nil {
			s.logger.Warn("failed to record scheduled task run",
				"scheduled_id", scheduled.ID,
				"error", err,
			)
		}
	}
}

// ListScheduledTasks lists every scheduled task.
func (s *Scheduler) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx)
}

// TriggerNow immediately enqueues a scheduled task, ignoring its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return nil, err
	}

	task := domain.NewTask(scheduled.Type, domain.QueueManagement, nil)
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("manually triggered scheduled task",
		"scheduled_id", scheduled.ID,
		"task_id", task.ID,
	)
	return task, nil
}
