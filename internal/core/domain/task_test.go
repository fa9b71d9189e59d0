package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Error("expected non-empty IDs")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	// Base64 URL encoding of 16 bytes = 22 chars
	if len(id1) != 22 {
		t.Errorf("expected ID length 22, got %d", len(id1))
	}
}

func TestNewTask(t *testing.T) {
	payload := map[string]string{"key": "value"}

	task := NewTask(TaskTypeReconcileStale, QueueManagement, payload)

	if task.ID == "" {
		t.Error("expected non-empty ID")
	}
	if task.Type != TaskTypeReconcileStale {
		t.Errorf("expected type %s, got %s", TaskTypeReconcileStale, task.Type)
	}
	if task.Queue != QueueManagement {
		t.Errorf("expected queue management, got %s", task.Queue)
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", task.MaxAttempts)
	}
	if task.ScheduledFor.After(time.Now()) {
		t.Error("expected task to be immediately eligible")
	}
}

func TestNewStepTask(t *testing.T) {
	tests := []struct {
		step  StepName
		queue QueueName
	}{
		{StepHash, QueueFast},
		{StepOCR, QueueFast},
		{StepExtractMetadata, QueueGeneral},
		{StepFanOut, QueueGeneral},
	}

	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			task := NewStepTask("doc-1", "run-1", tt.step, false)
			if task.Type != TaskTypePipelineStep {
				t.Errorf("expected pipeline_step, got %s", task.Type)
			}
			if task.Queue != tt.queue {
				t.Errorf("expected queue %s, got %s", tt.queue, task.Queue)
			}
			if task.DocumentID() != "doc-1" || task.RunID() != "run-1" || task.Step() != tt.step {
				t.Errorf("unexpected payload %v", task.Payload)
			}
			if task.ForceOCR() {
				t.Error("expected force_ocr to be false")
			}
		})
	}
}

func TestNewStepTask_ForceOCR(t *testing.T) {
	task := NewStepTask("doc-1", "run-1", StepOCR, true)
	if !task.ForceOCR() {
		t.Error("expected force_ocr flag")
	}
}

func TestNewUploadTask(t *testing.T) {
	task := NewUploadTask("doc-1", "run-1", "archive")
	if task.Type != TaskTypeDestinationUpload {
		t.Errorf("expected destination_upload, got %s", task.Type)
	}
	if task.Queue != QueueGeneral {
		t.Errorf("expected general queue, got %s", task.Queue)
	}
	if task.Destination() != "archive" {
		t.Errorf("expected destination archive, got %s", task.Destination())
	}
}

func TestTask_NilPayload(t *testing.T) {
	task := &Task{}
	if task.DocumentID() != "" || task.Destination() != "" || task.ForceOCR() {
		t.Error("expected empty accessors for nil payload")
	}
}

func TestTask_DelayBy(t *testing.T) {
	task := NewTask(TaskTypePipelineStep, QueueFast, nil)
	task.DelayBy(72 * time.Second)

	if got := task.ScheduledFor.Sub(task.CreatedAt); got != 72*time.Second {
		t.Errorf("expected 72s delay, got %v", got)
	}
	if task.IsReady() {
		t.Error("expected delayed task not to be ready")
	}

	other := NewTask(TaskTypePipelineStep, QueueFast, nil)
	before := other.ScheduledFor
	other.DelayBy(0)
	if !other.ScheduledFor.Equal(before) {
		t.Error("expected zero delay to leave schedule unchanged")
	}
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewTask(TaskTypePipelineStep, QueueFast, nil)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", task.Attempts)
	}
	if task.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	task.MarkCompleted()
	if task.Status != TaskStatusCompleted || task.CompletedAt == nil {
		t.Error("expected completed with CompletedAt")
	}

	task.MarkFailed("boom")
	if task.Status != TaskStatusFailed || task.Error != "boom" {
		t.Error("expected failed with error")
	}
}

func TestTask_Retry(t *testing.T) {
	task := NewTask(TaskTypePipelineStep, QueueFast, nil)
	task.MarkProcessing()
	task.MarkProcessing()

	before := time.Now()
	task.Retry("timeout")

	if task.Status != TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Error != "timeout" {
		t.Errorf("expected error timeout, got %s", task.Error)
	}
	// 2 attempts -> 4s backoff
	if task.ScheduledFor.Before(before.Add(4 * time.Second)) {
		t.Errorf("expected at least 4s backoff, got %v", task.ScheduledFor.Sub(before))
	}
}

func TestTask_CanRetry(t *testing.T) {
	task := NewTask(TaskTypePipelineStep, QueueFast, nil)
	for i := 0; i < 3; i++ {
		if !task.CanRetry() {
			t.Fatalf("expected retry allowed after %d attempts", task.Attempts)
		}
		task.MarkProcessing()
	}
	if task.CanRetry() {
		t.Error("expected retries exhausted")
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryBackoff(tt.attempts); got != tt.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestScheduledTask(t *testing.T) {
	st := NewScheduledTask("id", "name", TaskTypePurgeTasks, time.Hour)
	if st.IsDue() {
		t.Error("expected new scheduled task not to be due")
	}

	st.NextRun = time.Now().Add(-time.Second)
	if !st.IsDue() {
		t.Error("expected past NextRun to be due")
	}

	st.Enabled = false
	if st.IsDue() {
		t.Error("expected disabled task not to be due")
	}

	st.UpdateNextRun()
	if st.LastRun == nil {
		t.Error("expected LastRun to be set")
	}
	if st.NextRun.Before(time.Now().Add(59 * time.Minute)) {
		t.Error("expected NextRun about one interval ahead")
	}
}

func TestDefaultScheduledTasks(t *testing.T) {
	tasks := DefaultScheduledTasks(5*time.Minute, time.Hour)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Type != TaskTypeReconcileStale || tasks[0].Interval != 5*time.Minute {
		t.Errorf("unexpected first task %+v", tasks[0])
	}
	if tasks[1].Type != TaskTypePurgeTasks {
		t.Errorf("unexpected second task %+v", tasks[1])
	}
}
