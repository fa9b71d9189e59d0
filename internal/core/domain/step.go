package domain

import (
	"strings"
	"time"
)

// StepName identifies one unit of pipeline work. Destination steps are
// generated at runtime, so the set is open rather than a closed enum.
type StepName string

// Static pipeline steps, in execution order.
const (
	StepHash            StepName = "hash"
	StepPersistRecord   StepName = "persist_record"
	StepQualityCheck    StepName = "quality_check"
	StepOCR             StepName = "ocr"
	StepExtractMetadata StepName = "extract_metadata"
	StepEmbedMetadata   StepName = "embed_metadata"
	StepFinalizeStorage StepName = "finalize_storage"
	StepFanOut          StepName = "fan_out"
)

const (
	queueStepPrefix  = "queue-to-"
	uploadStepPrefix = "upload-to-"
)

// StaticSteps returns the main pipeline in execution order.
func StaticSteps() []StepName {
	return []StepName{
		StepHash,
		StepPersistRecord,
		StepQualityCheck,
		StepOCR,
		StepExtractMetadata,
		StepEmbedMetadata,
		StepFinalizeStorage,
		StepFanOut,
	}
}

// StepsFrom returns the static steps starting at (and including) from.
// Returns nil if from is not a static step.
func StepsFrom(from StepName) []StepName {
	steps := StaticSteps()
	for i, s := range steps {
		if s == from {
			return steps[i:]
		}
	}
	return nil
}

// NextStep returns the static step after s, or "" if s is last or unknown.
func NextStep(s StepName) StepName {
	steps := StaticSteps()
	for i := 0; i < len(steps)-1; i++ {
		if steps[i] == s {
			return steps[i+1]
		}
	}
	return ""
}

// QueueForStep routes a step to its named queue.
func QueueForStep(s StepName) QueueName {
	switch s {
	case StepHash, StepPersistRecord, StepQualityCheck, StepOCR:
		return QueueFast
	default:
		return QueueGeneral
	}
}

// QueueStepName returns the dynamic "queue-to-X" step for a destination.
func QueueStepName(destination string) StepName {
	return StepName(queueStepPrefix + destination)
}

// UploadStepName returns the dynamic "upload-to-X" step for a destination.
func UploadStepName(destination string) StepName {
	return StepName(uploadStepPrefix + destination)
}

// DestinationStepNames returns both dynamic steps for a destination.
func DestinationStepNames(destination string) []StepName {
	return []StepName{QueueStepName(destination), UploadStepName(destination)}
}

// IsDestination reports whether the step was generated for a destination.
func (s StepName) IsDestination() bool {
	return strings.HasPrefix(string(s), queueStepPrefix) || strings.HasPrefix(string(s), uploadStepPrefix)
}

// Destination returns the destination a dynamic step belongs to, or "".
func (s StepName) Destination() string {
	name := string(s)
	if strings.HasPrefix(name, queueStepPrefix) {
		return strings.TrimPrefix(name, queueStepPrefix)
	}
	if strings.HasPrefix(name, uploadStepPrefix) {
		return strings.TrimPrefix(name, uploadStepPrefix)
	}
	return ""
}

// StepKind separates main pipeline steps from destination steps.
type StepKind string

const (
	StepKindMain        StepKind = "main"
	StepKindDestination StepKind = "destination"
)

// Kind returns the step's kind.
func (s StepName) Kind() StepKind {
	if s.IsDestination() {
		return StepKindDestination
	}
	return StepKindMain
}

// StepStatus is the lifecycle state of a step record
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusSuccess    StepStatus = "success"
	StepStatusFailure    StepStatus = "failure"
	StepStatusSkipped    StepStatus = "skipped"
)

// AllStepStatuses lists every step status.
func AllStepStatuses() []StepStatus {
	return []StepStatus{
		StepStatusPending,
		StepStatusInProgress,
		StepStatusSuccess,
		StepStatusFailure,
		StepStatusSkipped,
	}
}

// Valid reports whether s is a known status.
func (s StepStatus) Valid() bool {
	for _, v := range AllStepStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a step attempt.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailure || s == StepStatusSkipped
}

// StepRecord is the single current-state row for a (document, step) pair.
type StepRecord struct {
	DocumentID  string     `json:"document_id"`
	Step        StepName   `json:"step"`
	Kind        StepKind   `json:"kind"`
	Status      StepStatus `json:"status"`
	RunID       string     `json:"run_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepUpdate is the payload of a setStatus call.
type StepUpdate struct {
	Status      StepStatus
	RunID       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string

	// ExpectStatus and ExpectStartedAt make the update conditional on the
	// row's current state; a mismatch fails with ErrStepChanged.
	ExpectStatus    StepStatus
	ExpectStartedAt *time.Time
}

// Matches reports whether the record still satisfies the update's
// expectations. An unconditional update always matches.
func (r *StepRecord) Matches(u StepUpdate) bool {
	if u.ExpectStatus != "" && r.Status != u.ExpectStatus {
		return false
	}
	if u.ExpectStartedAt != nil {
		if r.StartedAt == nil || !r.StartedAt.Equal(*u.ExpectStartedAt) {
			return false
		}
	}
	return true
}

// Apply folds an update into a record the way the state store does:
// pending clears timestamps and error, in_progress starts a fresh attempt,
// terminal statuses keep the existing start time when none is given.
func (r *StepRecord) Apply(u StepUpdate, now time.Time) {
	r.Status = u.Status
	if u.RunID != "" {
		r.RunID = u.RunID
	}
	switch u.Status {
	case StepStatusPending:
		r.StartedAt = nil
		r.CompletedAt = nil
		r.Error = u.Error
	case StepStatusInProgress:
		r.StartedAt = u.StartedAt
		r.CompletedAt = nil
		r.Error = nil
	default:
		if u.StartedAt != nil {
			r.StartedAt = u.StartedAt
		}
		r.CompletedAt = u.CompletedAt
		r.Error = u.Error
	}
	r.UpdatedAt = now
}

// ErrorMessage returns the error detail or "".
func (r *StepRecord) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
