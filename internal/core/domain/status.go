package domain

// OverallStatus is the aggregate status of a document.
type OverallStatus string

const (
	OverallPending             OverallStatus = "pending"
	OverallProcessing          OverallStatus = "processing"
	OverallCompleted           OverallStatus = "completed"
	OverallCompletedWithErrors OverallStatus = "completed_with_errors"
	OverallFailed              OverallStatus = "failed"
)

// AllOverallStatuses lists every aggregate status.
func AllOverallStatuses() []OverallStatus {
	return []OverallStatus{
		OverallPending,
		OverallProcessing,
		OverallCompleted,
		OverallCompletedWithErrors,
		OverallFailed,
	}
}

// StatusFlags is the minimal information the reduction needs. Stores that
// aggregate in SQL fill it directly instead of loading every row.
type StatusFlags struct {
	Steps             int
	MainFailed        bool
	Active            bool
	DestinationFailed bool
}

// Observe folds one step into the flags.
func (f *StatusFlags) Observe(step StepName, status StepStatus) {
	f.Steps++
	switch status {
	case StepStatusFailure:
		if step.IsDestination() {
			f.DestinationFailed = true
		} else {
			f.MainFailed = true
		}
	case StepStatusPending, StepStatusInProgress:
		f.Active = true
	}
}

// Reduce maps flags to an aggregate status.
// A main-step failure dominates everything; pending work keeps the document
// processing; failed destinations alone leave it completed with errors.
func (f StatusFlags) Reduce() OverallStatus {
	switch {
	case f.Steps == 0:
		return OverallPending
	case f.MainFailed:
		return OverallFailed
	case f.Active:
		return OverallProcessing
	case f.DestinationFailed:
		return OverallCompletedWithErrors
	default:
		return OverallCompleted
	}
}

// ReduceStatus computes the aggregate status of a document from its step records.
// Runs in O(len(records)).
func ReduceStatus(records []*StepRecord) OverallStatus {
	var flags StatusFlags
	for _, r := range records {
		flags.Observe(r.Step, r.Status)
	}
	return flags.Reduce()
}

// StatusCounts counts step records per status.
type StatusCounts map[StepStatus]int

// Total returns the sum of all counts.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// StepSummary groups step counts for main vs destination steps.
type StepSummary struct {
	Main        StatusCounts `json:"main"`
	Destination StatusCounts `json:"destination"`
}

// Summarize builds a StepSummary from step records.
func Summarize(records []*StepRecord) StepSummary {
	summary := StepSummary{
		Main:        make(StatusCounts),
		Destination: make(StatusCounts),
	}
	for _, r := range records {
		if r.Step.IsDestination() {
			summary.Destination[r.Status]++
		} else {
			summary.Main[r.Status]++
		}
	}
	return summary
}

// FailedStep returns the first main step in pipeline order that failed,
// falling back to any failed destination step. Nil if none failed.
func FailedStep(records []*StepRecord) *StepRecord {
	byName := make(map[StepName]*StepRecord, len(records))
	for _, r := range records {
		byName[r.Step] = r
	}
	for _, s := range StaticSteps() {
		if r, ok := byName[s]; ok && r.Status == StepStatusFailure {
			return r
		}
	}
	for _, r := range records {
		if r.Step.IsDestination() && r.Status == StepStatusFailure {
			return r
		}
	}
	return nil
}
