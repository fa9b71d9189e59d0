package domain

import "time"

// ThrottlePlan is the scheduling decision for one batch.
type ThrottlePlan struct {
	Throttled bool
	Delays    []time.Duration
	Spread    time.Duration
}

// PlanBatch spaces n submissions. With n <= threshold every delay is zero;
// otherwise the i-th submission waits i*delay and the spread is (n-1)*delay.
func PlanBatch(n, threshold int, delay time.Duration) ThrottlePlan {
	plan := ThrottlePlan{Delays: make([]time.Duration, n)}
	if n <= threshold || delay <= 0 {
		return plan
	}
	plan.Throttled = true
	for i := range plan.Delays {
		plan.Delays[i] = time.Duration(i) * delay
	}
	plan.Spread = time.Duration(n-1) * delay
	return plan
}

// BatchEntry is the outcome for one document of a batch submission.
type BatchEntry struct {
	DocumentID string        `json:"document_id"`
	RunID      string        `json:"run_id,omitempty"`
	Delay      time.Duration `json:"delay_ns"`
	Error      string        `json:"error,omitempty"`
}

// BatchResult is returned by a batch submission.
type BatchResult struct {
	Entries   []BatchEntry  `json:"entries"`
	Throttled bool          `json:"throttled"`
	Spread    time.Duration `json:"spread_ns"`
}
