package domain

import (
	"testing"
	"time"
)

func TestPlanBatch(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		threshold int
		delay     time.Duration
		throttled bool
		last      time.Duration
		spread    time.Duration
	}{
		{"over threshold", 25, 20, 3 * time.Second, true, 72 * time.Second, 72 * time.Second},
		{"under threshold", 15, 20, 3 * time.Second, false, 0, 0},
		{"at threshold", 20, 20, 3 * time.Second, false, 0, 0},
		{"single over zero threshold", 1, 0, time.Second, true, 0, 0},
		{"zero delay", 30, 20, 0, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanBatch(tt.n, tt.threshold, tt.delay)
			if plan.Throttled != tt.throttled {
				t.Errorf("expected throttled=%v", tt.throttled)
			}
			if len(plan.Delays) != tt.n {
				t.Fatalf("expected %d delays, got %d", tt.n, len(plan.Delays))
			}
			if plan.Delays[tt.n-1] != tt.last {
				t.Errorf("expected last delay %v, got %v", tt.last, plan.Delays[tt.n-1])
			}
			if plan.Spread != tt.spread {
				t.Errorf("expected spread %v, got %v", tt.spread, plan.Spread)
			}
		})
	}
}

func TestPlanBatch_Linear(t *testing.T) {
	plan := PlanBatch(25, 20, 3*time.Second)
	for i, d := range plan.Delays {
		if d != time.Duration(i)*3*time.Second {
			t.Errorf("delay %d: got %v", i, d)
		}
	}
}

func TestPlanBatch_Empty(t *testing.T) {
	plan := PlanBatch(0, 20, time.Second)
	if plan.Throttled || len(plan.Delays) != 0 {
		t.Errorf("unexpected plan %+v", plan)
	}
}
