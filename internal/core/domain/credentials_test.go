package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCredentialState_NotificationLaw(t *testing.T) {
	s := NewCredentialState("gcs")
	now := time.Now()
	probeErr := errors.New("403")

	notified := 0
	for i := 0; i < 4; i++ {
		if s.RecordFailure(probeErr, DefaultFailureNotifyLimit, now) {
			notified++
		}
	}
	if notified != 3 {
		t.Errorf("expected 3 notifications for 4 failures, got %d", notified)
	}
	if s.Healthy || s.Failures != 4 || s.LastError != "403" {
		t.Errorf("unexpected state %+v", s)
	}

	if !s.RecordSuccess(now) {
		t.Error("expected recovered notification")
	}
	if s.RecordSuccess(now) {
		t.Error("expected no second recovered notification")
	}
	if !s.Healthy || s.Failures != 0 {
		t.Errorf("expected reset state, got %+v", s)
	}

	if !s.RecordFailure(probeErr, DefaultFailureNotifyLimit, now) {
		t.Error("expected a fresh failure to notify again")
	}
}

func TestCredentialState_SuccessWithoutFailures(t *testing.T) {
	s := NewCredentialState("ocr")
	if s.RecordSuccess(time.Now()) {
		t.Error("expected no recovered notification without prior failures")
	}
	if s.LastChecked == nil {
		t.Error("expected LastChecked to be set")
	}
}
