package domain

import "time"

// DefaultFailureNotifyLimit is how many consecutive failures are announced
// before the monitor goes quiet.
const DefaultFailureNotifyLimit = 3

// NotificationKind distinguishes credential notifications.
type NotificationKind string

const (
	NotificationFailure   NotificationKind = "failure"
	NotificationRecovered NotificationKind = "recovered"
)

// CredentialNotification is emitted by the credential monitor.
type CredentialNotification struct {
	Credential string           `json:"credential"`
	Kind       NotificationKind `json:"kind"`
	Failures   int              `json:"consecutive_failures"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// CredentialState tracks one credential's probe history.
type CredentialState struct {
	Name        string     `json:"name"`
	Healthy     bool       `json:"healthy"`
	Failures    int        `json:"consecutive_failures"`
	LastError   string     `json:"last_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`

	notified bool
}

// NewCredentialState returns a state that is considered healthy until probed.
func NewCredentialState(name string) *CredentialState {
	return &CredentialState{Name: name, Healthy: true}
}

// RecordFailure folds a failed probe into the state and reports whether a
// notification should be sent. Failures 1..limit notify; later ones are
// suppressed until a success resets the counter.
func (s *CredentialState) RecordFailure(err error, limit int, now time.Time) bool {
	s.Healthy = false
	s.LastChecked = &now
	if err != nil {
		s.LastError = err.Error()
	}
	s.Failures++
	if s.Failures <= limit {
		s.notified = true
		return true
	}
	return false
}

// RecordSuccess folds a healthy probe into the state and reports whether a
// recovered notification should be sent.
func (s *CredentialState) RecordSuccess(now time.Time) bool {
	recovered := s.Failures > 0 && s.notified
	s.Healthy = true
	s.Failures = 0
	s.LastError = ""
	s.LastChecked = &now
	s.notified = false
	return recovered
}
