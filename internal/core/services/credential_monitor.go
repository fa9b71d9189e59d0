package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.CredentialHealth = (*CredentialMonitor)(nil)

// CredentialMonitor probes external credentials on an interval and at
// startup. Failure notifications are capped per outage; the first success
// after a notified outage sends one recovered notification.
type CredentialMonitor struct {
	probes   func() []driven.CredentialProbe
	notifier driven.Notifier
	limit    int
	interval time.Duration
	timeout  time.Duration
	onChange func(name string, healthy bool)
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	states map[string]*domain.CredentialState

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// CredentialMonitorConfig holds dependencies for CredentialMonitor.
type CredentialMonitorConfig struct {
	// Probes returns the credentials to check; called on every cycle so
	// newly configured destinations are picked up
	Probes      func() []driven.CredentialProbe
	Notifier    driven.Notifier
	NotifyLimit int           // notifications per outage (default: 3)
	Interval    time.Duration // check interval (default: 5m)
	Timeout     time.Duration // per-probe timeout (default: 15s)
	// OnChange is called when a credential flips between healthy and unhealthy
	OnChange func(name string, healthy bool)
	Logger   *slog.Logger
}

// NewCredentialMonitor creates a new credential monitor.
func NewCredentialMonitor(cfg CredentialMonitorConfig) *CredentialMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.NotifyLimit
	if limit == 0 {
		limit = domain.DefaultFailureNotifyLimit
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	probes := cfg.Probes
	if probes == nil {
		probes = func() []driven.CredentialProbe { return nil }
	}

	return &CredentialMonitor{
		probes:   probes,
		notifier: cfg.Notifier,
		limit:    limit,
		interval: interval,
		timeout:  timeout,
		onChange: cfg.OnChange,
		now:      time.Now,
		logger:   logger,
		states:   make(map[string]*domain.CredentialState),
	}
}

// Start checks every credential once and then on every interval.
func (m *CredentialMonitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.runMu.Unlock()

	m.logger.Info("credential monitor starting", "interval", m.interval)
	go m.run(ctx)
	return nil
}

// Stop stops the check loop and waits for it to exit.
func (m *CredentialMonitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	close(m.stopCh)
	m.runMu.Unlock()

	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.runMu.Lock()
	m.running = false
	m.runMu.Unlock()
	return nil
}

func (m *CredentialMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every credential once.
func (m *CredentialMonitor) CheckAll(ctx context.Context) {
	for _, p := range m.probes() {
		m.Check(ctx, p)
	}
}

// Check probes one credential and applies the notification policy.
func (m *CredentialMonitor) Check(ctx context.Context, probe driven.CredentialProbe) {
	name := probe.CredentialName()

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := probe.Probe(pctx)
	cancel()

	now := m.now()
	m.mu.Lock()
	state, ok := m.states[name]
	if !ok {
		state = domain.NewCredentialState(name)
		m.states[name] = state
	}
	wasHealthy := state.Healthy

	var note *domain.CredentialNotification
	if err != nil {
		if state.RecordFailure(err, m.limit, now) {
			note = &domain.CredentialNotification{
				Credential: name,
				Kind:       domain.NotificationFailure,
				Failures:   state.Failures,
				Error:      err.Error(),
				At:         now,
			}
		}
	} else if state.RecordSuccess(now) {
		note = &domain.CredentialNotification{
			Credential: name,
			Kind:       domain.NotificationRecovered,
			At:         now,
		}
	}
	healthy := state.Healthy
	failures := state.Failures
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("credential check failed", "credential", name, "consecutive_failures", failures, "error", err)
	} else {
		m.logger.Debug("credential check passed", "credential", name)
	}

	if wasHealthy != healthy && m.onChange != nil {
		m.onChange(name, healthy)
	}

	if note != nil && m.notifier != nil {
		if err := m.notifier.Notify(ctx, note); err != nil {
			m.logger.Error("failed to send credential notification", "credential", name, "kind", note.Kind, "error", err)
		}
	}
}

// IsHealthy reports whether a credential passed its last probe. Credentials
// that were never probed are considered healthy.
func (m *CredentialMonitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return !ok || state.Healthy
}

// States returns a copy of every credential's state, sorted by name.
func (m *CredentialMonitor) States() []*domain.CredentialState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.CredentialState, 0, len(m.states))
	for _, s := range m.states {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
