package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock is an in-memory DistributedLock with expiring leases.
type MockDistributedLock struct {
	mu     sync.Mutex
	held   map[string]*mockLease
	expiry map[string]time.Time

	// TryAcquireFn replaces the in-memory behaviour when set
	TryAcquireFn func(name string, ttl time.Duration) (driven.Lease, error)
	PingFn       func() error

	// Acquired records every lock name successfully taken, in order
	Acquired []string
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		held:   make(map[string]*mockLease),
		expiry: make(map[string]time.Time),
	}
}

func (m *MockDistributedLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (driven.Lease, error) {
	if m.TryAcquireFn != nil {
		return m.TryAcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heldLocked(name) {
		return nil, nil
	}
	ls := &mockLease{lock: m, name: name}
	m.held[name] = ls
	m.expiry[name] = time.Now().Add(ttl)
	m.Acquired = append(m.Acquired, name)
	return ls, nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// SetLockHeld marks name as held by another instance for ttl.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = &mockLease{lock: m, name: name}
	m.expiry[name] = time.Now().Add(ttl)
}

// IsHeld reports whether an unexpired lease exists for name.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(name)
}

// Reset drops every lease and the acquisition history.
func (m *MockDistributedLock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = make(map[string]*mockLease)
	m.expiry = make(map[string]time.Time)
	m.Acquired = nil
}

func (m *MockDistributedLock) heldLocked(name string) bool {
	_, ok := m.held[name]
	return ok && time.Now().Before(m.expiry[name])
}

type mockLease struct {
	lock *MockDistributedLock
	name string
}

func (l *mockLease) Name() string { return l.name }

func (l *mockLease) Release(ctx context.Context) error {
	l.lock.mu.Lock()
	defer l.lock.mu.Unlock()
	if l.lock.held[l.name] == l {
		delete(l.lock.held, l.name)
		delete(l.lock.expiry, l.name)
	}
	return nil
}
