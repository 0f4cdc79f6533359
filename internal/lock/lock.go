// Package lock defines the lease-based mutual exclusion contract used
// to dedupe concurrent side effects (topic creation), plus an
// in-process implementation for tests and single-instance deployments.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker is a short-lived mutual exclusion primitive keyed by string.
// A grant expires after its lease so a crashed holder cannot wedge
// other actors indefinitely.
type Locker interface {
	// TryAcquire attempts to take the lock without blocking and reports
	// whether the caller now holds it.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	// Release drops the lock. Releasing an expired or unheld key is a
	// no-op.
	Release(ctx context.Context, key string) error
}

// Memory is an in-process Locker. Leases are enforced on access.
type Memory struct {
	now func() time.Time

	mu     sync.Mutex
	leases map[string]time.Time
}

// NewMemory creates an in-process lease locker.
func NewMemory() *Memory {
	return &Memory{
		now:    time.Now,
		leases: make(map[string]time.Time),
	}
}

// TryAcquire implements Locker.
func (m *Memory) TryAcquire(_ context.Context, key string, lease time.Duration) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if until, ok := m.leases[key]; ok && now.Before(until) {
		return false, nil
	}
	m.leases[key] = now.Add(lease)
	return true, nil
}

// Release implements Locker.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, key)
	return nil
}
