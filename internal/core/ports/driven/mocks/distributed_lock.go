package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDistributedLock is an in-memory DistributedLock for testing.
type MockDistributedLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMockDistributedLock creates a new MockDistributedLock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if expiry, ok := m.held[name]; ok && expiry.After(now) {
		return false, nil
	}
	m.held[name] = now.Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[name]; !ok {
		return fmt.Errorf("lock %s not held", name)
	}
	m.held[name] = m.clock().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return nil
}
