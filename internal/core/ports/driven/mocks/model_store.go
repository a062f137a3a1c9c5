package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// MockModelStore is an in-memory ModelStore for testing.
type MockModelStore struct {
	mu     sync.Mutex
	models map[int]*domain.ProjectionModel
	next   int
}

// NewMockModelStore creates a new MockModelStore.
func NewMockModelStore() *MockModelStore {
	return &MockModelStore{
		models: make(map[int]*domain.ProjectionModel),
		next:   1,
	}
}

func (m *MockModelStore) Create(ctx context.Context, model *domain.ProjectionModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	model.Version = m.next
	model.Active = false
	if model.TrainedAt.IsZero() {
		model.TrainedAt = time.Now()
	}
	m.next++
	copied := *model
	m.models[model.Version] = &copied
	return nil
}

func (m *MockModelStore) Activate(ctx context.Context, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.models[version]
	if !ok {
		return domain.ErrNotFound
	}
	for _, model := range m.models {
		model.Active = false
	}
	target.Active = true
	return nil
}

func (m *MockModelStore) Active(ctx context.Context) (*domain.ProjectionModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, model := range m.models {
		if model.Active {
			copied := *model
			return &copied, nil
		}
	}
	return nil, domain.ErrNoActiveModel
}

func (m *MockModelStore) ActiveVersion(ctx context.Context) (int, error) {
	model, err := m.Active(ctx)
	if err != nil {
		return 0, err
	}
	return model.Version, nil
}

func (m *MockModelStore) Get(ctx context.Context, version int) (*domain.ProjectionModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[version]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *model
	return &copied, nil
}
