package mocks

import (
	"context"
	"sync"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// MockEmbeddingService is a deterministic EmbeddingService for testing.
// By default it returns a fixed-dimension vector per text and a per-item
// error for empty texts, matching the real adapter's contract.
type MockEmbeddingService struct {
	mu sync.Mutex

	// EmbedFunc overrides Embed when set
	EmbedFunc func(ctx context.Context, texts []string) ([]driven.EmbeddingResult, error)

	// Calls records every batch passed to Embed
	Calls [][]string

	dimensions int
	model      string
}

// NewMockEmbeddingService creates a mock producing 4-dimensional vectors.
func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{
		dimensions: 4,
		model:      "mock-embedding",
	}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, texts []string) ([]driven.EmbeddingResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]string(nil), texts...))
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}

	results := make([]driven.EmbeddingResult, len(texts))
	for i, text := range texts {
		if text == "" {
			results[i].Err = domain.ErrEmptyText
			continue
		}
		vec := make([]float32, m.dimensions)
		for j := range vec {
			vec[j] = float32(len(text)%(j+2)) + float32(j)
		}
		results[i].Vector = vec
	}
	return results, nil
}

func (m *MockEmbeddingService) Dimensions() int { return m.dimensions }
func (m *MockEmbeddingService) Model() string   { return m.model }
func (m *MockEmbeddingService) Close() error    { return nil }

// CallCount returns how many batches were embedded.
func (m *MockEmbeddingService) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
