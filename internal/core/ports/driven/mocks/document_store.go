package mocks

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// MockDocumentStore is an in-memory DocumentStore for testing.
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
}

// NewMockDocumentStore creates a new MockDocumentStore.
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
	}
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *doc
	m.documents[doc.ID] = &copied
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *MockDocumentStore) GetBatch(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.Document, len(ids))
	for _, id := range ids {
		if doc, ok := m.documents[id]; ok {
			copied := *doc
			out[id] = &copied
		}
	}
	return out, nil
}

func (m *MockDocumentStore) SetEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Embedding = append([]float32(nil), vector...)
	doc.EmbeddingModel = model
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) SetCoordinates(ctx context.Context, id string, x, y float64, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.MapX = &x
	doc.MapY = &y
	doc.MapVersion = &version
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) SetMetadata(ctx context.Context, id string, meta domain.ExtractedMetadata, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Venue = meta.Venue
	doc.CitationCount = meta.CitationCount
	doc.Topics = append([]string(nil), meta.Topics...)
	doc.Institution = meta.Institution
	doc.MetaVersion = &version
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) ListMissing(ctx context.Context, kind domain.EnrichmentKind, activeVersion int, afterID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, doc := range m.documents {
		if id <= afterID && afterID != "" {
			continue
		}
		if missing(doc, kind, activeVersion) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func missing(doc *domain.Document, kind domain.EnrichmentKind, activeVersion int) bool {
	switch kind {
	case domain.KindEmbedding:
		return doc.EmbeddingText() != "" && !doc.HasEmbedding()
	case domain.KindProjection:
		return doc.HasEmbedding() && doc.CoordinateStale(activeVersion)
	case domain.KindMetadata:
		return doc.RawMetadata != nil && doc.MetaVersion == nil
	}
	return false
}

func (m *MockDocumentStore) SampleEmbeddings(ctx context.Context, n int) ([][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all [][]float32
	for _, doc := range m.documents {
		if doc.HasEmbedding() {
			all = append(all, append([]float32(nil), doc.Embedding...))
		}
	}
	rand.Shuffle(len(all), func(a, b int) { all[a], all[b] = all[b], all[a] })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *MockDocumentStore) CountStaleCoordinates(ctx context.Context, activeVersion int) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, doc := range m.documents {
		if doc.HasEmbedding() && doc.CoordinateStale(activeVersion) {
			count++
		}
	}
	return count, nil
}
