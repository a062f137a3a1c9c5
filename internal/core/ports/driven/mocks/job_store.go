package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// MockJobStore is an in-memory JobStore for testing. It mirrors the
// Postgres implementation's semantics: active-job uniqueness per
// (document, kind), claim ordering by priority then creation time, lease
// expiry, and retry backoff. All methods are safe for concurrent use.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.EnrichmentJob
}

// NewMockJobStore creates a new MockJobStore.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs: make(map[string]*domain.EnrichmentJob),
	}
}

func (m *MockJobStore) Enqueue(ctx context.Context, documentID string, kind domain.EnrichmentKind, priority int) (bool, error) {
	if documentID == "" || !domain.ValidKind(kind) {
		return false, domain.ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Any non-terminal row blocks, mirroring the partial unique index: a
	// claimed job with an expired lease still occupies the slot until it
	// is reaped or resolved.
	for _, j := range m.jobs {
		if j.DocumentID == documentID && j.Kind == kind && !j.IsTerminal() {
			return false, nil
		}
	}

	job := domain.NewEnrichmentJob(documentID, kind, priority)
	m.jobs[job.ID] = job
	return true, nil
}

func (m *MockJobStore) ClaimBatch(ctx context.Context, kind domain.EnrichmentKind, maxN int, lease time.Duration) ([]*domain.EnrichmentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var candidates []*domain.EnrichmentJob
	for _, j := range m.jobs {
		if j.Kind == kind && j.Status == domain.JobStatusPending && !j.ScheduledFor.After(now) {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority > candidates[b].Priority
		}
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})

	if len(candidates) > maxN {
		candidates = candidates[:maxN]
	}

	claimed := make([]*domain.EnrichmentJob, 0, len(candidates))
	for _, j := range candidates {
		j.MarkClaimed(lease)
		copied := *j
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (m *MockJobStore) Complete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status == domain.JobStatusCompleted {
		return nil
	}
	j.MarkCompleted()
	return nil
}

func (m *MockJobStore) Fail(ctx context.Context, jobID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	// Stale reports against jobs that were reaped and resolved elsewhere
	// are ignored; only a claimed job transitions.
	if j.Status != domain.JobStatusClaimed {
		return nil
	}
	if j.CanRetry() {
		j.Retry(reason)
	} else {
		j.MarkFailed(reason)
	}
	return nil
}

func (m *MockJobStore) ReapExpiredLeases(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reaped := 0
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusClaimed && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
			j.Status = domain.JobStatusPending
			j.LeaseExpiresAt = nil
			j.UpdatedAt = now
			reaped++
		}
	}
	return reaped, nil
}

func (m *MockJobStore) GetJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *MockJobStore) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.EnrichmentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.EnrichmentJob
	for _, j := range m.jobs {
		if filter.DocumentID != "" && j.DocumentID != filter.DocumentID {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		copied := *j
		out = append(out, &copied)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockJobStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	purged := 0
	for id, j := range m.jobs {
		if j.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MockJobStore) Stats(ctx context.Context) (*driven.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &driven.JobStats{}
	var oldestPending time.Time
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			stats.PendingCount++
			if oldestPending.IsZero() || j.CreatedAt.Before(oldestPending) {
				oldestPending = j.CreatedAt
			}
		case domain.JobStatusClaimed:
			stats.ClaimedCount++
		case domain.JobStatusCompleted:
			stats.CompletedCount++
		case domain.JobStatusFailed:
			stats.FailedCount++
		}
	}
	if !oldestPending.IsZero() {
		stats.OldestPendingAge = int64(time.Since(oldestPending).Seconds())
	}
	return stats, nil
}

func (m *MockJobStore) Ping(ctx context.Context) error {
	return nil
}

// ExpireLease force-expires a claimed job's lease so tests can exercise
// reaping without waiting.
func (m *MockJobStore) ExpireLease(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok && j.Status == domain.JobStatusClaimed {
		past := time.Now().Add(-time.Second)
		j.LeaseExpiresAt = &past
	}
}

// ClearBackoff zeroes a job's retry delay so tests can re-claim it
// immediately.
func (m *MockJobStore) ClearBackoff(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok {
		j.ScheduledFor = time.Now().Add(-time.Second)
	}
}
