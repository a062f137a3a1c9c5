package mocks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

func TestMockJobStore_EnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	created, err := store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected first enqueue to create a job")
	}

	created, err = store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected duplicate enqueue to be suppressed")
	}

	// A different kind for the same document is a separate active job.
	created, err = store.Enqueue(ctx, "doc-1", domain.KindMetadata, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected enqueue of a different kind to create a job")
	}
}

func TestMockJobStore_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	if _, err := store.Enqueue(ctx, "", domain.KindEmbedding, 0); err != domain.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for empty document ID, got %v", err)
	}
	if _, err := store.Enqueue(ctx, "doc-1", "bogus", 0); err != domain.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for unknown kind, got %v", err)
	}
}

func TestMockJobStore_EnqueueAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 10, time.Minute)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(jobs))
	}
	if err := store.Complete(ctx, jobs[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Completed jobs do not block a fresh enqueue.
	created, err := store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected enqueue after completion to create a new job")
	}
}

func TestMockJobStore_ClaimOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-low", domain.KindEmbedding, 0)
	time.Sleep(time.Millisecond)
	store.Enqueue(ctx, "doc-high", domain.KindEmbedding, 10)

	jobs, err := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].DocumentID != "doc-high" {
		t.Errorf("expected higher priority job first, got %s", jobs[0].DocumentID)
	}
	if jobs[0].Status != domain.JobStatusClaimed {
		t.Errorf("expected claimed status, got %s", jobs[0].Status)
	}
	if jobs[0].Attempts != 1 {
		t.Errorf("expected attempts incremented on claim, got %d", jobs[0].Attempts)
	}
}

func TestMockJobStore_ClaimFiltersKind(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	store.Enqueue(ctx, "doc-2", domain.KindMetadata, 0)

	jobs, err := store.ClaimBatch(ctx, domain.KindMetadata, 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].DocumentID != "doc-2" {
		t.Fatalf("expected only the metadata job, got %v", jobs)
	}
}

func TestMockJobStore_NoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	const numJobs = 50
	for i := 0; i < numJobs; i++ {
		store.Enqueue(ctx, "doc-"+string(rune('a'+i%26))+string(rune('0'+i/26)), domain.KindEmbedding, 0)
	}

	const numWorkers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := store.ClaimBatch(ctx, domain.KindEmbedding, 5, time.Minute)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != numJobs {
		t.Errorf("expected %d distinct jobs claimed, got %d", numJobs, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %s claimed %d times", id, count)
		}
	}
}

func TestMockJobStore_FailRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)

	var lastID string
	for i := 0; i < domain.DefaultMaxAttempts; i++ {
		jobs, err := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(jobs) != 1 {
			t.Fatalf("attempt %d: expected 1 job, got %d", i+1, len(jobs))
		}
		lastID = jobs[0].ID
		if err := store.Fail(ctx, lastID, "upstream error"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		store.ClearBackoff(lastID)
	}

	job, err := store.GetJob(ctx, lastID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Errorf("expected failed after exhausting retries, got %s", job.Status)
	}
	if job.Error != "upstream error" {
		t.Errorf("expected failure reason recorded, got %q", job.Error)
	}

	// Failed is terminal: nothing left to claim.
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	if len(jobs) != 0 {
		t.Errorf("expected no claimable jobs, got %d", len(jobs))
	}
}

func TestMockJobStore_RetryBackoffDelaysReclaim(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.Fail(ctx, jobs[0].ID, "transient")

	// The retry is scheduled in the future, so an immediate claim sees nothing.
	jobs, _ = store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	if len(jobs) != 0 {
		t.Error("expected backoff to delay the retry")
	}
}

func TestMockJobStore_ReapExpiredLeases(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	store.Enqueue(ctx, "doc-2", domain.KindEmbedding, 0)

	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 10, time.Minute)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 claimed jobs, got %d", len(jobs))
	}
	store.ExpireLease(jobs[0].ID)

	reaped, err := store.ReapExpiredLeases(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reaped != 1 {
		t.Errorf("expected 1 reaped job, got %d", reaped)
	}

	// The reaped job is claimable again; the live lease is untouched.
	jobs, _ = store.ClaimBatch(ctx, domain.KindEmbedding, 10, time.Minute)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 reclaimable job, got %d", len(jobs))
	}
	if jobs[0].DocumentID != "doc-1" {
		t.Errorf("expected reaped job for doc-1, got %s", jobs[0].DocumentID)
	}
	if jobs[0].Attempts != 2 {
		t.Errorf("expected attempts 2 after reclaim, got %d", jobs[0].Attempts)
	}
}

func TestMockJobStore_CompleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)

	if err := store.Complete(ctx, jobs[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Complete(ctx, jobs[0].ID); err != nil {
		t.Errorf("expected repeated completion to succeed, got %v", err)
	}
	if err := store.Complete(ctx, "missing"); err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown job, got %v", err)
	}
}

func TestMockJobStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	store.Enqueue(ctx, "doc-2", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.Complete(ctx, jobs[0].ID)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Errorf("expected 1 pending, got %d", stats.PendingCount)
	}
	if stats.CompletedCount != 1 {
		t.Errorf("expected 1 completed, got %d", stats.CompletedCount)
	}
}

func TestMockJobStore_PurgeTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	store.Enqueue(ctx, "doc-2", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.Complete(ctx, jobs[0].ID)
	time.Sleep(time.Millisecond)

	purged, err := store.PurgeTerminal(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged job, got %d", purged)
	}

	remaining, _ := store.ListJobs(ctx, driven.JobFilter{})
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining job, got %d", len(remaining))
	}
}

func TestMockJobStore_ListJobsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	store.Enqueue(ctx, "doc-1", domain.KindMetadata, 0)
	store.Enqueue(ctx, "doc-2", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.Complete(ctx, jobs[0].ID)

	byDoc, err := store.ListJobs(ctx, driven.JobFilter{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byDoc) != 2 {
		t.Errorf("expected 2 jobs for doc-1, got %d", len(byDoc))
	}

	byKind, _ := store.ListJobs(ctx, driven.JobFilter{Kind: domain.KindEmbedding})
	if len(byKind) != 2 {
		t.Errorf("expected 2 embedding jobs, got %d", len(byKind))
	}

	completed, _ := store.ListJobs(ctx, driven.JobFilter{Status: domain.JobStatusCompleted})
	if len(completed) != 1 {
		t.Errorf("expected 1 completed job, got %d", len(completed))
	}

	limited, _ := store.ListJobs(ctx, driven.JobFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected 1 job with limit, got %d", len(limited))
	}

	skipped, _ := store.ListJobs(ctx, driven.JobFilter{Offset: 3})
	if len(skipped) != 0 {
		t.Errorf("expected no jobs past offset, got %d", len(skipped))
	}
}

func TestMockJobStore_FailAfterCompleteIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.Complete(ctx, jobs[0].ID)

	// A worker whose lease expired may report failure after another
	// worker already completed the job.
	if err := store.Fail(ctx, jobs[0].ID, "stale failure"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j, _ := store.GetJob(ctx, jobs[0].ID)
	if j.Status != domain.JobStatusCompleted {
		t.Errorf("expected the job to stay completed, got %s", j.Status)
	}
	if j.Error != "" {
		t.Errorf("expected no failure reason recorded, got %q", j.Error)
	}
}

func TestMockJobStore_FailAfterReapIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.ExpireLease(jobs[0].ID)
	if reaped, _ := store.ReapExpiredLeases(ctx); reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}

	if err := store.Fail(ctx, jobs[0].ID, "stale failure"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j, _ := store.GetJob(ctx, jobs[0].ID)
	if j.Status != domain.JobStatusPending {
		t.Errorf("expected the reaped job to stay pending, got %s", j.Status)
	}
	if j.Error != "" {
		t.Errorf("expected no failure reason recorded, got %q", j.Error)
	}
}

func TestMockJobStore_ExpiredClaimStillBlocksEnqueue(t *testing.T) {
	ctx := context.Background()
	store := NewMockJobStore()

	store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	jobs, _ := store.ClaimBatch(ctx, domain.KindEmbedding, 1, time.Minute)
	store.ExpireLease(jobs[0].ID)

	// The expired claim still occupies the (document, kind) slot.
	created, err := store.Enqueue(ctx, "doc-1", domain.KindEmbedding, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected the enqueue to be blocked by the expired claim")
	}

	store.ReapExpiredLeases(ctx)
	pending, _ := store.ListJobs(ctx, driven.JobFilter{Status: domain.JobStatusPending})
	if len(pending) != 1 {
		t.Errorf("expected exactly 1 pending job after reap, got %d", len(pending))
	}
}
