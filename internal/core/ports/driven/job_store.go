package driven

import (
	"context"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// JobStore is the durable enrichment job queue.
// The Postgres implementation uses FOR UPDATE SKIP LOCKED so concurrent
// claimers never receive overlapping batches.
type JobStore interface {
	// Enqueue inserts a pending job if and only if no pending or claimed
	// job exists for the (document, kind) pair. Returns whether a job was
	// created; a duplicate enqueue is a no-op, not an error.
	Enqueue(ctx context.Context, documentID string, kind domain.EnrichmentKind, priority int) (bool, error)

	// ClaimBatch atomically selects up to maxN pending jobs of the given
	// kind, ordered by priority descending then creation time ascending,
	// marks them claimed with a lease of the given duration, and returns
	// them. Safe under concurrent callers.
	ClaimBatch(ctx context.Context, kind domain.EnrichmentKind, maxN int, lease time.Duration) ([]*domain.EnrichmentJob, error)

	// Complete marks a job completed. Idempotent if already completed.
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure for a claimed job. If the job has attempts
	// remaining it is reset to pending with backoff; otherwise it is
	// marked failed with the reason. A report against a job that is no
	// longer claimed is ignored.
	Fail(ctx context.Context, jobID string, reason string) error

	// ReapExpiredLeases resets claimed jobs whose lease has expired back
	// to pending and returns how many were reaped. Safe to run
	// concurrently from any worker.
	ReapExpiredLeases(ctx context.Context) (int, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error)

	// ListJobs retrieves jobs matching the filter, for operator inspection.
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.EnrichmentJob, error)

	// PurgeTerminal removes completed/failed jobs older than the given
	// age and returns how many were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue depth by status.
	Stats(ctx context.Context) (*JobStats, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	// DocumentID filters by document (optional)
	DocumentID string

	// Kind filters by enrichment kind (optional, empty means all)
	Kind domain.EnrichmentKind

	// Status filters by job status (optional, empty means all)
	Status domain.JobStatus

	// Limit is the maximum number of jobs to return
	Limit int

	// Offset is the number of jobs to skip
	Offset int
}

// JobStats contains queue depth counters.
type JobStats struct {
	PendingCount   int64 `json:"pending_count"`
	ClaimedCount   int64 `json:"claimed_count"`
	CompletedCount int64 `json:"completed_count"`
	FailedCount    int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest pending job in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`
}
