package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobStore = (*JobStore)(nil)

// JobStore implements the enrichment job queue on PostgreSQL.
//
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent claimers never
// receive overlapping batches, and the partial unique index on
// (document_id, kind) over non-terminal statuses makes Enqueue
// idempotent without any application-level locking.
type JobStore struct {
	db *DB
}

// NewJobStore creates a Postgres-backed job store.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, document_id, kind, status, priority, attempts, max_attempts,
	error, lease_expires_at, scheduled_for, created_at, updated_at`

// Enqueue inserts a pending job unless an active one exists for the
// (document, kind) pair. The ON CONFLICT target matches the partial
// unique index, so a duplicate insert is silently skipped and reported
// through the created flag.
func (s *JobStore) Enqueue(ctx context.Context, documentID string, kind domain.EnrichmentKind, priority int) (bool, error) {
	if documentID == "" || !domain.ValidKind(kind) {
		return false, domain.ErrInvalidInput
	}

	job := domain.NewEnrichmentJob(documentID, kind, priority)

	query := `
		INSERT INTO enrichment_jobs (
			id, document_id, kind, status, priority,
			attempts, max_attempts, error, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (document_id, kind) WHERE status IN ('pending', 'claimed') DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.DocumentID,
		job.Kind,
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.Error,
		job.ScheduledFor,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ClaimBatch atomically claims up to maxN pending jobs of the given kind.
// The inner select locks candidate rows with SKIP LOCKED so two
// concurrent claims never return overlapping job sets.
func (s *JobStore) ClaimBatch(ctx context.Context, kind domain.EnrichmentKind, maxN int, lease time.Duration) ([]*domain.EnrichmentJob, error) {
	if maxN <= 0 {
		return nil, nil
	}

	now := time.Now()
	query := `
		UPDATE enrichment_jobs
		SET status = 'claimed',
		    lease_expires_at = $3,
		    attempts = attempts + 1,
		    updated_at = $4
		WHERE id IN (
			SELECT id FROM enrichment_jobs
			WHERE status = 'pending'
			  AND kind = $1
			  AND scheduled_for <= $4
			ORDER BY priority DESC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := s.db.QueryContext(ctx, query, kind, maxN, now.Add(lease), now)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return jobs, nil
}

// Complete marks a job completed. Calling it again for an already
// completed job is a no-op.
func (s *JobStore) Complete(ctx context.Context, jobID string) error {
	query := `
		UPDATE enrichment_jobs
		SET status = 'completed', lease_expires_at = NULL, error = '', updated_at = $2
		WHERE id = $1 AND status IN ('claimed', 'completed')
	`

	result, err := s.db.ExecContext(ctx, query, jobID, time.Now())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing job from one in a non-completable state.
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not claimed or completed", jobID)
	}
	return nil
}

// Fail records a failure for a claimed job: retry with backoff while
// attempts remain, terminal failed state otherwise. Only claimed jobs
// transition, so a worker whose lease expired and whose batch was reaped
// and resolved elsewhere cannot overwrite the recorded outcome; its
// stale report is ignored. The retry branch lives in the UPDATE itself,
// matching the Go-side backoff of 2^attempts seconds capped at 5 minutes.
func (s *JobStore) Fail(ctx context.Context, jobID string, reason string) error {
	now := time.Now()
	query := `
		UPDATE enrichment_jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		    lease_expires_at = NULL,
		    error = $2,
		    scheduled_for = CASE WHEN attempts < max_attempts
		        THEN $3::timestamptz + make_interval(secs => LEAST(POWER(2, GREATEST(attempts, 1)), 300))
		        ELSE scheduled_for END,
		    updated_at = $3
		WHERE id = $1 AND status = 'claimed'
	`

	result, err := s.db.ExecContext(ctx, query, jobID, reason, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		// Stale report: the lease expired and the job moved on.
		return nil
	}
	return nil
}

// ReapExpiredLeases resets claimed jobs with expired leases back to
// pending. Idempotent and safe under concurrent callers: a row is only
// reaped once because the status flips inside the single UPDATE.
func (s *JobStore) ReapExpiredLeases(ctx context.Context) (int, error) {
	query := `
		UPDATE enrichment_jobs
		SET status = 'pending', lease_expires_at = NULL, updated_at = $1
		WHERE status = 'claimed' AND lease_expires_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs matching the filter.
func (s *JobStore) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE 1=1`
	var args []any

	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += fmt.Sprintf(" AND document_id = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// PurgeTerminal removes completed/failed jobs older than the given age.
func (s *JobStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		DELETE FROM enrichment_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Stats returns queue depth by status.
func (s *JobStore) Stats(ctx context.Context) (*driven.JobStats, error) {
	stats := &driven.JobStats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusPending:
			stats.PendingCount = count
		case domain.JobStatusClaimed:
			stats.ClaimedCount = count
		case domain.JobStatusCompleted:
			stats.CompletedCount = count
		case domain.JobStatusFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	ageQuery := `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint
		FROM enrichment_jobs
		WHERE status = 'pending'
	`
	var age sql.NullInt64
	err = s.db.QueryRowContext(ctx, ageQuery).Scan(&age)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	if age.Valid {
		stats.OldestPendingAge = age.Int64
	}

	return stats, nil
}

// Ping checks database connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.EnrichmentJob, error) {
	var job domain.EnrichmentJob
	var leaseExpiresAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&job.Kind,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Error,
		&leaseExpiresAt,
		&job.ScheduledFor,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	return &job, nil
}
