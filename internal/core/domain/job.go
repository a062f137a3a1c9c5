package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// EnrichmentKind identifies one category of derived computation.
type EnrichmentKind string

const (
	// KindEmbedding computes a vector embedding from the document text
	KindEmbedding EnrichmentKind = "embedding"
	// KindProjection projects the embedding to 2D map coordinates
	KindProjection EnrichmentKind = "projection"
	// KindMetadata extracts typed fields from the raw metadata payload
	KindMetadata EnrichmentKind = "metadata"
)

// Kinds lists all known enrichment kinds.
func Kinds() []EnrichmentKind {
	return []EnrichmentKind{KindEmbedding, KindProjection, KindMetadata}
}

// ValidKind reports whether k is a known enrichment kind.
func ValidKind(k EnrichmentKind) bool {
	switch k {
	case KindEmbedding, KindProjection, KindMetadata:
		return true
	}
	return false
}

// JobStatus represents the current state of an enrichment job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultMaxAttempts is the retry budget before a job is marked failed.
const DefaultMaxAttempts = 3

// EnrichmentJob is one queued request to enrich one document with one kind.
// At most one non-terminal (pending or claimed) job exists per
// (document, kind) pair; the store enforces this with a uniqueness
// constraint scoped to those statuses.
type EnrichmentJob struct {
	// ID is the unique identifier for this job
	ID string `json:"id"`

	// DocumentID is the document this job enriches
	DocumentID string `json:"document_id"`

	// Kind identifies which transform processes this job
	Kind EnrichmentKind `json:"kind"`

	// Status is the current state of the job
	Status JobStatus `json:"status"`

	// Priority determines claim order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this job has been claimed
	Attempts int `json:"attempts"`

	// MaxAttempts is the retry budget before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last failure reason, if any
	Error string `json:"error,omitempty"`

	// LeaseExpiresAt is when a claimed job becomes eligible for reaping.
	// Nil unless the job is claimed.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// ScheduledFor delays retries (exponential backoff)
	ScheduledFor time.Time `json:"scheduled_for"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEnrichmentJob creates a pending job with default values.
func NewEnrichmentJob(documentID string, kind EnrichmentKind, priority int) *EnrichmentJob {
	now := time.Now()
	return &EnrichmentJob{
		ID:           GenerateID(),
		DocumentID:   documentID,
		Kind:         kind,
		Status:       JobStatusPending,
		Priority:     priority,
		MaxAttempts:  DefaultMaxAttempts,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsActive reports whether the job is live: pending, or claimed with an
// unexpired lease. A claimed job past its lease is inactive but still
// occupies its (document, kind) slot until reaped or resolved.
func (j *EnrichmentJob) IsActive(now time.Time) bool {
	switch j.Status {
	case JobStatusPending:
		return true
	case JobStatusClaimed:
		return j.LeaseExpiresAt == nil || now.Before(*j.LeaseExpiresAt)
	}
	return false
}

// IsTerminal reports whether the job has reached a final state.
func (j *EnrichmentJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanRetry returns true if the job has attempts remaining.
func (j *EnrichmentJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// MarkClaimed updates the job to claimed with a lease.
func (j *EnrichmentJob) MarkClaimed(lease time.Duration) {
	now := time.Now()
	expiry := now.Add(lease)
	j.Status = JobStatusClaimed
	j.LeaseExpiresAt = &expiry
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted updates the job to completed.
func (j *EnrichmentJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	j.Error = ""
}

// MarkFailed updates the job to failed with a reason.
func (j *EnrichmentJob) MarkFailed(reason string) {
	j.Status = JobStatusFailed
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	j.Error = reason
}

// Retry resets the job to pending with exponential backoff.
func (j *EnrichmentJob) Retry(reason string) {
	now := time.Now()
	j.Status = JobStatusPending
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	j.Error = reason
	j.ScheduledFor = now.Add(RetryBackoff(j.Attempts))
}

// RetryBackoff returns the delay before the next attempt.
// Exponential: 2s, 4s, 8s, ... capped at 5 minutes.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
