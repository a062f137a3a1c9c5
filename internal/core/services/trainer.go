package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
	"github.com/timgulden/arxivscope-sub000/internal/projection"
)

// trainLockName guards training across pipeline instances.
const trainLockName = "projection-train"

// Trainer fits, persists, and activates projection model versions.
// Training is the only operation that can trigger a full-collection
// re-enqueue, so it runs only on explicit request and under a
// distributed lock.
type Trainer struct {
	docs   driven.DocumentStore
	models driven.ModelStore
	jobs   driven.JobStore
	lock   driven.DistributedLock
	logger *slog.Logger

	sampleSize int
	lockTTL    time.Duration
}

// TrainerConfig holds configuration for the trainer.
type TrainerConfig struct {
	Docs   driven.DocumentStore
	Models driven.ModelStore
	Jobs   driven.JobStore
	Lock   driven.DistributedLock // Optional: skip locking when nil (single instance)
	Logger *slog.Logger

	// SampleSize is how many embeddings to fit on (default 10000)
	SampleSize int

	// LockTTL bounds how long the training lock is held (default 10m)
	LockTTL time.Duration
}

// NewTrainer creates a trainer.
func NewTrainer(cfg TrainerConfig) *Trainer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sampleSize := cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = 10000
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Trainer{
		docs:       cfg.Docs,
		models:     cfg.Models,
		jobs:       cfg.Jobs,
		lock:       cfg.Lock,
		logger:     logger,
		sampleSize: sampleSize,
		lockTTL:    lockTTL,
	}
}

// TrainResult describes a completed training run.
type TrainResult struct {
	Version    int `json:"version"`
	SampleSize int `json:"sample_size"`

	// Enqueued is how many re-projection jobs activation created
	Enqueued int `json:"enqueued"`
}

// Train fits a new projection model on a random sample of stored
// embeddings, persists it, activates it, and enqueues a re-projection job
// for every document whose coordinate version is now stale. Duplicate
// enqueues are suppressed by the active-job constraint, so a second
// trigger in quick succession creates no extra jobs for documents already
// queued.
func (t *Trainer) Train(ctx context.Context) (*TrainResult, error) {
	if t.lock != nil {
		acquired, err := t.lock.Acquire(ctx, trainLockName, t.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire training lock: %w", err)
		}
		if !acquired {
			return nil, domain.ErrLockHeld
		}
		defer func() {
			if err := t.lock.Release(context.WithoutCancel(ctx), trainLockName); err != nil {
				t.logger.Error("failed to release training lock", "error", err)
			}
		}()
	}

	sample, err := t.docs.SampleEmbeddings(ctx, t.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample embeddings: %w", err)
	}
	if len(sample) < projection.MinSampleSize {
		return nil, fmt.Errorf("%w: have %d embeddings, need %d",
			domain.ErrTrainingSampleTooSmall, len(sample), projection.MinSampleSize)
	}

	t.logger.Info("fitting projection model", "sample_size", len(sample))
	pca, err := projection.Fit(sample)
	if err != nil {
		return nil, fmt.Errorf("fit projection model: %w", err)
	}
	params, err := pca.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serialize projection model: %w", err)
	}

	model := &domain.ProjectionModel{
		SampleSize:   len(sample),
		SamplePolicy: domain.SamplePolicyRandom,
		Params:       params,
		TrainedAt:    time.Now(),
	}
	if err := t.models.Create(ctx, model); err != nil {
		return nil, fmt.Errorf("persist projection model: %w", err)
	}
	if err := t.models.Activate(ctx, model.Version); err != nil {
		return nil, fmt.Errorf("activate projection model version %d: %w", model.Version, err)
	}

	enqueued, err := t.reenqueueStale(ctx, model.Version)
	if err != nil {
		return nil, fmt.Errorf("re-enqueue stale coordinates: %w", err)
	}

	t.logger.Info("projection model activated",
		"version", model.Version,
		"sample_size", len(sample),
		"reprojection_jobs", enqueued,
	)

	return &TrainResult{
		Version:    model.Version,
		SampleSize: len(sample),
		Enqueued:   enqueued,
	}, nil
}

// reenqueueStale creates a projection job for every document holding an
// embedding whose coordinate version differs from the active one. One job
// per stale document, exactly: duplicates are suppressed by the store.
func (t *Trainer) reenqueueStale(ctx context.Context, activeVersion int) (int, error) {
	const pageSize = 1000

	total := 0
	afterID := ""
	for {
		ids, err := t.docs.ListMissing(ctx, domain.KindProjection, activeVersion, afterID, pageSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		for _, id := range ids {
			created, err := t.jobs.Enqueue(ctx, id, domain.KindProjection, 0)
			if err != nil {
				return total, err
			}
			if created {
				total++
			}
		}
		afterID = ids[len(ids)-1]
	}
}
