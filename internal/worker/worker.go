// Package worker contains the generic polling runtime that drives one
// enrichment kind. One process group runs per kind; each process claims a
// batch, runs the kind's transform, resolves each job, and sleeps when
// the queue is empty. Workers share no in-memory state and are
// independently restartable; crashed workers are recovered through the
// job store's lease-reap mechanism.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
	"github.com/timgulden/arxivscope-sub000/internal/enrich"
)

// Worker polls the job store for one enrichment kind and processes
// claimed batches through its transform.
type Worker struct {
	jobs      driven.JobStore
	docs      driven.DocumentStore
	transform enrich.Transform
	logger    *slog.Logger

	// Configuration
	batchSize    int
	lease        time.Duration
	idleSleep    time.Duration
	errorSleep   time.Duration
	reapInterval time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds configuration for a worker.
type Config struct {
	Jobs      driven.JobStore
	Docs      driven.DocumentStore
	Transform enrich.Transform
	Logger    *slog.Logger

	// BatchSize is how many jobs to claim per cycle (default 500)
	BatchSize int

	// Lease is how long a claim is held before it can be reaped (default 5m)
	Lease time.Duration

	// IdleSleep is how long to sleep after an empty claim (default 5s)
	IdleSleep time.Duration

	// ErrorSleep is how long to back off after a structural failure
	// (default 10s)
	ErrorSleep time.Duration

	// ReapInterval is how often this worker reaps expired leases
	// (default 1m); negative disables the embedded reaper
	ReapInterval time.Duration
}

// New creates a worker for the transform's enrichment kind.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("kind", cfg.Transform.Kind())

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	idleSleep := cfg.IdleSleep
	if idleSleep <= 0 {
		idleSleep = 5 * time.Second
	}
	errorSleep := cfg.ErrorSleep
	if errorSleep <= 0 {
		errorSleep = 10 * time.Second
	}
	reapInterval := cfg.ReapInterval
	if reapInterval == 0 {
		reapInterval = time.Minute
	}

	return &Worker{
		jobs:         cfg.Jobs,
		docs:         cfg.Docs,
		transform:    cfg.Transform,
		logger:       logger,
		batchSize:    batchSize,
		lease:        lease,
		idleSleep:    idleSleep,
		errorSleep:   errorSleep,
		reapInterval: reapInterval,
	}
}

// Start begins the polling loop. It runs until Stop is called or the
// context is cancelled; the in-flight batch is always resolved before
// the loop exits.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"batch_size", w.batchSize,
		"lease", w.lease,
		"idle_sleep", w.idleSleep,
	)

	go w.run(ctx)
	return nil
}

// Stop gracefully stops the worker: the current batch finishes resolving,
// no new batch is claimed, and the loop exits.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	var reapTick <-chan time.Time
	if w.reapInterval > 0 {
		ticker := time.NewTicker(w.reapInterval)
		defer ticker.Stop()
		reapTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			w.logger.Info("worker stop signal received")
			return
		case <-reapTick:
			if reaped, err := w.jobs.ReapExpiredLeases(ctx); err != nil {
				w.logger.Error("lease reap failed", "error", err)
			} else if reaped > 0 {
				w.logger.Info("reaped expired leases", "count", reaped)
			}
			continue
		default:
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			// Structural failure: the claimed batch stays leased and the
			// reaper recovers it. Log loudly and back off.
			w.logger.Error("worker cycle aborted", "error", err)
			w.sleep(ctx, w.errorSleep)
			continue
		}
		if processed == 0 {
			w.sleep(ctx, w.idleSleep)
		}
	}
}

// ProcessOnce runs a single claim-process-resolve cycle and returns how
// many jobs it claimed. A zero return with nil error means the queue was
// empty.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.jobs.ClaimBatch(ctx, w.transform.Kind(), w.batchSize, w.lease)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	start := time.Now()

	ids := make([]string, len(batch))
	jobByDoc := make(map[string]*domain.EnrichmentJob, len(batch))
	for i, job := range batch {
		ids[i] = job.DocumentID
		jobByDoc[job.DocumentID] = job
	}

	found, err := w.docs.GetBatch(ctx, ids)
	if err != nil {
		return len(batch), fmt.Errorf("fetch documents: %w", err)
	}

	docs := make([]*domain.Document, 0, len(found))
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
		}
	}

	results, err := w.transform.Apply(ctx, docs)
	if err != nil {
		return len(batch), fmt.Errorf("apply %s transform: %w", w.transform.Kind(), err)
	}

	// Once the transform has produced results, every claimed job gets its
	// outcome recorded even if the claim context is cancelled mid-batch;
	// an interrupted resolution would strand the batch until lease reap.
	resolveCtx := context.WithoutCancel(ctx)

	completed, failed := 0, 0
	for _, res := range results {
		job := jobByDoc[res.DocumentID]
		if job == nil {
			continue
		}
		delete(jobByDoc, res.DocumentID)

		if res.Err != nil {
			failed++
			if err := w.jobs.Fail(resolveCtx, job.ID, res.Err.Error()); err != nil {
				w.logger.Error("failed to resolve job as failed", "job_id", job.ID, "error", err)
			}
			continue
		}
		completed++
		if err := w.jobs.Complete(resolveCtx, job.ID); err != nil {
			w.logger.Error("failed to resolve job as completed", "job_id", job.ID, "error", err)
		}
	}

	// Jobs whose document no longer exists cannot ever succeed.
	for _, job := range jobByDoc {
		failed++
		if err := w.jobs.Fail(resolveCtx, job.ID, "document not found"); err != nil {
			w.logger.Error("failed to resolve orphan job", "job_id", job.ID, "error", err)
		}
	}

	w.logger.Info("batch processed",
		"claimed", len(batch),
		"completed", completed,
		"failed", failed,
		"duration", time.Since(start),
	)
	return len(batch), nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health reports whether the loop is running and the job store reachable.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}
	if err := w.jobs.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
