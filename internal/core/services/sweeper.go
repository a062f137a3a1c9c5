package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// sweepLockName guards the backlog sweep across pipeline instances.
const sweepLockName = "backlog-sweep"

// Sweeper runs the periodic maintenance loop: reaping expired leases,
// re-enqueueing backlog, and pruning terminal jobs past retention.
//
// Lease reaping is idempotent and always runs. The backlog sweep and
// purge are guarded by a DistributedLock when one is configured, so only
// one instance scans the collection at a time.
type Sweeper struct {
	jobs     driven.JobStore
	enqueuer *Enqueuer
	lock     driven.DistributedLock
	logger   *slog.Logger

	interval  time.Duration
	pageSize  int
	retention time.Duration // 0 disables purging

	// Internal state
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	Jobs     driven.JobStore
	Enqueuer *Enqueuer
	Lock     driven.DistributedLock // Optional
	Logger   *slog.Logger

	// Interval between sweep cycles (default: 5m)
	Interval time.Duration

	// PageSize for the backlog scan (default: 500)
	PageSize int

	// Retention for terminal jobs; zero disables purging
	Retention time.Duration
}

// NewSweeper creates a sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Sweeper{
		jobs:      cfg.Jobs,
		enqueuer:  cfg.Enqueuer,
		lock:      cfg.Lock,
		logger:    logger,
		interval:  interval,
		pageSize:  pageSize,
		retention: cfg.Retention,
	}
}

// Start begins the sweep loop. It runs until Stop is called or the
// context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("sweeper starting", "interval", s.interval)
	go s.run(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance cycle. Exposed so the reap/sweep operator
// commands can run a single cycle without the loop.
func (s *Sweeper) Sweep(ctx context.Context) {
	reaped, err := s.jobs.ReapExpiredLeases(ctx)
	if err != nil {
		s.logger.Error("lease reap failed", "error", err)
	} else if reaped > 0 {
		s.logger.Info("reaped expired leases", "count", reaped)
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, sweepLockName, s.interval)
		if err != nil {
			s.logger.Error("sweep lock acquire failed", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), sweepLockName); err != nil {
				s.logger.Error("sweep lock release failed", "error", err)
			}
		}()
	}

	if s.enqueuer != nil {
		if _, err := s.enqueuer.SweepBacklog(ctx, s.pageSize); err != nil {
			s.logger.Error("backlog sweep failed", "error", err)
		}
	}

	if s.retention > 0 {
		purged, err := s.jobs.PurgeTerminal(ctx, s.retention)
		if err != nil {
			s.logger.Error("terminal job purge failed", "error", err)
		} else if purged > 0 {
			s.logger.Info("purged terminal jobs", "count", purged)
		}
	}

	if stats, err := s.jobs.Stats(ctx); err == nil {
		s.logger.Info("queue stats",
			"pending", stats.PendingCount,
			"claimed", stats.ClaimedCount,
			"failed", stats.FailedCount,
			"oldest_pending_age_sec", stats.OldestPendingAge,
		)
	}
}
