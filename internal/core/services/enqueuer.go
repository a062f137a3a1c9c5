package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Enqueuer is the single job-creation path. Ingestion calls EnqueueMissing
// after writing a document; the backlog sweep calls SweepBacklog
// periodically as an idempotent safety net for anything the insert-time
// trigger missed. Both paths go through JobStore.Enqueue, so the
// active-job uniqueness constraint makes them safe to run together.
type Enqueuer struct {
	jobs   driven.JobStore
	docs   driven.DocumentStore
	models driven.ModelStore
	logger *slog.Logger
}

// NewEnqueuer creates an enqueuer.
func NewEnqueuer(jobs driven.JobStore, docs driven.DocumentStore, models driven.ModelStore, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		jobs:   jobs,
		docs:   docs,
		models: models,
		logger: logger,
	}
}

// EnqueueMissing inserts a job for every enrichment kind the document is
// eligible for but lacks, and returns the kinds actually enqueued.
// Projection is only eligible once the document holds an embedding and
// its coordinate version is stale relative to the active model; documents
// without an embedding get no projection job at all.
func (e *Enqueuer) EnqueueMissing(ctx context.Context, doc *domain.Document, priority int) ([]domain.EnrichmentKind, error) {
	if doc == nil || doc.ID == "" {
		return nil, domain.ErrInvalidInput
	}

	var enqueued []domain.EnrichmentKind

	if doc.EmbeddingText() != "" && !doc.HasEmbedding() {
		created, err := e.jobs.Enqueue(ctx, doc.ID, domain.KindEmbedding, priority)
		if err != nil {
			return enqueued, fmt.Errorf("enqueue embedding for %s: %w", doc.ID, err)
		}
		if created {
			enqueued = append(enqueued, domain.KindEmbedding)
		}
	}

	if doc.RawMetadata != nil && doc.MetaVersion == nil {
		created, err := e.jobs.Enqueue(ctx, doc.ID, domain.KindMetadata, priority)
		if err != nil {
			return enqueued, fmt.Errorf("enqueue metadata for %s: %w", doc.ID, err)
		}
		if created {
			enqueued = append(enqueued, domain.KindMetadata)
		}
	}

	if doc.HasEmbedding() {
		activeVersion, err := e.models.ActiveVersion(ctx)
		switch {
		case errors.Is(err, domain.ErrNoActiveModel):
			// No model yet: nothing to project against.
		case err != nil:
			return enqueued, fmt.Errorf("look up active model: %w", err)
		case doc.CoordinateStale(activeVersion):
			created, err := e.jobs.Enqueue(ctx, doc.ID, domain.KindProjection, priority)
			if err != nil {
				return enqueued, fmt.Errorf("enqueue projection for %s: %w", doc.ID, err)
			}
			if created {
				enqueued = append(enqueued, domain.KindProjection)
			}
		}
	}

	return enqueued, nil
}

// SweepBacklog scans for documents missing any enrichment and enqueues
// jobs for them, paging by document ID. Idempotent: re-running never
// creates duplicate active jobs. Returns the number of jobs created.
func (e *Enqueuer) SweepBacklog(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	activeVersion := 0
	if v, err := e.models.ActiveVersion(ctx); err == nil {
		activeVersion = v
	} else if !errors.Is(err, domain.ErrNoActiveModel) {
		return 0, fmt.Errorf("look up active model: %w", err)
	}

	total := 0
	for _, kind := range domain.Kinds() {
		if kind == domain.KindProjection && activeVersion == 0 {
			continue
		}

		afterID := ""
		for {
			ids, err := e.docs.ListMissing(ctx, kind, activeVersion, afterID, pageSize)
			if err != nil {
				return total, fmt.Errorf("list documents missing %s: %w", kind, err)
			}
			if len(ids) == 0 {
				break
			}

			for _, id := range ids {
				created, err := e.jobs.Enqueue(ctx, id, kind, 0)
				if err != nil {
					return total, fmt.Errorf("enqueue %s for %s: %w", kind, id, err)
				}
				if created {
					total++
				}
			}
			afterID = ids[len(ids)-1]
		}
	}

	if total > 0 {
		e.logger.Info("backlog sweep enqueued jobs", "count", total)
	}
	return total, nil
}
