package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
	"github.com/timgulden/arxivscope-sub000/internal/projection"
)

// ModelCache lazily loads the active projection model and keeps a decoded
// copy per process. On each access after the refresh interval it re-checks
// the active version and swaps in the new model if training activated one,
// so workers pick up a retrain without restarting.
type ModelCache struct {
	store   driven.ModelStore
	refresh time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	model     *domain.ProjectionModel
	pca       *projection.PCA
	checkedAt time.Time
}

// NewModelCache creates a model cache with the given refresh interval.
func NewModelCache(store driven.ModelStore, refresh time.Duration, logger *slog.Logger) *ModelCache {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelCache{
		store:   store,
		refresh: refresh,
		logger:  logger,
	}
}

// Get returns the active model and its decoded parameters, loading or
// refreshing as needed.
func (c *ModelCache) Get(ctx context.Context) (*domain.ProjectionModel, *projection.PCA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.model != nil && now.Sub(c.checkedAt) < c.refresh {
		return c.model, c.pca, nil
	}

	version, err := c.store.ActiveVersion(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.checkedAt = now

	if c.model != nil && c.model.Version == version {
		return c.model, c.pca, nil
	}

	model, err := c.store.Get(ctx, version)
	if err != nil {
		return nil, nil, fmt.Errorf("load model version %d: %w", version, err)
	}
	pca, err := projection.Unmarshal(model.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: version %d: %v", domain.ErrModelCorrupt, version, err)
	}

	if c.model != nil {
		c.logger.Info("projection model swapped",
			"old_version", c.model.Version,
			"new_version", version,
		)
	}
	c.model = model
	c.pca = pca
	return c.model, c.pca, nil
}

// Invalidate drops the cached model so the next Get reloads.
func (c *ModelCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = nil
	c.pca = nil
	c.checkedAt = time.Time{}
}

// Verify interface compliance
var _ Transform = (*ProjectionTransform)(nil)

// ProjectionTransform applies the active projection model to document
// embeddings, producing 2D map coordinates tagged with the model version.
// Pure given a fixed model: no network calls.
type ProjectionTransform struct {
	docs  driven.DocumentStore
	cache *ModelCache
}

// NewProjectionTransform creates the projection transform.
func NewProjectionTransform(docs driven.DocumentStore, cache *ModelCache) *ProjectionTransform {
	return &ProjectionTransform{docs: docs, cache: cache}
}

// Kind returns the enrichment kind this transform processes.
func (t *ProjectionTransform) Kind() domain.EnrichmentKind {
	return domain.KindProjection
}

// RequiredFields names the source fields read from each document.
func (t *ProjectionTransform) RequiredFields() []string {
	return []string{"id", "embedding"}
}

// Apply projects the batch with the active model. A missing or
// wrong-dimension embedding is a permanent per-item failure; a missing or
// corrupt model aborts the cycle.
func (t *ProjectionTransform) Apply(ctx context.Context, docs []*domain.Document) ([]Result, error) {
	model, pca, err := t.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active projection model: %w", err)
	}

	results := make([]Result, len(docs))
	for i, doc := range docs {
		results[i].DocumentID = doc.ID

		if !doc.HasEmbedding() {
			results[i].Err = domain.ErrNoEmbedding
			continue
		}

		x, y, err := pca.Project(doc.Embedding)
		if err != nil {
			results[i].Err = err
			continue
		}

		if err := t.docs.SetCoordinates(ctx, doc.ID, x, y, model.Version); err != nil {
			return nil, fmt.Errorf("store coordinates for %s: %w", doc.ID, err)
		}
	}

	return results, nil
}
