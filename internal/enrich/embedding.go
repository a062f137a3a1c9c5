package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ Transform = (*EmbeddingTransform)(nil)

// EmbeddingTransform computes embeddings for a batch of documents via the
// external embedding service and stores them with the producing model's
// tag. After a successful write it chains a projection job for the
// document, since the document only now becomes eligible for projection.
type EmbeddingTransform struct {
	docs     driven.DocumentStore
	jobs     driven.JobStore
	embedder driven.EmbeddingService
	logger   *slog.Logger
}

// NewEmbeddingTransform creates the embedding transform.
func NewEmbeddingTransform(docs driven.DocumentStore, jobs driven.JobStore, embedder driven.EmbeddingService, logger *slog.Logger) *EmbeddingTransform {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingTransform{
		docs:     docs,
		jobs:     jobs,
		embedder: embedder,
		logger:   logger,
	}
}

// Kind returns the enrichment kind this transform processes.
func (t *EmbeddingTransform) Kind() domain.EnrichmentKind {
	return domain.KindEmbedding
}

// RequiredFields names the source fields read from each document.
func (t *EmbeddingTransform) RequiredFields() []string {
	return []string{"id", "title", "abstract"}
}

// Apply embeds the batch. Documents with no text fail permanently; the
// rest are sent to the embedding service in one batch call. The service
// adapter owns rate-limit backoff, so a rate-limited batch blocks here
// rather than failing.
func (t *EmbeddingTransform) Apply(ctx context.Context, docs []*domain.Document) ([]Result, error) {
	results := make([]Result, len(docs))

	texts := make([]string, 0, len(docs))
	textIdx := make([]int, 0, len(docs))
	for i, doc := range docs {
		results[i].DocumentID = doc.ID
		text := doc.EmbeddingText()
		if text == "" {
			results[i].Err = domain.ErrEmptyText
			continue
		}
		texts = append(texts, text)
		textIdx = append(textIdx, i)
	}

	if len(texts) == 0 {
		return results, nil
	}

	embedded, err := t.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}
	if len(embedded) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(embedded))
	}

	model := t.embedder.Model()
	for pos, item := range embedded {
		i := textIdx[pos]
		if item.Err != nil {
			results[i].Err = item.Err
			continue
		}

		docID := docs[i].ID
		if err := t.docs.SetEmbedding(ctx, docID, item.Vector, model); err != nil {
			return nil, fmt.Errorf("store embedding for %s: %w", docID, err)
		}

		// The document is now projectable; queue it for the projection
		// worker. Idempotent if a projection job is already active.
		if _, err := t.jobs.Enqueue(ctx, docID, domain.KindProjection, 0); err != nil {
			t.logger.Error("failed to chain projection job", "document_id", docID, "error", err)
		}
	}

	return results, nil
}
