package driven

import (
	"context"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// DocumentStore persists documents and their derived fields.
// Ingestion owns the source fields; the pipeline only writes derived
// fields, always keyed by document ID and paired with a version tag.
type DocumentStore interface {
	// Save creates or updates a document's source fields.
	Save(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID.
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetBatch retrieves documents by ID. Missing IDs are absent from the
	// returned map, not an error.
	GetBatch(ctx context.Context, ids []string) (map[string]*domain.Document, error)

	// SetEmbedding writes a document's embedding and the model tag that
	// produced it.
	SetEmbedding(ctx context.Context, id string, vector []float32, model string) error

	// SetCoordinates writes a document's 2D map coordinate and the
	// projection model version that produced it.
	SetCoordinates(ctx context.Context, id string, x, y float64, version int) error

	// SetMetadata writes a document's extracted metadata fields and the
	// extractor version that produced them.
	SetMetadata(ctx context.Context, id string, meta domain.ExtractedMetadata, version string) error

	// ListMissing returns IDs of documents eligible for, but lacking, the
	// given enrichment kind, in ID order starting after afterID. For
	// projection, a document is lacking when it holds an embedding but
	// its coordinate version differs from activeVersion.
	ListMissing(ctx context.Context, kind domain.EnrichmentKind, activeVersion int, afterID string, limit int) ([]string, error)

	// SampleEmbeddings returns up to n embeddings selected uniformly at
	// random from documents that hold one.
	SampleEmbeddings(ctx context.Context, n int) ([][]float32, error)

	// CountStaleCoordinates counts documents holding an embedding whose
	// coordinate version differs from activeVersion.
	CountStaleCoordinates(ctx context.Context, activeVersion int) (int64, error)
}
