package domain

import (
	"strings"
	"time"
)

// Document is the unit of content being enriched. Source fields (title,
// abstract, raw metadata payload) are owned by ingestion and never written
// by this subsystem. Derived fields are nullable until a worker computes
// them, and each derived field carries a tag recording which model or
// extractor version produced it.
type Document struct {
	// ID is the stable unique identifier, never reused
	ID string `json:"id"`

	// Title of the paper (source field)
	Title string `json:"title"`

	// Abstract text (source field, used for embedding)
	Abstract string `json:"abstract"`

	// RawMetadata is the semi-structured payload provided by the source
	// (OpenAlex-style nested maps). Owned by ingestion, read-only here.
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`

	// Embedding is the vector computed from the document text (nil until computed)
	Embedding []float32 `json:"embedding,omitempty"`

	// EmbeddingModel records which embedding model produced the vector
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// MapX/MapY are the 2D projection of the embedding (nil until computed)
	MapX *float64 `json:"map_x,omitempty"`
	MapY *float64 `json:"map_y,omitempty"`

	// MapVersion is the projection model version that produced MapX/MapY.
	// A coordinate whose version differs from the active model is stale.
	MapVersion *int `json:"map_version,omitempty"`

	// Extracted metadata fields (nil until extracted)
	Venue         *string  `json:"venue,omitempty"`
	CitationCount *int     `json:"citation_count,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	Institution   *string  `json:"institution,omitempty"`

	// MetaVersion records which extraction logic version produced the
	// extracted fields
	MetaVersion *string `json:"meta_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingText returns the text an embedding is computed from.
// Empty means the document is not eligible for embedding.
func (d *Document) EmbeddingText() string {
	return strings.TrimSpace(strings.TrimSpace(d.Title) + "\n\n" + strings.TrimSpace(d.Abstract))
}

// HasEmbedding reports whether the document carries a non-empty embedding.
// Documents without one are not eligible for projection.
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// CoordinateStale reports whether the stored 2D coordinate was produced by
// a model version other than activeVersion (including no coordinate at all).
func (d *Document) CoordinateStale(activeVersion int) bool {
	return d.MapVersion == nil || *d.MapVersion != activeVersion
}
