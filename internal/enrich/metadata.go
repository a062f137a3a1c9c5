package enrich

import (
	"context"
	"fmt"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ Transform = (*MetadataTransform)(nil)

// MetadataTransform parses each document's raw metadata payload into the
// fixed typed field set. Pure parsing, no external calls, no shared state;
// it exists mainly to batch-process the backlog of ingested-but-
// unextracted documents.
//
// Field paths within the OpenAlex-style payload:
//
//	venue          host_venue.display_name
//	citation count cited_by_count
//	topics         concepts[].display_name
//	institution    authorships[0].institutions[0].display_name
type MetadataTransform struct {
	docs driven.DocumentStore
}

// NewMetadataTransform creates the metadata extraction transform.
func NewMetadataTransform(docs driven.DocumentStore) *MetadataTransform {
	return &MetadataTransform{docs: docs}
}

// Kind returns the enrichment kind this transform processes.
func (t *MetadataTransform) Kind() domain.EnrichmentKind {
	return domain.KindMetadata
}

// RequiredFields names the source fields read from each document.
func (t *MetadataTransform) RequiredFields() []string {
	return []string{"id", "raw_metadata"}
}

// Apply extracts metadata for the batch. A document with no payload at
// all fails permanently; missing sub-fields simply yield null fields.
func (t *MetadataTransform) Apply(ctx context.Context, docs []*domain.Document) ([]Result, error) {
	results := make([]Result, len(docs))
	for i, doc := range docs {
		results[i].DocumentID = doc.ID

		meta, err := Extract(doc.RawMetadata)
		if err != nil {
			results[i].Err = err
			continue
		}

		if err := t.docs.SetMetadata(ctx, doc.ID, meta, domain.MetadataVersion); err != nil {
			return nil, fmt.Errorf("store metadata for %s: %w", doc.ID, err)
		}
	}
	return results, nil
}

// Extract parses a raw metadata payload into typed fields. Missing
// sub-fields produce nil values; only a structurally absent payload is an
// error.
func Extract(raw map[string]any) (domain.ExtractedMetadata, error) {
	var meta domain.ExtractedMetadata
	if raw == nil {
		return meta, domain.ErrUnparseablePayload
	}

	meta.Venue = stringAt(raw, "host_venue", "display_name")
	meta.CitationCount = intAt(raw, "cited_by_count")
	meta.Institution = firstInstitution(raw)

	if concepts, ok := raw["concepts"].([]any); ok {
		for _, c := range concepts {
			if name := stringAt(asMap(c), "display_name"); name != nil {
				meta.Topics = append(meta.Topics, *name)
			}
		}
	}

	return meta, nil
}

func firstInstitution(raw map[string]any) *string {
	authorships, ok := raw["authorships"].([]any)
	if !ok || len(authorships) == 0 {
		return nil
	}
	institutions, ok := asMap(authorships[0])["institutions"].([]any)
	if !ok || len(institutions) == 0 {
		return nil
	}
	return stringAt(asMap(institutions[0]), "display_name")
}

// stringAt walks nested maps along path and returns the string leaf, or
// nil if any step is missing or mistyped.
func stringAt(m map[string]any, path ...string) *string {
	v := valueAt(m, path...)
	if s, ok := v.(string); ok && s != "" {
		return &s
	}
	return nil
}

// intAt walks nested maps along path and returns the integer leaf.
// JSON numbers decode as float64; both are accepted.
func intAt(m map[string]any, path ...string) *int {
	switch v := valueAt(m, path...).(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		n := v
		return &n
	}
	return nil
}

func valueAt(m map[string]any, path ...string) any {
	if m == nil || len(path) == 0 {
		return nil
	}
	var cur any = m
	for _, key := range path {
		node := asMap(cur)
		if node == nil {
			return nil
		}
		cur = node[key]
	}
	return cur
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
