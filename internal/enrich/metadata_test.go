package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven/mocks"
)

// openAlexPayload decodes a JSON literal the way stored payloads decode:
// numbers as float64, objects as map[string]any.
func openAlexPayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("bad payload literal: %v", err)
	}
	return m
}

func TestExtract_FullPayload(t *testing.T) {
	payload := openAlexPayload(t, `{
		"host_venue": {"display_name": "Nature"},
		"cited_by_count": 42,
		"concepts": [
			{"display_name": "Machine Learning"},
			{"display_name": "Biology"}
		],
		"authorships": [
			{"institutions": [{"display_name": "MIT"}]}
		]
	}`)

	meta, err := Extract(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Venue == nil || *meta.Venue != "Nature" {
		t.Errorf("expected venue Nature, got %v", meta.Venue)
	}
	if meta.CitationCount == nil || *meta.CitationCount != 42 {
		t.Errorf("expected citation count 42, got %v", meta.CitationCount)
	}
	if len(meta.Topics) != 2 || meta.Topics[0] != "Machine Learning" || meta.Topics[1] != "Biology" {
		t.Errorf("expected two topics, got %v", meta.Topics)
	}
	if meta.Institution == nil || *meta.Institution != "MIT" {
		t.Errorf("expected institution MIT, got %v", meta.Institution)
	}
}

func TestExtract_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty object", `{}`},
		{"wrong types", `{"host_venue": "oops", "cited_by_count": "many", "concepts": {}, "authorships": 3}`},
		{"empty collections", `{"concepts": [], "authorships": []}`},
		{"authorship without institutions", `{"authorships": [{"institutions": []}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := Extract(openAlexPayload(t, tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if meta.Venue != nil || meta.CitationCount != nil || meta.Topics != nil || meta.Institution != nil {
				t.Errorf("expected all fields nil, got %+v", meta)
			}
		})
	}
}

func TestExtract_PartialPayload(t *testing.T) {
	payload := openAlexPayload(t, `{"cited_by_count": 7}`)

	meta, err := Extract(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.CitationCount == nil || *meta.CitationCount != 7 {
		t.Errorf("expected citation count 7, got %v", meta.CitationCount)
	}
	if meta.Venue != nil {
		t.Errorf("expected nil venue, got %v", meta.Venue)
	}
}

func TestExtract_NilPayload(t *testing.T) {
	_, err := Extract(nil)
	if !errors.Is(err, domain.ErrUnparseablePayload) {
		t.Errorf("expected ErrUnparseablePayload, got %v", err)
	}
}

func TestMetadataTransform_Apply(t *testing.T) {
	ctx := context.Background()
	docs := mocks.NewMockDocumentStore()
	transform := NewMetadataTransform(docs)

	withPayload := &domain.Document{
		ID: "doc-1",
		RawMetadata: openAlexPayload(t, `{
			"host_venue": {"display_name": "ICML"},
			"cited_by_count": 12
		}`),
	}
	withoutPayload := &domain.Document{ID: "doc-2"}
	docs.Save(ctx, withPayload)
	docs.Save(ctx, withoutPayload)

	results, err := transform.Apply(ctx, []*domain.Document{withPayload, withoutPayload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("expected success for doc-1, got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, domain.ErrUnparseablePayload) {
		t.Errorf("expected ErrUnparseablePayload for doc-2, got %v", results[1].Err)
	}

	stored, _ := docs.Get(ctx, "doc-1")
	if stored.Venue == nil || *stored.Venue != "ICML" {
		t.Errorf("expected venue ICML, got %v", stored.Venue)
	}
	if stored.MetaVersion == nil || *stored.MetaVersion != domain.MetadataVersion {
		t.Errorf("expected meta version %q, got %v", domain.MetadataVersion, stored.MetaVersion)
	}

	unstored, _ := docs.Get(ctx, "doc-2")
	if unstored.MetaVersion != nil {
		t.Error("expected no meta version for the failed document")
	}
}
