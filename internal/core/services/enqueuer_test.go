package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven/mocks"
)

func newTestEnqueuer() (*Enqueuer, *mocks.MockJobStore, *mocks.MockDocumentStore, *mocks.MockModelStore) {
	jobs := mocks.NewMockJobStore()
	docs := mocks.NewMockDocumentStore()
	models := mocks.NewMockModelStore()
	return NewEnqueuer(jobs, docs, models, nil), jobs, docs, models
}

func activateModel(t *testing.T, models *mocks.MockModelStore) int {
	t.Helper()
	model := &domain.ProjectionModel{Params: []byte("{}")}
	if err := models.Create(context.Background(), model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := models.Activate(context.Background(), model.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return model.Version
}

func TestEnqueuer_EnqueueMissing_NewDocument(t *testing.T) {
	ctx := context.Background()
	enqueuer, _, _, _ := newTestEnqueuer()

	doc := &domain.Document{
		ID:          "doc-1",
		Title:       "A Paper",
		Abstract:    "Something novel.",
		RawMetadata: map[string]any{"cited_by_count": 3},
	}

	kinds, err := enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 2 {
		t.Fatalf("expected 2 kinds enqueued, got %v", kinds)
	}
	if kinds[0] != domain.KindEmbedding || kinds[1] != domain.KindMetadata {
		t.Errorf("expected embedding and metadata, got %v", kinds)
	}
}

func TestEnqueuer_EnqueueMissing_NoProjectionWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	enqueuer, jobs, _, models := newTestEnqueuer()
	activateModel(t, models)

	doc := &domain.Document{ID: "doc-1", Title: "A Paper"}

	kinds, err := enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, k := range kinds {
		if k == domain.KindProjection {
			t.Error("expected no projection job for a document without an embedding")
		}
	}

	listed, _ := jobs.ListJobs(ctx, driven.JobFilter{Kind: domain.KindProjection})
	if len(listed) != 0 {
		t.Errorf("expected no projection jobs, got %d", len(listed))
	}
}

func TestEnqueuer_EnqueueMissing_ProjectionWhenStale(t *testing.T) {
	ctx := context.Background()
	enqueuer, _, _, models := newTestEnqueuer()
	version := activateModel(t, models)

	doc := &domain.Document{
		ID:        "doc-1",
		Embedding: []float32{0.1, 0.2},
	}

	kinds, err := enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 1 || kinds[0] != domain.KindProjection {
		t.Fatalf("expected only a projection job, got %v", kinds)
	}

	// A fresh coordinate suppresses re-enqueue.
	doc2 := &domain.Document{
		ID:         "doc-2",
		Embedding:  []float32{0.1, 0.2},
		MapVersion: &version,
	}
	kinds, err = enqueuer.EnqueueMissing(ctx, doc2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 0 {
		t.Errorf("expected nothing enqueued for a fresh coordinate, got %v", kinds)
	}
}

func TestEnqueuer_EnqueueMissing_NoActiveModel(t *testing.T) {
	ctx := context.Background()
	enqueuer, _, _, _ := newTestEnqueuer()

	doc := &domain.Document{ID: "doc-1", Embedding: []float32{0.1, 0.2}}

	kinds, err := enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 0 {
		t.Errorf("expected nothing enqueued without an active model, got %v", kinds)
	}
}

func TestEnqueuer_EnqueueMissing_Idempotent(t *testing.T) {
	ctx := context.Background()
	enqueuer, _, _, _ := newTestEnqueuer()

	doc := &domain.Document{ID: "doc-1", Title: "A Paper"}

	kinds, err := enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 1 {
		t.Fatalf("expected 1 kind enqueued, got %v", kinds)
	}

	kinds, err = enqueuer.EnqueueMissing(ctx, doc, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 0 {
		t.Errorf("expected second call to enqueue nothing, got %v", kinds)
	}
}

func TestEnqueuer_EnqueueMissing_InvalidInput(t *testing.T) {
	ctx := context.Background()
	enqueuer, _, _, _ := newTestEnqueuer()

	if _, err := enqueuer.EnqueueMissing(ctx, nil, 0); err != domain.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for nil document, got %v", err)
	}
	if _, err := enqueuer.EnqueueMissing(ctx, &domain.Document{}, 0); err != domain.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for missing ID, got %v", err)
	}
}

func TestEnqueuer_SweepBacklog(t *testing.T) {
	ctx := context.Background()
	enqueuer, jobs, docs, models := newTestEnqueuer()

	// Three documents with text but no embedding; one already embedded.
	for i := 1; i <= 3; i++ {
		docs.Save(ctx, &domain.Document{
			ID:    fmt.Sprintf("doc-%d", i),
			Title: fmt.Sprintf("Paper %d", i),
		})
	}
	docs.Save(ctx, &domain.Document{
		ID:        "doc-4",
		Title:     "Embedded Paper",
		Embedding: []float32{0.5, 0.5},
	})

	// Without an active model only embedding jobs appear.
	created, err := enqueuer.SweepBacklog(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 3 {
		t.Errorf("expected 3 jobs created, got %d", created)
	}
	projJobs, _ := jobs.ListJobs(ctx, driven.JobFilter{Kind: domain.KindProjection})
	if len(projJobs) != 0 {
		t.Errorf("expected no projection jobs before a model exists, got %d", len(projJobs))
	}

	// Activating a model makes the embedded document's coordinate stale.
	activateModel(t, models)
	created, err = enqueuer.SweepBacklog(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 projection job created, got %d", created)
	}

	// Re-running is a no-op while those jobs stay active.
	created, err = enqueuer.SweepBacklog(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 0 {
		t.Errorf("expected idempotent re-run, got %d new jobs", created)
	}
}
