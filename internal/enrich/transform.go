// Package enrich holds the per-kind transforms invoked by the worker
// runtime. Each transform declares the document fields it needs, processes
// a claimed batch, writes derived fields to the document store, and
// reports a per-document outcome so one bad document never blocks its
// batch-mates.
package enrich

import (
	"context"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// Result is the per-document outcome of a transform batch.
// A nil Err means the derived fields were written.
type Result struct {
	DocumentID string

	// Err is the permanent per-item failure reason, nil on success
	Err error
}

// Transform processes claimed batches for one enrichment kind.
//
// Apply returns one Result per input document. A non-nil error return is
// structural (store unreachable, model missing, retries against the
// external service exhausted): the whole cycle aborts, no job is
// resolved, and the lease-reap mechanism recovers the batch.
type Transform interface {
	// Kind identifies which jobs this transform processes.
	Kind() domain.EnrichmentKind

	// RequiredFields names the document fields the transform reads, as a
	// documented contract with the store layer.
	RequiredFields() []string

	// Apply processes a batch, writing derived fields for each document
	// that succeeds.
	Apply(ctx context.Context, docs []*domain.Document) ([]Result, error)
}
