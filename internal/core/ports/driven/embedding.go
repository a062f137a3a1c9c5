package driven

import (
	"context"
)

// EmbeddingResult is the per-item outcome of a batch embedding call.
// Exactly one of Vector and Err is set.
type EmbeddingResult struct {
	Vector []float32
	Err    error
}

// EmbeddingService generates text embeddings via an external service.
//
// Implementations own rate limiting and transient-error retry: a
// rate-limit or transient server response blocks the calling batch with
// backoff rather than surfacing an error. The returned error is
// structural (service unreachable, retries exhausted) and aborts the
// whole batch; per-item permanent errors (e.g. empty text) are reported
// in the corresponding EmbeddingResult instead.
type EmbeddingService interface {
	// Embed generates embeddings for a batch of texts, one result per
	// input in input order.
	Embed(ctx context.Context, texts []string) ([]EmbeddingResult, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// Model returns the model name being used
	Model() string

	// Close releases resources held by the embedding service
	Close() error
}
