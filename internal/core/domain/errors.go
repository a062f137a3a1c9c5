package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates the external service rejected a request
	// for quota reasons; the caller should back off and retry
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates the external service could not be
	// reached or returned a transient server error
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrEmptyText indicates a document has no text to embed
	ErrEmptyText = errors.New("document has no text to embed")

	// ErrNoEmbedding indicates a document has no embedding and is not
	// eligible for projection
	ErrNoEmbedding = errors.New("document has no embedding")

	// ErrNoActiveModel indicates no projection model version is active
	ErrNoActiveModel = errors.New("no active projection model")

	// ErrModelCorrupt indicates a stored model artifact could not be decoded
	ErrModelCorrupt = errors.New("projection model artifact corrupt")

	// ErrUnparseablePayload indicates a raw metadata payload is not
	// structurally valid
	ErrUnparseablePayload = errors.New("unparseable metadata payload")

	// ErrTrainingSampleTooSmall indicates too few embeddings exist to fit
	// a projection model
	ErrTrainingSampleTooSmall = errors.New("training sample too small")

	// ErrLockHeld indicates another instance holds the lock for an
	// exclusive operation (training, backlog sweep)
	ErrLockHeld = errors.New("lock held by another instance")
)

// IsTransient reports whether an error is retryable without operator
// intervention: rate limiting and transient service failures. Permanent
// per-item errors (empty text, unparseable payload) and structural errors
// (corrupt model) are not transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServiceUnavailable)
}
