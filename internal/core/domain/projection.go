package domain

import "time"

// ProjectionModel is a versioned dimensionality-reduction artifact.
// Exactly one version is active at a time; every stored 2D coordinate
// carries the version that produced it, and coordinates from any other
// version are considered stale. Old versions are retained for audit but
// never reactivated automatically.
type ProjectionModel struct {
	// Version is a monotonically increasing identifier assigned by the store
	Version int `json:"version"`

	// SampleSize is how many embeddings the model was fit on
	SampleSize int `json:"sample_size"`

	// SamplePolicy describes how the training sample was selected
	SamplePolicy string `json:"sample_policy"`

	// Params holds the serialized model parameters
	Params []byte `json:"params"`

	// Active marks the single version currently used for projection
	Active bool `json:"active"`

	TrainedAt time.Time `json:"trained_at"`
}

// SamplePolicyRandom is the default training sample selection policy:
// a uniform random sample of documents that hold an embedding.
const SamplePolicyRandom = "random"
