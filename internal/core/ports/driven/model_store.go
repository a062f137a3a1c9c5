package driven

import (
	"context"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
)

// ModelStore persists versioned projection model artifacts.
type ModelStore interface {
	// Create persists a new model and assigns it the next version number.
	// The model is not active until Activate is called.
	Create(ctx context.Context, model *domain.ProjectionModel) error

	// Activate atomically makes the given version the single active one,
	// deactivating any other. Activating the already-active version is a
	// no-op.
	Activate(ctx context.Context, version int) error

	// Active returns the currently active model, or ErrNoActiveModel.
	Active(ctx context.Context) (*domain.ProjectionModel, error)

	// ActiveVersion returns the active version number without loading the
	// serialized parameters. Returns ErrNoActiveModel if none is active.
	ActiveVersion(ctx context.Context) (int, error)

	// Get retrieves a model by version.
	Get(ctx context.Context, version int) (*domain.ProjectionModel, error)
}
