package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ModelStore = (*ModelStore)(nil)

// ModelStore persists projection model versions in PostgreSQL.
// The partial unique index on (active) WHERE active keeps exactly one
// version active; Activate swaps the flag inside a single transaction.
type ModelStore struct {
	db *DB
}

// NewModelStore creates a Postgres-backed model store.
func NewModelStore(db *DB) *ModelStore {
	return &ModelStore{db: db}
}

const modelColumns = `version, sample_size, sample_policy, params, active, trained_at`

// Create persists a new model with the next version number.
// Version assignment happens inside a transaction so two concurrent
// trainers cannot mint the same version.
func (s *ModelStore) Create(ctx context.Context, model *domain.ProjectionModel) error {
	if len(model.Params) == 0 {
		return domain.ErrInvalidInput
	}
	if model.TrainedAt.IsZero() {
		model.TrainedAt = time.Now()
	}
	if model.SamplePolicy == "" {
		model.SamplePolicy = domain.SamplePolicyRandom
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM projection_models`,
		).Scan(&model.Version)
		if err != nil {
			return fmt.Errorf("next version: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO projection_models (version, sample_size, sample_policy, params, active, trained_at)
			VALUES ($1, $2, $3, $4, FALSE, $5)
		`,
			model.Version,
			model.SampleSize,
			model.SamplePolicy,
			model.Params,
			model.TrainedAt,
		)
		if err != nil {
			return fmt.Errorf("insert model: %w", err)
		}

		model.Active = false
		return nil
	})
}

// Activate atomically makes the given version the single active one.
// Activating the already-active version is a no-op.
func (s *ModelStore) Activate(ctx context.Context, version int) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM projection_models WHERE version = $1)`, version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE projection_models SET active = FALSE WHERE active AND version <> $1`, version,
		); err != nil {
			return fmt.Errorf("deactivate models: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE projection_models SET active = TRUE WHERE version = $1`, version,
		); err != nil {
			return fmt.Errorf("activate model: %w", err)
		}
		return nil
	})
}

// Active returns the currently active model.
func (s *ModelStore) Active(ctx context.Context) (*domain.ProjectionModel, error) {
	query := `SELECT ` + modelColumns + ` FROM projection_models WHERE active`

	model, err := scanModel(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoActiveModel
	}
	if err != nil {
		return nil, fmt.Errorf("query active model: %w", err)
	}
	return model, nil
}

// ActiveVersion returns the active version without loading parameters.
func (s *ModelStore) ActiveVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM projection_models WHERE active`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNoActiveModel
	}
	if err != nil {
		return 0, fmt.Errorf("query active version: %w", err)
	}
	return version, nil
}

// Get retrieves a model by version.
func (s *ModelStore) Get(ctx context.Context, version int) (*domain.ProjectionModel, error) {
	query := `SELECT ` + modelColumns + ` FROM projection_models WHERE version = $1`

	model, err := scanModel(s.db.QueryRowContext(ctx, query, version))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query model: %w", err)
	}
	return model, nil
}

func scanModel(row rowScanner) (*domain.ProjectionModel, error) {
	var model domain.ProjectionModel
	err := row.Scan(
		&model.Version,
		&model.SampleSize,
		&model.SamplePolicy,
		&model.Params,
		&model.Active,
		&model.TrainedAt,
	)
	if err != nil {
		return nil, err
	}
	return &model, nil
}
