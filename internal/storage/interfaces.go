package storage

import (
	"context"
	"database/sql"

	"github.com/fieldline/expstore/internal/models"
)

// Encoder converts in-memory entities into their durable representation.
// Implementations decide the schema and upsert semantics; every save and
// update operation in this package goes through one encoder call.
type Encoder interface {
	// SaveExperiment persists the entire experiment graph (experiment row,
	// trials, attached observation data), inserting if absent or
	// overwriting if present.
	SaveExperiment(ctx context.Context, conn *sql.DB, exp *models.Experiment) error

	// SaveGenerationStrategy persists a strategy and its full generator-run
	// history. Used only for strategies never persisted before.
	SaveGenerationStrategy(ctx context.Context, conn *sql.DB, gs *models.GenerationStrategy) error

	// AppendGeneratorRuns persists only the given runs, in order. Runs
	// already durable are never re-encoded.
	AppendGeneratorRuns(ctx context.Context, conn *sql.DB, gs *models.GenerationStrategy, runs []*models.GeneratorRun) error

	// InsertTrials persists newly created trials and their attached
	// observation data as one batch. Must never overwrite an existing
	// durable trial with the same index.
	InsertTrials(ctx context.Context, conn *sql.DB, exp *models.Experiment, trials []*models.Trial) error

	// UpdateTrials persists changes to already-durable trials and their
	// attached observation data as one batch.
	UpdateTrials(ctx context.Context, conn *sql.DB, exp *models.Experiment, trials []*models.Trial) error
}

// Decoder converts durable rows back into domain objects and resolves
// name-to-identifier lookups.
type Decoder interface {
	// ExperimentID resolves the durable id for the named experiment.
	// Absent is not an error: (0, false, nil).
	ExperimentID(ctx context.Context, conn *sql.DB, name string) (int64, bool, error)

	// GenerationStrategyID resolves the durable id of the strategy attached
	// to the named experiment. Absent is (0, false, nil).
	GenerationStrategyID(ctx context.Context, conn *sql.DB, experimentName string) (int64, bool, error)

	// LoadExperiment decodes the full experiment graph for the name.
	// Returns ErrExperimentNotFound if no such experiment exists.
	LoadExperiment(ctx context.Context, conn *sql.DB, name string) (*models.Experiment, error)

	// LoadGenerationStrategy decodes the strategy attached to the named
	// experiment, with its full run history. Returns ErrNoGenerationStrategy
	// if none is attached.
	LoadGenerationStrategy(ctx context.Context, conn *sql.DB, experimentName string) (*models.GenerationStrategy, error)
}
