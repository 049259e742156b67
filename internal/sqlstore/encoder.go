package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/expstore/internal/models"
	"github.com/fieldline/expstore/internal/storage"
)

// Encoder writes domain objects as rows. Each exported method is one
// transaction.
type Encoder struct {
	dialect string
}

var _ storage.Encoder = (*Encoder)(nil)

func NewEncoder(dialect string) *Encoder {
	return &Encoder{dialect: dialect}
}

func (e *Encoder) SaveExperiment(ctx context.Context, conn *sql.DB, exp *models.Experiment) error {
	return withTransaction(ctx, conn, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if exp.CreatedAt.IsZero() {
			exp.CreatedAt = now
		}
		exp.UpdatedAt = now
		if exp.Kind == "" {
			exp.Kind = models.ExperimentKindStandard
		}

		query := rebind(e.dialect, `
			INSERT INTO experiments (name, description, kind, properties, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name) DO UPDATE
			SET description = EXCLUDED.description,
			    kind = EXCLUDED.kind,
			    properties = EXCLUDED.properties,
			    status = EXCLUDED.status,
			    updated_at = EXCLUDED.updated_at
			RETURNING id`)

		err := tx.QueryRowContext(ctx, query,
			exp.Name, exp.Description, string(exp.Kind), orEmptyMap(exp.Properties), exp.Status,
			exp.CreatedAt, exp.UpdatedAt).Scan(&exp.ID)
		if err != nil {
			return fmt.Errorf("upsert experiment: %w", err)
		}

		for _, trial := range exp.Trials {
			if err := e.upsertTrialInTx(ctx, tx, exp.ID, trial); err != nil {
				return fmt.Errorf("upsert trial %d: %w", trial.Index, err)
			}
		}

		// Full save overwrites the experiment's attached data wholesale.
		delQuery := rebind(e.dialect, `DELETE FROM observation_data WHERE experiment_id = $1`)
		if _, err := tx.ExecContext(ctx, delQuery, exp.ID); err != nil {
			return fmt.Errorf("clear observation data: %w", err)
		}
		for trialIndex := range exp.DataByTrial {
			if err := e.insertObservationDataInTx(ctx, tx, exp, trialIndex); err != nil {
				return err
			}
		}

		return nil
	})
}

func (e *Encoder) SaveGenerationStrategy(ctx context.Context, conn *sql.DB, gs *models.GenerationStrategy) error {
	if gs.ExperimentID == 0 {
		return fmt.Errorf("generation strategy %q is not linked to a persisted experiment", gs.Name)
	}

	return withTransaction(ctx, conn, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		query := rebind(e.dialect, `
			INSERT INTO generation_strategies (experiment_id, name, steps, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`)

		err := tx.QueryRowContext(ctx, query,
			gs.ExperimentID, gs.Name, orEmptySteps(gs.Steps), now, now).Scan(&gs.ID)
		if err != nil {
			return fmt.Errorf("insert generation strategy: %w", err)
		}

		for _, run := range gs.Runs {
			if err := e.insertGeneratorRunInTx(ctx, tx, gs.ID, run); err != nil {
				return fmt.Errorf("insert generator run %d: %w", run.Index, err)
			}
		}

		return nil
	})
}

func (e *Encoder) AppendGeneratorRuns(ctx context.Context, conn *sql.DB, gs *models.GenerationStrategy, runs []*models.GeneratorRun) error {
	if gs.ID == 0 {
		return fmt.Errorf("generation strategy %q has no durable id", gs.Name)
	}

	return withTransaction(ctx, conn, func(tx *sql.Tx) error {
		for _, run := range runs {
			if err := e.insertGeneratorRunInTx(ctx, tx, gs.ID, run); err != nil {
				return fmt.Errorf("insert generator run %d: %w", run.Index, err)
			}
		}

		query := rebind(e.dialect, `UPDATE generation_strategies SET updated_at = $1 WHERE id = $2`)
		if _, err := tx.ExecContext(ctx, query, time.Now().UTC(), gs.ID); err != nil {
			return fmt.Errorf("touch generation strategy: %w", err)
		}
		return nil
	})
}

func (e *Encoder) InsertTrials(ctx context.Context, conn *sql.DB, exp *models.Experiment, trials []*models.Trial) error {
	return withTransaction(ctx, conn, func(tx *sql.Tx) error {
		expID, err := e.experimentIDInTx(ctx, tx, exp)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		query := rebind(e.dialect, `
			INSERT INTO trials (experiment_id, uid, idx, kind, status, arms, run_metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`)

		for _, trial := range trials {
			if trial.UID == uuid.Nil {
				trial.UID = uuid.New()
			}
			if trial.Kind == "" {
				trial.Kind = models.TrialKindSingle
			}
			if trial.CreatedAt.IsZero() {
				trial.CreatedAt = now
			}
			trial.UpdatedAt = now

			// Plain insert: a durable trial with the same index must never
			// be overwritten, and the unique (experiment_id, idx) constraint
			// enforces it.
			err := tx.QueryRowContext(ctx, query,
				expID, trial.UID, trial.Index, string(trial.Kind), trial.Status,
				orEmptyArms(trial.Arms), orEmptyMap(trial.RunMetadata),
				trial.CreatedAt, trial.UpdatedAt).Scan(&trial.ID)
			if err != nil {
				return fmt.Errorf("insert trial %d: %w", trial.Index, err)
			}

			if err := e.insertObservationDataInTx(ctx, tx, exp, trial.Index); err != nil {
				return err
			}
		}

		return nil
	})
}

func (e *Encoder) UpdateTrials(ctx context.Context, conn *sql.DB, exp *models.Experiment, trials []*models.Trial) error {
	return withTransaction(ctx, conn, func(tx *sql.Tx) error {
		expID, err := e.experimentIDInTx(ctx, tx, exp)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		query := rebind(e.dialect, `
			UPDATE trials
			SET kind = $1, status = $2, arms = $3, run_metadata = $4, updated_at = $5
			WHERE experiment_id = $6 AND idx = $7`)

		for _, trial := range trials {
			trial.UpdatedAt = now

			res, err := tx.ExecContext(ctx, query,
				string(trial.Kind), trial.Status, orEmptyArms(trial.Arms),
				orEmptyMap(trial.RunMetadata), trial.UpdatedAt, expID, trial.Index)
			if err != nil {
				return fmt.Errorf("update trial %d: %w", trial.Index, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update trial %d: %w", trial.Index, err)
			}
			if affected == 0 {
				return fmt.Errorf("update trial %d: trial is not persisted", trial.Index)
			}

			// Replace the attached data for this trial with the current set.
			delQuery := rebind(e.dialect, `
				DELETE FROM observation_data WHERE experiment_id = $1 AND trial_index = $2`)
			if _, err := tx.ExecContext(ctx, delQuery, expID, trial.Index); err != nil {
				return fmt.Errorf("clear observation data for trial %d: %w", trial.Index, err)
			}
			if err := e.insertObservationDataInTx(ctx, tx, exp, trial.Index); err != nil {
				return err
			}
		}

		return nil
	})
}

// experimentIDInTx resolves the durable id for exp, preferring the one
// already on the object.
func (e *Encoder) experimentIDInTx(ctx context.Context, tx *sql.Tx, exp *models.Experiment) (int64, error) {
	if exp.ID != 0 {
		return exp.ID, nil
	}

	query := rebind(e.dialect, `SELECT id FROM experiments WHERE name = $1`)
	var id int64
	err := tx.QueryRowContext(ctx, query, exp.Name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("experiment %q: %w", exp.Name, storage.ErrExperimentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve experiment id: %w", err)
	}
	exp.ID = id
	return id, nil
}

func (e *Encoder) upsertTrialInTx(ctx context.Context, tx *sql.Tx, expID int64, trial *models.Trial) error {
	now := time.Now().UTC()
	if trial.UID == uuid.Nil {
		trial.UID = uuid.New()
	}
	if trial.Kind == "" {
		trial.Kind = models.TrialKindSingle
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = now
	}
	trial.UpdatedAt = now

	query := rebind(e.dialect, `
		INSERT INTO trials (experiment_id, uid, idx, kind, status, arms, run_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (experiment_id, idx) DO UPDATE
		SET kind = EXCLUDED.kind,
		    status = EXCLUDED.status,
		    arms = EXCLUDED.arms,
		    run_metadata = EXCLUDED.run_metadata,
		    updated_at = EXCLUDED.updated_at
		RETURNING id`)

	return tx.QueryRowContext(ctx, query,
		expID, trial.UID, trial.Index, string(trial.Kind), trial.Status,
		orEmptyArms(trial.Arms), orEmptyMap(trial.RunMetadata),
		trial.CreatedAt, trial.UpdatedAt).Scan(&trial.ID)
}

func (e *Encoder) insertGeneratorRunInTx(ctx context.Context, tx *sql.Tx, strategyID int64, run *models.GeneratorRun) error {
	if run.UID == uuid.Nil {
		run.UID = uuid.New()
	}
	if run.GeneratedAt.IsZero() {
		run.GeneratedAt = time.Now().UTC()
	}

	query := rebind(e.dialect, `
		INSERT INTO generator_runs (strategy_id, uid, idx, model_key, arms, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`)

	return tx.QueryRowContext(ctx, query,
		strategyID, run.UID, run.Index, run.ModelKey,
		orEmptyArms(run.Arms), run.GeneratedAt).Scan(&run.ID)
}

// insertObservationDataInTx writes the data attached to the experiment for
// one trial index.
func (e *Encoder) insertObservationDataInTx(ctx context.Context, tx *sql.Tx, exp *models.Experiment, trialIndex int) error {
	rows := exp.DataByTrial[trialIndex]
	if len(rows) == 0 {
		return nil
	}

	query := rebind(e.dialect, `
		INSERT INTO observation_data (experiment_id, trial_index, metrics, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`)

	for _, data := range rows {
		if data.CreatedAt.IsZero() {
			data.CreatedAt = time.Now().UTC()
		}
		err := tx.QueryRowContext(ctx, query,
			exp.ID, trialIndex, orEmptyMetrics(data.Metrics), data.CreatedAt).Scan(&data.ID)
		if err != nil {
			return fmt.Errorf("insert observation data for trial %d: %w", trialIndex, err)
		}
	}
	return nil
}

// Nil JSON slices/maps marshal to "null"; the schema expects objects and
// arrays.

func orEmptyMap(m models.JSONMap) models.JSONMap {
	if m == nil {
		return models.JSONMap{}
	}
	return m
}

func orEmptyArms(a models.JSONArms) models.JSONArms {
	if a == nil {
		return models.JSONArms{}
	}
	return a
}

func orEmptySteps(s models.JSONSteps) models.JSONSteps {
	if s == nil {
		return models.JSONSteps{}
	}
	return s
}

func orEmptyMetrics(m models.JSONMetricRows) models.JSONMetricRows {
	if m == nil {
		return models.JSONMetricRows{}
	}
	return m
}
