package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldline/expstore/internal/models"
	"github.com/fieldline/expstore/internal/storage"
)

// Decoder reads rows back into domain objects and resolves name lookups.
type Decoder struct {
	dialect string
}

var _ storage.Decoder = (*Decoder)(nil)

func NewDecoder(dialect string) *Decoder {
	return &Decoder{dialect: dialect}
}

func (d *Decoder) ExperimentID(ctx context.Context, conn *sql.DB, name string) (int64, bool, error) {
	query := rebind(d.dialect, `SELECT id FROM experiments WHERE name = $1`)

	var id int64
	err := conn.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve experiment id: %w", err)
	}
	return id, true, nil
}

func (d *Decoder) GenerationStrategyID(ctx context.Context, conn *sql.DB, experimentName string) (int64, bool, error) {
	query := rebind(d.dialect, `
		SELECT gs.id
		FROM generation_strategies gs
		JOIN experiments e ON e.id = gs.experiment_id
		WHERE e.name = $1`)

	var id int64
	err := conn.QueryRowContext(ctx, query, experimentName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve generation strategy id: %w", err)
	}
	return id, true, nil
}

func (d *Decoder) LoadExperiment(ctx context.Context, conn *sql.DB, name string) (*models.Experiment, error) {
	query := rebind(d.dialect, `
		SELECT id, name, description, kind, properties, status, created_at, updated_at
		FROM experiments WHERE name = $1`)

	exp := &models.Experiment{}
	err := conn.QueryRowContext(ctx, query, name).Scan(
		&exp.ID, &exp.Name, &exp.Description, &exp.Kind, &exp.Properties,
		&exp.Status, &exp.CreatedAt, &exp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", name, storage.ErrExperimentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}

	if exp.Trials, err = d.loadTrials(ctx, conn, exp.ID); err != nil {
		return nil, err
	}
	if exp.DataByTrial, err = d.loadObservationData(ctx, conn, exp.ID); err != nil {
		return nil, err
	}

	return exp, nil
}

func (d *Decoder) LoadGenerationStrategy(ctx context.Context, conn *sql.DB, experimentName string) (*models.GenerationStrategy, error) {
	query := rebind(d.dialect, `
		SELECT gs.id, gs.experiment_id, gs.name, gs.steps
		FROM generation_strategies gs
		JOIN experiments e ON e.id = gs.experiment_id
		WHERE e.name = $1`)

	gs := &models.GenerationStrategy{}
	err := conn.QueryRowContext(ctx, query, experimentName).Scan(
		&gs.ID, &gs.ExperimentID, &gs.Name, &gs.Steps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, storage.ErrNoGenerationStrategy)
	}
	if err != nil {
		return nil, fmt.Errorf("load generation strategy: %w", err)
	}

	if gs.Runs, err = d.loadGeneratorRuns(ctx, conn, gs.ID); err != nil {
		return nil, err
	}

	return gs, nil
}

func (d *Decoder) loadTrials(ctx context.Context, conn *sql.DB, experimentID int64) ([]*models.Trial, error) {
	query := rebind(d.dialect, `
		SELECT id, uid, idx, kind, status, arms, run_metadata, created_at, updated_at
		FROM trials WHERE experiment_id = $1
		ORDER BY idx ASC`)

	rows, err := conn.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load trials: %w", err)
	}
	defer rows.Close()

	trials := []*models.Trial{}
	for rows.Next() {
		trial := &models.Trial{}
		err := rows.Scan(&trial.ID, &trial.UID, &trial.Index, &trial.Kind, &trial.Status,
			&trial.Arms, &trial.RunMetadata, &trial.CreatedAt, &trial.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		trials = append(trials, trial)
	}

	return trials, rows.Err()
}

func (d *Decoder) loadObservationData(ctx context.Context, conn *sql.DB, experimentID int64) (map[int][]*models.ObservationData, error) {
	query := rebind(d.dialect, `
		SELECT id, trial_index, metrics, created_at
		FROM observation_data WHERE experiment_id = $1
		ORDER BY id ASC`)

	rows, err := conn.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load observation data: %w", err)
	}
	defer rows.Close()

	byTrial := make(map[int][]*models.ObservationData)
	for rows.Next() {
		data := &models.ObservationData{}
		err := rows.Scan(&data.ID, &data.TrialIndex, &data.Metrics, &data.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan observation data: %w", err)
		}
		byTrial[data.TrialIndex] = append(byTrial[data.TrialIndex], data)
	}

	return byTrial, rows.Err()
}

func (d *Decoder) loadGeneratorRuns(ctx context.Context, conn *sql.DB, strategyID int64) ([]*models.GeneratorRun, error) {
	query := rebind(d.dialect, `
		SELECT id, uid, idx, model_key, arms, generated_at
		FROM generator_runs WHERE strategy_id = $1
		ORDER BY idx ASC`)

	rows, err := conn.QueryContext(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load generator runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.GeneratorRun{}
	for rows.Next() {
		run := &models.GeneratorRun{}
		err := rows.Scan(&run.ID, &run.UID, &run.Index, &run.ModelKey, &run.Arms, &run.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("scan generator run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
