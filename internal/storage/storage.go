// Package storage synchronizes the in-memory experimentation model with a
// durable backing store. It decides what is read or written, when, and in
// what granularity; the schema and row mapping belong to the Encoder and
// Decoder collaborators carried by Settings.
//
// Every operation first ensures the session described by its Settings, then
// performs exactly one store operation, then logs elapsed time at debug
// level. Generation-strategy updates are incremental: only the generator
// runs produced since the strategy's last persisted checkpoint are encoded.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldline/expstore/internal/models"
)

// ExperimentID resolves the durable identifier for the named experiment.
// Absent is reported as (0, false, nil), never as an error.
func ExperimentID(ctx context.Context, name string, set *Settings) (int64, bool, error) {
	conn, err := set.ensure(ctx)
	if err != nil {
		return 0, false, err
	}
	return set.decoder.ExperimentID(ctx, conn, name)
}

// GenerationStrategyID resolves the durable identifier of the generation
// strategy attached to the named experiment, with the same absent contract
// as ExperimentID.
func GenerationStrategyID(ctx context.Context, experimentName string, set *Settings) (int64, bool, error) {
	conn, err := set.ensure(ctx)
	if err != nil {
		return 0, false, err
	}
	return set.decoder.GenerationStrategyID(ctx, conn, experimentName)
}

// LoadExperiment decodes the full experiment graph for the name. Only the
// standard experiment kind is supported; anything else fails with
// ErrUnsupportedExperimentKind.
func LoadExperiment(ctx context.Context, name string, set *Settings) (*models.Experiment, error) {
	conn, err := set.ensure(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	exp, err := set.decoder.LoadExperiment(ctx, conn, name)
	if err != nil {
		return nil, err
	}
	if exp.Kind != models.ExperimentKindStandard {
		return nil, fmt.Errorf("load experiment %q: %w", name, ErrUnsupportedExperimentKind)
	}

	set.logger.Debug("loaded experiment",
		zap.String("experiment", name),
		zap.Duration("elapsed", elapsed(start)),
	)
	return exp, nil
}

// SaveExperiment encodes and persists the entire experiment graph, inserting
// if absent or overwriting if present. Upsert semantics are the encoder's.
func SaveExperiment(ctx context.Context, exp *models.Experiment, set *Settings) error {
	conn, err := set.ensure(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := set.encoder.SaveExperiment(ctx, conn, exp); err != nil {
		return err
	}

	set.logger.Debug("saved experiment",
		zap.String("experiment", exp.Name),
		zap.Duration("elapsed", elapsed(start)),
	)
	return nil
}

// LoadExperimentAndGenerationStrategy loads the named experiment together
// with its generation strategy. A missing strategy is not an error: the
// experiment is returned with a nil strategy. This is the one place a
// recoverable not-found condition becomes an absent value instead of
// surfacing.
func LoadExperimentAndGenerationStrategy(ctx context.Context, experimentName string, set *Settings) (*models.Experiment, *models.GenerationStrategy, error) {
	exp, err := LoadExperiment(ctx, experimentName, set)
	if err != nil {
		return nil, nil, err
	}

	gs, err := LoadGenerationStrategy(ctx, experimentName, set)
	if errors.Is(err, ErrNoGenerationStrategy) {
		return exp, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return exp, gs, nil
}

// LoadGenerationStrategy decodes the strategy attached to the named
// experiment. Fails with ErrNoGenerationStrategy when none is attached;
// callers wanting optional semantics check with errors.Is.
func LoadGenerationStrategy(ctx context.Context, experimentName string, set *Settings) (*models.GenerationStrategy, error) {
	conn, err := set.ensure(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	gs, err := set.decoder.LoadGenerationStrategy(ctx, conn, experimentName)
	if err != nil {
		return nil, err
	}
	// Everything just decoded is durable by definition.
	gs.SavedRuns = len(gs.Runs)

	set.logger.Debug("loaded generation strategy",
		zap.String("experiment", experimentName),
		zap.String("strategy", gs.Name),
		zap.Int("runs", len(gs.Runs)),
		zap.Duration("elapsed", elapsed(start)),
	)
	return gs, nil
}

// SaveGenerationStrategy persists a strategy for the first time, with its
// full generator-run history, and sets its durable checkpoint. Strategies
// already persisted are updated with UpdateGenerationStrategy instead.
func SaveGenerationStrategy(ctx context.Context, gs *models.GenerationStrategy, set *Settings) error {
	conn, err := set.ensure(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := set.encoder.SaveGenerationStrategy(ctx, conn, gs); err != nil {
		return err
	}
	gs.SavedRuns = len(gs.Runs)

	set.logger.Debug("saved generation strategy",
		zap.String("strategy", gs.Name),
		zap.Int("runs", len(gs.Runs)),
		zap.Duration("elapsed", elapsed(start)),
	)
	return nil
}

// UpdateGenerationStrategy persists newRuns, the generator runs produced
// since the strategy's last checkpoint, and advances the checkpoint past
// them. Cost is proportional to len(newRuns), not to the strategy's full
// history. An empty newRuns is a no-op with no encoder invocation.
//
// newRuns must be exactly the not-yet-durable suffix of the strategy's run
// history, in original order. The caller owns that bookkeeping; gaps,
// reordering, or duplicates are not detected here.
func UpdateGenerationStrategy(ctx context.Context, gs *models.GenerationStrategy, newRuns []*models.GeneratorRun, set *Settings) error {
	conn, err := set.ensure(ctx)
	if err != nil {
		return err
	}
	if len(newRuns) == 0 {
		return nil
	}

	start := time.Now()
	if err := set.encoder.AppendGeneratorRuns(ctx, conn, gs, newRuns); err != nil {
		return err
	}
	gs.SavedRuns += len(newRuns)

	set.logger.Debug("updated generation strategy",
		zap.String("strategy", gs.Name),
		zap.Int("new_runs", len(newRuns)),
		zap.Int("saved_runs", gs.SavedRuns),
		zap.Duration("elapsed", elapsed(start)),
	)
	return nil
}

// SaveNewTrial persists one newly created trial. Delegates to SaveNewTrials.
func SaveNewTrial(ctx context.Context, exp *models.Experiment, trial *models.Trial, set *Settings) error {
	return SaveNewTrials(ctx, exp, []*models.Trial{trial}, set)
}

// SaveNewTrials persists newly created trials, including observation data
// already attached to the experiment for those trials, as one batch. The
// caller guarantees the trials are not yet durable; an index collision with
// a durable trial is the encoder's to reject, never to overwrite.
func SaveNewTrials(ctx context.Context, exp *models.Experiment, trials []*models.Trial, set *Settings) error {
	conn, err := set.ensure(ctx)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return nil
	}

	start := time.Now()
	if err := set.encoder.InsertTrials(ctx, conn, exp, trials); err != nil {
		return err
	}

	set.logger.Debug("saved new trials",
		zap.String("experiment", exp.Name),
		zap.Ints("trial_indices", trialIndices(trials)),
		zap.Duration("elapsed", elapsed(start)),
	)
	return nil
}

// SaveUpdatedTrial persists one updated trial. Delegates to SaveUpdatedTrials.
func SaveUpdatedTrial(ctx context.Context, exp *models.Experiment, trial *models.Trial, set *Settings) error {
	return SaveUpdatedTrials(ctx, exp, []*models.Trial{trial}, set)
}

// SaveUpdatedTrials persists changes to already-durable trials, including
// observation data attached for those trials, as one batch. The caller
// guarantees the trials are durable.
func SaveUpdatedTrials(ctx context.Context, exp *models.Experiment, trials []*models.Trial, set *Settings) error {
	conn, err := set.ensure(ctx)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return nil
	}

	start := time.Now()
	if err := set.encoder.UpdateTrials(ctx, conn, exp, trials); err != nil {
		return err
	}

	set.logger.Debug("updated trials",
		zap.String("experiment", exp.Name),
		zap.Ints("trial_indices", trialIndices(trials)),
		zap.Duration("elapsed", elapsed(start)),
	)
	return nil
}

func trialIndices(trials []*models.Trial) []int {
	indices := make([]int, 0, len(trials))
	for _, trial := range trials {
		indices = append(indices, trial.Index)
	}
	return indices
}

// elapsed rounds wall-clock durations for log readability.
func elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
