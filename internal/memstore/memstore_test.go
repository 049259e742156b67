package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/expstore/internal/memstore"
	"github.com/fieldline/expstore/internal/models"
	"github.com/fieldline/expstore/internal/storage"
)

func TestExperimentRoundTrip(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{Name: "exp1", Status: "draft"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))
	require.NotZero(t, exp.ID)

	loaded, err := storage.LoadExperiment(ctx, "exp1", set)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, loaded.ID)
	assert.Equal(t, "draft", loaded.Status)
	assert.Equal(t, models.ExperimentKindStandard, loaded.Kind)
	assert.Empty(t, loaded.Trials)
}

func TestStoreNeverAliasesCallerState(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{
		Name:       "exp1",
		Status:     "draft",
		Properties: models.JSONMap{"owner": "team-a"},
	}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	// Mutations after the save must not leak into the store.
	exp.Status = "abandoned"
	exp.Properties["owner"] = "team-b"

	loaded, err := storage.LoadExperiment(ctx, "exp1", set)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.Status)
	assert.Equal(t, "team-a", loaded.Properties["owner"])

	// And mutations of a loaded copy must not leak either.
	loaded.Status = "running"
	again, err := storage.LoadExperiment(ctx, "exp1", set)
	require.NoError(t, err)
	assert.Equal(t, "draft", again.Status)
}

func TestTrialLifecycle(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{Name: "exp1"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	trial := &models.Trial{Index: 0, Status: "running"}
	require.NoError(t, storage.SaveNewTrial(ctx, exp, trial, set))
	assert.NotZero(t, trial.ID)

	// Same index again is an insert conflict, not an overwrite.
	err := storage.SaveNewTrial(ctx, exp, &models.Trial{Index: 0, Status: "candidate"}, set)
	require.Error(t, err)

	trial.Status = "completed"
	exp.DataByTrial = map[int][]*models.ObservationData{
		0: {{TrialIndex: 0, Metrics: models.JSONMetricRows{{MetricName: "loss", ArmName: "0_0", Mean: 0.9}}}},
	}
	require.NoError(t, storage.SaveUpdatedTrial(ctx, exp, trial, set))

	loaded, err := storage.LoadExperiment(ctx, "exp1", set)
	require.NoError(t, err)
	require.Len(t, loaded.Trials, 1)
	assert.Equal(t, "completed", loaded.Trials[0].Status)
	require.Len(t, loaded.DataByTrial[0], 1)
	assert.Equal(t, "loss", loaded.DataByTrial[0][0].Metrics[0].MetricName)
}

func TestUpdateUnknownTrialFails(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{Name: "exp1"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	err := storage.SaveUpdatedTrial(ctx, exp, &models.Trial{Index: 3}, set)
	require.Error(t, err)
}

func TestGenerationStrategyIncrementalSync(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	set := store.Settings()

	exp := &models.Experiment{Name: "exp1"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	gs := &models.GenerationStrategy{
		Name:         "sobol+gp",
		ExperimentID: exp.ID,
		Steps:        models.JSONSteps{{ModelKey: "sobol", NumTrials: 3}, {ModelKey: "gp", NumTrials: -1}},
	}
	gs.AttachRuns(
		&models.GeneratorRun{ModelKey: "sobol"},
		&models.GeneratorRun{ModelKey: "sobol"},
		&models.GeneratorRun{ModelKey: "sobol"},
	)
	require.NoError(t, storage.SaveGenerationStrategy(ctx, gs, set))
	assert.Equal(t, 3, gs.SavedRuns)
	assert.Equal(t, 3, store.RunCount("exp1"))

	gs.AttachRuns(&models.GeneratorRun{ModelKey: "gp"}, &models.GeneratorRun{ModelKey: "gp"})
	require.NoError(t, storage.UpdateGenerationStrategy(ctx, gs, gs.PendingRuns(), set))
	assert.Equal(t, 5, gs.SavedRuns)
	assert.Equal(t, 5, store.RunCount("exp1"))

	loaded, err := storage.LoadGenerationStrategy(ctx, "exp1", set)
	require.NoError(t, err)
	require.Len(t, loaded.Runs, 5)
	assert.Equal(t, 5, loaded.SavedRuns)
	assert.Equal(t, "gp", loaded.Runs[4].ModelKey)
}

func TestLoadExperimentAndGenerationStrategyAbsent(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{Name: "exp1"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	loadedExp, gs, err := storage.LoadExperimentAndGenerationStrategy(ctx, "exp1", set)
	require.NoError(t, err)
	assert.Equal(t, "exp1", loadedExp.Name)
	assert.Nil(t, gs)
}

func TestAppendRequiresSavedStrategy(t *testing.T) {
	ctx := context.Background()
	set := memstore.New().Settings()

	exp := &models.Experiment{Name: "exp1"}
	require.NoError(t, storage.SaveExperiment(ctx, exp, set))

	gs := &models.GenerationStrategy{Name: "gs", ExperimentID: exp.ID}
	gs.AttachRuns(&models.GeneratorRun{ModelKey: "sobol"})

	err := storage.UpdateGenerationStrategy(ctx, gs, gs.PendingRuns(), set)
	require.Error(t, err)
}
