package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRuns(t *testing.T) {
	gs := &GenerationStrategy{}
	assert.Empty(t, gs.PendingRuns())

	gs.AttachRuns(
		&GeneratorRun{ModelKey: "sobol"},
		&GeneratorRun{ModelKey: "sobol"},
		&GeneratorRun{ModelKey: "gp"},
	)
	assert.Equal(t, []int{0, 1, 2}, runIndices(gs.Runs))

	pending := gs.PendingRuns()
	require.Len(t, pending, 3)

	gs.SavedRuns = 2
	pending = gs.PendingRuns()
	require.Len(t, pending, 1)
	assert.Equal(t, "gp", pending[0].ModelKey)

	gs.SavedRuns = 3
	assert.Empty(t, gs.PendingRuns())
}

func TestAttachRunsAssignsPositions(t *testing.T) {
	gs := &GenerationStrategy{}
	gs.AttachRuns(&GeneratorRun{}, &GeneratorRun{})
	gs.AttachRuns(&GeneratorRun{})

	assert.Equal(t, []int{0, 1, 2}, runIndices(gs.Runs))
}

func TestJSONMapScanAcceptsBytesAndString(t *testing.T) {
	var fromBytes JSONMap
	require.NoError(t, fromBytes.Scan([]byte(`{"owner":"team-a"}`)))
	assert.Equal(t, "team-a", fromBytes["owner"])

	var fromString JSONMap
	require.NoError(t, fromString.Scan(`{"owner":"team-b"}`))
	assert.Equal(t, "team-b", fromString["owner"])

	var fromNil JSONMap
	require.NoError(t, fromNil.Scan(nil))
	assert.NotNil(t, fromNil)
	assert.Empty(t, fromNil)
}

func TestJSONArmsRoundTrip(t *testing.T) {
	arms := JSONArms{{Name: "0_0", Parameters: map[string]interface{}{"lr": 0.1}}}

	value, err := arms.Value()
	require.NoError(t, err)

	var decoded JSONArms
	require.NoError(t, decoded.Scan(value))
	require.Len(t, decoded, 1)
	assert.Equal(t, "0_0", decoded[0].Name)
	assert.Equal(t, 0.1, decoded[0].Parameters["lr"])
}

func runIndices(runs []*GeneratorRun) []int {
	indices := make([]int, 0, len(runs))
	for _, run := range runs {
		indices = append(indices, run.Index)
	}
	return indices
}
