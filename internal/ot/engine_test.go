package ot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultOptions())
	require.NoError(t, err)
	return engine
}

func TestEngine_SelfMatch(t *testing.T) {
	engine := newTestEngine(t)
	traj := [][]float64{{0, 0}, {1, 1}, {2, 2}}

	alignment, err := engine.Align(traj, [][][]float64{traj})
	require.NoError(t, err)
	assert.True(t, alignment.Converged)
	require.Len(t, alignment.PerStep, 3)
	for i, c := range alignment.PerStep {
		assert.InDelta(t, 0, c, 1e-6, "step %d", i)
	}
	assert.InDelta(t, 0, alignment.Cost, 1e-6)
}

func TestEngine_SymmetricOffset(t *testing.T) {
	engine := newTestEngine(t)
	demo := [][]float64{{0, 0}, {1, 1}}
	agent := [][]float64{{5, 5}, {6, 6}}

	alignment, err := engine.Align(agent, [][][]float64{demo})
	require.NoError(t, err)
	require.Len(t, alignment.PerStep, 2)
	assert.InDelta(t, 50, alignment.PerStep[0], 1e-3)
	assert.InDelta(t, 50, alignment.PerStep[1], 1e-3)
	assert.InDelta(t, alignment.PerStep[0], alignment.PerStep[1], 1e-3)
	assert.InDelta(t, 50, alignment.Cost, 1e-3)
}

func TestEngine_ReversalChangesPerStepCost(t *testing.T) {
	engine := newTestEngine(t)
	demo := [][]float64{{0, 0}, {2, 0}, {3, 0}}
	agent := [][]float64{{0, 0}, {1, 0}, {5, 0}}
	reversed := [][]float64{agent[2], agent[1], agent[0]}

	forward, err := engine.Align(agent, [][][]float64{demo})
	require.NoError(t, err)
	backward, err := engine.Align(reversed, [][][]float64{demo})
	require.NoError(t, err)

	assert.InDelta(t, 0, forward.PerStep[0], 1e-6)
	assert.InDelta(t, 1, forward.PerStep[1], 1e-6)
	assert.InDelta(t, 4, forward.PerStep[2], 1e-6)

	n := len(forward.PerStep)
	for i := range forward.PerStep {
		assert.InDelta(t, forward.PerStep[i], backward.PerStep[n-1-i], 1e-6)
	}
	assert.Greater(t, math.Abs(forward.PerStep[0]-backward.PerStep[0]), 1.0)
}

func TestEngine_RaggedLengths(t *testing.T) {
	engine := newTestEngine(t)
	agent := [][]float64{{0}, {0.5}, {1}}
	demo := [][]float64{{0}, {1}}

	alignment, err := engine.Align(agent, [][][]float64{demo})
	require.NoError(t, err)
	require.Len(t, alignment.PerStep, 3)

	var sum float64
	for _, c := range alignment.PerStep {
		assert.False(t, math.IsNaN(c) || math.IsInf(c, 0))
		assert.GreaterOrEqual(t, c, 0.0)
		sum += c
	}
	assert.InDelta(t, 3*alignment.Cost, sum, 1e-9)
	assert.Greater(t, alignment.PerStep[1], alignment.PerStep[0])
}

func TestEngine_PicksBestDemonstration(t *testing.T) {
	engine := newTestEngine(t)
	agent := [][]float64{{1, 1}, {2, 2}}
	far := [][]float64{{10, 10}, {11, 11}}
	near := [][]float64{{1, 1}, {2, 2}}

	alignment, err := engine.Align(agent, [][][]float64{far, near, near})
	require.NoError(t, err)
	assert.Equal(t, 1, alignment.Demonstration)
	assert.InDelta(t, 0, alignment.Cost, 1e-6)
}

func TestEngine_IdenticalPoints(t *testing.T) {
	engine := newTestEngine(t)
	agent := [][]float64{{3, 3}, {3, 3}}
	demo := [][]float64{{3, 3}, {3, 3}, {3, 3}}

	alignment, err := engine.Align(agent, [][][]float64{demo})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, alignment.PerStep)
	assert.Equal(t, 0.0, alignment.Cost)
}

func TestEngine_Errors(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Align([][]float64{{0}}, nil)
	assert.ErrorIs(t, err, ErrNoDemonstrations)

	_, err = engine.Align(nil, [][][]float64{{{0}}})
	assert.ErrorIs(t, err, ErrEmptyTrajectory)

	_, err = engine.Align([][]float64{{0, 1}}, [][][]float64{{{0}}})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = engine.Align([][]float64{{math.NaN()}}, [][][]float64{{{0}}})
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestSolve_Marginals(t *testing.T) {
	engine := newTestEngine(t)
	c := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 2,
		5, 1,
	})

	coupling, err := engine.Solve(c)
	require.NoError(t, err)
	assert.True(t, coupling.Converged)

	rows, cols := coupling.Plan.Dims()
	for i := 0; i < rows; i++ {
		assert.InEpsilon(t, 1.0/3, mat.Sum(coupling.Plan.RowView(i)), DefaultOptions().Tolerance)
	}
	for j := 0; j < cols; j++ {
		assert.InDelta(t, 0.5, mat.Sum(coupling.Plan.ColView(j)), 1e-9)
	}
}

// spiral samples n points of a planar spiral starting at phase.
func spiral(n int, phase float64) [][]float64 {
	points := make([][]float64, n)
	for i := range points {
		theta := phase + 4*math.Pi*float64(i)/float64(n)
		r := 1 + 0.1*float64(i)
		points[i] = []float64{r * math.Cos(theta), r * math.Sin(theta)}
	}
	return points
}

func TestEngine_ConvergesOnLongTrajectories(t *testing.T) {
	engine := newTestEngine(t)
	agent := spiral(40, 0.2)
	demos := [][][]float64{spiral(50, 0), spiral(40, 1.5)}

	alignment, err := engine.Align(agent, demos)
	require.NoError(t, err)
	assert.True(t, alignment.Converged)
	assert.Less(t, alignment.Iterations, 10*DefaultOptions().StageIterations+DefaultOptions().MaxIterations)
	require.Len(t, alignment.PerStep, 40)
	for i, c := range alignment.PerStep {
		assert.False(t, math.IsNaN(c) || math.IsInf(c, 0), "step %d", i)
		assert.GreaterOrEqual(t, c, 0.0)
	}

	c, err := engine.CostMatrix(agent, demos[alignment.Demonstration])
	require.NoError(t, err)
	coupling, err := engine.Solve(c)
	require.NoError(t, err)
	rows, _ := coupling.Plan.Dims()
	for i := 0; i < rows; i++ {
		assert.InEpsilon(t, 1.0/40, mat.Sum(coupling.Plan.RowView(i)), DefaultOptions().Tolerance)
	}
}

func TestOptions_Validate(t *testing.T) {
	opts := DefaultOptions()
	opts.EpsilonDecay = 1
	_, err := NewEngine(opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Cost = nil
	_, err = NewEngine(opts)
	assert.Error(t, err)
}
