package preprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

func TestMeanStd_NormalisesWithBatchMoments(t *testing.T) {
	m, err := NewMeanStd(types.NewObservationSpec(2), false)
	require.NoError(t, err)

	require.NoError(t, m.Update([][]float64{{0, 10}, {2, 10}, {4, 10}}))
	mean, variance := m.Moments()
	assert.InDeltaSlice(t, []float64{2, 10}, mean, 1e-12)
	assert.InDeltaSlice(t, []float64{8.0 / 3, 0}, variance, 1e-12)

	emb, err := m.Transform([]float64{4, 10})
	require.NoError(t, err)
	assert.InDelta(t, 2/math.Sqrt(8.0/3), emb[0], 1e-6)
	assert.Equal(t, 0.0, emb[1])
	assert.False(t, math.IsNaN(emb[1]))
}

func TestMeanStd_FrozenWithoutPartialUpdate(t *testing.T) {
	m, err := NewMeanStd(types.NewObservationSpec(1), false)
	require.NoError(t, err)

	require.NoError(t, m.Update([][]float64{{1}, {3}}))
	assert.True(t, m.Frozen())
	require.NoError(t, m.Update([][]float64{{100}, {200}}))

	mean, _ := m.Moments()
	assert.Equal(t, []float64{2}, mean)
	assert.Equal(t, 2.0, m.Count())
}

func TestMeanStd_StreamingMatchesFullBatch(t *testing.T) {
	full, err := NewMeanStd(types.NewObservationSpec(2), true)
	require.NoError(t, err)
	streamed, err := NewMeanStd(types.NewObservationSpec(2), true)
	require.NoError(t, err)

	batch := [][]float64{{1, -1}, {2, 0}, {5, 3}, {-2, 8}, {0, 0}}
	require.NoError(t, full.Update(batch))
	require.NoError(t, streamed.Update(batch[:2]))
	require.NoError(t, streamed.Update(batch[2:]))

	fullMean, fullVar := full.Moments()
	streamMean, streamVar := streamed.Moments()
	assert.InDeltaSlice(t, fullMean, streamMean, 1e-9)
	assert.InDeltaSlice(t, fullVar, streamVar, 1e-9)
	assert.False(t, streamed.Frozen())
}

func TestMeanStd_TransformIsIdempotent(t *testing.T) {
	m, err := NewMeanStd(types.NewObservationSpec(3), false)
	require.NoError(t, err)
	require.NoError(t, m.Update([][]float64{{1, 2, 3}, {3, 2, 1}}))

	obs := []float64{0.5, 1.5, 2.5}
	first, err := m.Transform(obs)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.Transform(obs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []float64{0.5, 1.5, 2.5}, obs)
}

func TestMeanStd_ShapeMismatch(t *testing.T) {
	m, err := NewMeanStd(types.NewObservationSpec(2), true)
	require.NoError(t, err)

	_, err = m.Transform([]float64{1, 2, 3})
	assert.ErrorIs(t, err, types.ErrShapeMismatch)
	err = m.Update([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, types.ErrShapeMismatch)
}

type staticParams struct {
	snapshot varsync.Snapshot
	err      error
}

func (s staticParams) Params() (varsync.Snapshot, error) { return s.snapshot, s.err }

func TestEncoder_LinearEncoder(t *testing.T) {
	params := staticParams{snapshot: varsync.Snapshot{
		Version: 1,
		Values: map[string][]float64{
			"policy/w": {1, 0, 0, 2, 1, 1},
			"policy/b": {0.5, -1, 0},
		},
	}}
	enc, err := NewEncoder(types.NewObservationSpec(2), LinearEncoder("policy"), params)
	require.NoError(t, err)

	emb, err := enc.Transform([]float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 7, 7}, emb)
}

func TestEncoder_Errors(t *testing.T) {
	notReady := staticParams{err: varsync.ErrNotReady}
	enc, err := NewEncoder(types.NewObservationSpec(2), LinearEncoder("policy"), notReady)
	require.NoError(t, err)

	_, err = enc.Transform([]float64{1, 2})
	assert.ErrorIs(t, err, varsync.ErrNotReady)
	_, err = enc.Transform([]float64{1})
	assert.ErrorIs(t, err, types.ErrShapeMismatch)

	bad := staticParams{snapshot: varsync.Snapshot{Values: map[string][]float64{"policy/w": {1, 2, 3}}}}
	enc, err = NewEncoder(types.NewObservationSpec(2), LinearEncoder("policy"), bad)
	require.NoError(t, err)
	_, err = enc.Transform([]float64{1, 2})
	assert.ErrorIs(t, err, ErrBadParams)

	_, err = NewEncoder(types.NewObservationSpec(2), nil, bad)
	assert.Error(t, err)
}

func TestTransformAll(t *testing.T) {
	m, err := NewMeanStd(types.NewObservationSpec(1), false)
	require.NoError(t, err)
	out, err := TransformAll(m, [][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = TransformAll(m, [][]float64{{1}, {2, 3}})
	assert.ErrorIs(t, err, types.ErrShapeMismatch)
}
