package demo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/types"
)

func episodeOf(observations ...[]float64) types.Episode {
	episode := make(types.Episode, len(observations))
	for i, obs := range observations {
		episode[i] = types.Transition{Observation: obs}
	}
	return episode
}

func TestNewStore_FitsAndFreezesMeanStd(t *testing.T) {
	m, err := preprocess.NewMeanStd(types.NewObservationSpec(1), false)
	require.NoError(t, err)

	calls := 0
	factory := func() ([]types.Episode, error) {
		calls++
		return []types.Episode{
			episodeOf([]float64{1}, []float64{3}),
			episodeOf([]float64{5}),
		}, nil
	}
	store, err := NewStore(factory, m)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 3, store.Steps())
	assert.True(t, m.Frozen())
	assert.Equal(t, 3.0, m.Count())

	mean, _ := m.Moments()
	assert.InDelta(t, 3.0, mean[0], 1e-12)
	assert.InDelta(t, 0.0, store.Embeddings()[0][1][0], 1e-12)
	assert.Len(t, store.Embeddings()[1], 1)
}

func TestNewStore_Errors(t *testing.T) {
	m, err := preprocess.NewMeanStd(types.NewObservationSpec(2), false)
	require.NoError(t, err)

	_, err = NewStore(func() ([]types.Episode, error) { return nil, nil }, m)
	assert.ErrorIs(t, err, ErrNoDemonstrations)

	boom := errors.New("boom")
	_, err = NewStore(func() ([]types.Episode, error) { return nil, boom }, m)
	assert.ErrorIs(t, err, boom)

	_, err = NewStore(func() ([]types.Episode, error) {
		return []types.Episode{episodeOf([]float64{1, 2, 3})}, nil
	}, m)
	assert.ErrorIs(t, err, types.ErrShapeMismatch)
	assert.False(t, m.Frozen())

	_, err = NewStore(func() ([]types.Episode, error) {
		return []types.Episode{{}}, nil
	}, m)
	assert.ErrorIs(t, err, ErrEmptyEpisode)

	_, err = NewStore(nil, m)
	assert.Error(t, err)
}

func TestFromEmbeddings(t *testing.T) {
	src := [][][]float64{{{0, 0}, {1, 1}}}
	store, err := FromEmbeddings(src)
	require.NoError(t, err)
	src[0][0][0] = 9
	assert.Equal(t, []float64{0, 0}, store.Embeddings()[0][0])

	_, err = FromEmbeddings(nil)
	assert.ErrorIs(t, err, ErrNoDemonstrations)
}
