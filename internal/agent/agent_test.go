package agent

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

type constantPolicy []float64

func (c constantPolicy) SelectAction([]float64) ([]float64, error) { return c, nil }

type countingUpdater struct{ calls int }

func (c *countingUpdater) Update(context.Context) error {
	c.calls++
	return nil
}

func TestActor_ForwardsToAdder(t *testing.T) {
	ctx := context.Background()
	backend := replay.NewMemoryBackend(0)
	updater := &countingUpdater{}
	actor, err := NewActor(constantPolicy{0.5}, replay.NewAdder(backend, "test", 0, zerolog.New(io.Discard)), updater)
	require.NoError(t, err)

	require.NoError(t, actor.ObserveFirst(ctx, types.TimeStep{StepType: types.First, Observation: []float64{0}}))
	action, err := actor.SelectAction([]float64{0})
	require.NoError(t, err)
	require.NoError(t, actor.Observe(ctx, action, types.TimeStep{StepType: types.Last, Reward: 1, Observation: []float64{1}}))
	require.NoError(t, actor.Update(ctx))

	stats, err := backend.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTransitions)
	assert.Equal(t, 1, updater.calls)

	evaluator, err := NewActor(constantPolicy{0}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, evaluator.ObserveFirst(ctx, types.TimeStep{}))
	assert.NoError(t, evaluator.Update(ctx))
	assert.NoError(t, evaluator.Abandon(ctx))
}

func TestWhiteningEncoder(t *testing.T) {
	observations := [][]float64{{1, 10}, {3, 10}}
	values, err := WhiteningEncoder("policy", observations)
	require.NoError(t, err)

	params := staticParams(varsync.Snapshot{Version: 1, Values: values})
	enc, err := preprocess.NewEncoder(types.NewObservationSpec(2), preprocess.LinearEncoder("policy"), params)
	require.NoError(t, err)

	emb, err := enc.Transform([]float64{3, 10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, emb[0], 1e-6)
	assert.InDelta(t, 0.0, emb[1], 1e-6)

	_, err = WhiteningEncoder("policy", nil)
	assert.Error(t, err)
	_, err = WhiteningEncoder("policy", [][]float64{{1, 2}, {1}})
	assert.Error(t, err)
}

type staticParams varsync.Snapshot

func (s staticParams) Params() (varsync.Snapshot, error) { return varsync.Snapshot(s), nil }

func TestLearner_PublishesEncoder(t *testing.T) {
	ctx := context.Background()
	backend := replay.NewMemoryBackend(0)
	memory := varsync.NewMemorySource()
	learner, err := NewLearner(backend, memory, "policy", 8, zerolog.New(io.Discard))
	require.NoError(t, err)

	stepped, err := learner.Step(ctx)
	require.NoError(t, err)
	assert.False(t, stepped)

	_, err = backend.StoreBatch(ctx, []*replay.Transition{
		{Observation: []float64{0, 1}, Reward: 2},
		{Observation: []float64{2, 3}, Reward: 2},
	})
	require.NoError(t, err)

	stepped, err = learner.Step(ctx)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, 1, learner.Steps())
	assert.InDelta(t, 2.0, learner.MeanReward(), 1e-12)

	snapshot, err := memory.Variables(ctx, []string{"policy/w", "policy/b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
	assert.Len(t, snapshot.Values["policy/w"], 4)
	assert.InDelta(t, -1.0, snapshot.Values["policy/b"][0], 1e-6)
}
