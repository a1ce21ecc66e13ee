package actor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/env"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

type recordingAdder struct {
	firsts, adds, resets int
	failAt               int
}

func (r *recordingAdder) AddFirst(context.Context, types.TimeStep) error {
	r.firsts++
	return nil
}

func (r *recordingAdder) Add(context.Context, []float64, types.TimeStep) error {
	r.adds++
	if r.failAt > 0 && r.adds == r.failAt {
		return errors.New("adder rejected step")
	}
	return nil
}

func (r *recordingAdder) Reset(context.Context) error {
	r.resets++
	return nil
}

type stillPolicy struct{}

func (stillPolicy) SelectAction(obs []float64) ([]float64, error) {
	return make([]float64, len(obs)), nil
}

type failingUpdater struct{ err error }

func (f failingUpdater) Update(context.Context) error { return f.err }

func newLoop(t *testing.T, maxEpisodes int, a *recordingAdder, updater agent.Updater) *Loop {
	t.Helper()
	pm, err := env.NewPointMass(3, []float64{1, 1}, 1)
	require.NoError(t, err)
	actor, err := agent.NewActor(stillPolicy{}, a, updater)
	require.NoError(t, err)
	loop, err := New(Config{ActorID: "test", MaxEpisodes: maxEpisodes, EpisodeTimeout: time.Second}, pm, actor, zerolog.New(io.Discard))
	require.NoError(t, err)
	return loop
}

func TestLoop_RunsMaxEpisodes(t *testing.T) {
	a := &recordingAdder{}
	loop := newLoop(t, 4, a, nil)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 4, loop.Episodes())
	assert.Equal(t, 4, a.firsts)
	assert.Equal(t, 12, a.adds)
	assert.Zero(t, a.resets)
}

func TestLoop_FailedEpisodeIsDiscarded(t *testing.T) {
	a := &recordingAdder{failAt: 2}
	loop := newLoop(t, 2, a, nil)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 2, loop.Episodes())
	assert.Equal(t, 1, loop.Failures())
	assert.Equal(t, 1, a.resets)
}

func TestLoop_SyncExhaustedIsFatal(t *testing.T) {
	a := &recordingAdder{}
	exhausted := failingUpdater{err: varsync.ErrSyncExhausted}
	loop := newLoop(t, -1, a, exhausted)

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, varsync.ErrSyncExhausted)
	assert.Zero(t, loop.Episodes())
	assert.Equal(t, 1, a.resets)
}

func TestLoop_StopsAfterRepeatedFailures(t *testing.T) {
	a := &recordingAdder{}
	loop := newLoop(t, -1, a, failingUpdater{err: errors.New("flaky")})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, maxConsecutiveFailures, loop.Failures())
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := newLoop(t, -1, &recordingAdder{}, nil)

	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
}
