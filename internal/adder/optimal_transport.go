package adder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/types"
)

// State is the lifecycle stage of the buffered episode.
type State int

const (
	Empty State = iota
	Accumulating
	Relabeling
	Flushing
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Relabeling:
		return "relabeling"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Rewarder computes one reward per observation of a complete episode.
type Rewarder interface {
	ComputeRewards(ctx context.Context, observations [][]float64) ([]float64, error)
}

type bufferedStep struct {
	action []float64
	next   types.TimeStep
}

// OptimalTransport buffers a fixed-length episode, replaces its rewards with
// the rewarder's output once the last timestep arrives, and forwards the
// relabelled episode to the wrapped adder. Nothing reaches the wrapped adder
// before the episode is relabelled.
//
// It is not safe for concurrent use.
type OptimalTransport struct {
	next          Adder
	rewarder      Rewarder
	episodeLength int
	logger        zerolog.Logger
	metrics       *metrics.Collector

	state State
	first types.TimeStep
	steps []bufferedStep
}

// NewOptimalTransport wraps next.
func NewOptimalTransport(next Adder, rewarder Rewarder, episodeLength int, logger zerolog.Logger) (*OptimalTransport, error) {
	if next == nil {
		return nil, fmt.Errorf("underlying adder is required")
	}
	if rewarder == nil {
		return nil, fmt.Errorf("rewarder is required")
	}
	if episodeLength <= 0 {
		return nil, fmt.Errorf("episode length must be positive, got %d", episodeLength)
	}
	return &OptimalTransport{
		next:          next,
		rewarder:      rewarder,
		episodeLength: episodeLength,
		logger:        logger,
		steps:         make([]bufferedStep, 0, episodeLength),
	}, nil
}

// WithMetrics reports relabelled and discarded episodes to m.
func (a *OptimalTransport) WithMetrics(m *metrics.Collector) *OptimalTransport {
	a.metrics = m
	return a
}

// State returns the current lifecycle stage.
func (a *OptimalTransport) State() State { return a.state }

// Buffered is the number of steps held for the current episode.
func (a *OptimalTransport) Buffered() int { return len(a.steps) }

// AddFirst implements Adder.
func (a *OptimalTransport) AddFirst(_ context.Context, ts types.TimeStep) error {
	if a.state != Empty {
		return ErrEpisodeInProgress
	}
	if !ts.First() {
		return fmt.Errorf("%w: AddFirst got %s timestep", ErrStepType, ts.StepType)
	}
	a.first = cloneTimeStep(ts)
	a.state = Accumulating
	return nil
}

// Add implements Adder. The call carrying the last timestep relabels and
// flushes the episode before returning.
func (a *OptimalTransport) Add(ctx context.Context, action []float64, next types.TimeStep) error {
	if a.state != Accumulating {
		return ErrNoEpisode
	}
	if next.First() {
		return fmt.Errorf("%w: Add got first timestep", ErrStepType)
	}
	if len(a.steps) == a.episodeLength {
		return fmt.Errorf("%w: %d steps buffered", ErrBufferFull, len(a.steps))
	}
	a.steps = append(a.steps, bufferedStep{
		action: append([]float64(nil), action...),
		next:   cloneTimeStep(next),
	})
	if !next.Last() {
		return nil
	}

	if len(a.steps) != a.episodeLength {
		steps := len(a.steps)
		a.discard("short episode")
		return fmt.Errorf("%w: got %d steps, want %d", ErrEpisodeLength, steps, a.episodeLength)
	}
	return a.relabelAndFlush(ctx)
}

// Reset implements Adder. A partial episode is dropped without being
// relabelled or forwarded.
func (a *OptimalTransport) Reset(ctx context.Context) error {
	if a.state != Empty {
		a.discard("reset")
	}
	return a.next.Reset(ctx)
}

func (a *OptimalTransport) relabelAndFlush(ctx context.Context) error {
	a.state = Relabeling
	observations := make([][]float64, len(a.steps))
	observations[0] = a.first.Observation
	for i := 1; i < len(a.steps); i++ {
		observations[i] = a.steps[i-1].next.Observation
	}

	rewards, err := a.rewarder.ComputeRewards(ctx, observations)
	if err != nil {
		a.discard("relabel failed")
		return fmt.Errorf("relabel episode: %w", err)
	}
	if len(rewards) != len(a.steps) {
		a.discard("reward count mismatch")
		return fmt.Errorf("%w: rewarder returned %d rewards for %d steps", ErrEpisodeLength, len(rewards), len(a.steps))
	}
	for i := range a.steps {
		a.steps[i].next.Reward = rewards[i]
	}

	a.state = Flushing
	if err := a.flush(ctx); err != nil {
		a.reset()
		if resetErr := a.next.Reset(ctx); resetErr != nil {
			a.logger.Error().Err(resetErr).Msg("Failed to reset underlying adder after flush error")
		}
		return fmt.Errorf("forward relabeled episode: %w", err)
	}
	a.logger.Debug().Int("steps", len(a.steps)).Msg("Forwarded relabeled episode")
	a.reset()
	return nil
}

func (a *OptimalTransport) flush(ctx context.Context) error {
	if err := a.next.AddFirst(ctx, a.first); err != nil {
		return err
	}
	for _, step := range a.steps {
		if err := a.next.Add(ctx, step.action, step.next); err != nil {
			return err
		}
	}
	return nil
}

func (a *OptimalTransport) discard(reason string) {
	if a.metrics != nil {
		a.metrics.EpisodeDiscarded(len(a.steps), reason)
	} else {
		a.logger.Debug().Int("steps", len(a.steps)).Str("reason", reason).Msg("Discarded partial episode")
	}
	a.reset()
}

func (a *OptimalTransport) reset() {
	a.first = types.TimeStep{}
	a.steps = a.steps[:0]
	a.state = Empty
}

func cloneTimeStep(ts types.TimeStep) types.TimeStep {
	ts.Observation = append([]float64(nil), ts.Observation...)
	return ts
}
