package env

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/cartridge/otreward/internal/policy"
	"github.com/cartridge/otreward/internal/types"
)

// Expert heads straight for the goal at full speed, with optional Gaussian
// action noise.
type Expert struct {
	goal     []float64
	maxSpeed float64
	noise    float64
	rng      *rand.Rand
}

// NewExpert creates a scripted expert for env.
func NewExpert(env *PointMass, noise float64, seed uint64) *Expert {
	return &Expert{
		goal:     append([]float64(nil), env.Goal...),
		maxSpeed: env.MaxSpeed,
		noise:    noise,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// SelectAction implements policy.Policy.
func (e *Expert) SelectAction(observation []float64) ([]float64, error) {
	if len(observation) != len(e.goal) {
		return nil, fmt.Errorf("observation has %d dimensions, want %d", len(observation), len(e.goal))
	}
	direction := make([]float64, len(e.goal))
	floats.SubTo(direction, e.goal, observation)
	if dist := floats.Norm(direction, 2); dist > e.maxSpeed {
		floats.Scale(e.maxSpeed/dist, direction)
	}
	for i := range direction {
		direction[i] += e.rng.NormFloat64() * e.noise
		direction[i] = math.Max(-e.maxSpeed, math.Min(e.maxSpeed, direction[i]))
	}
	return direction, nil
}

// Rollout runs one full episode of p in environment and returns its
// transitions.
func Rollout(ctx context.Context, environment Environment, p policy.Policy) (types.Episode, error) {
	ts, err := environment.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	var episode types.Episode
	for !ts.Last() {
		action, err := p.SelectAction(ts.Observation)
		if err != nil {
			return nil, fmt.Errorf("select action: %w", err)
		}
		next, err := environment.Step(ctx, action)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", len(episode), err)
		}
		episode = append(episode, types.Transition{
			Observation:     ts.Observation,
			Action:          action,
			Reward:          next.Reward,
			Discount:        next.Discount,
			NextObservation: next.Observation,
		})
		ts = next
	}
	return episode, nil
}

// Demonstrations returns a factory producing n expert episodes.
func Demonstrations(environment Environment, expert policy.Policy, n int) func() ([]types.Episode, error) {
	return func() ([]types.Episode, error) {
		episodes := make([]types.Episode, 0, n)
		for i := 0; i < n; i++ {
			episode, err := Rollout(context.Background(), environment, expert)
			if err != nil {
				return nil, fmt.Errorf("demonstration %d: %w", i, err)
			}
			episodes = append(episodes, episode)
		}
		return episodes, nil
	}
}
