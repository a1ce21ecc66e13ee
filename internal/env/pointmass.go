// Package env provides the fixed-horizon environment used to exercise the
// relabelling pipeline end to end.
package env

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/cartridge/otreward/internal/types"
)

// ErrEpisodeOver is returned by Step after the last timestep.
var ErrEpisodeOver = errors.New("episode is over, call Reset")

// Environment is a fixed-horizon episodic environment.
type Environment interface {
	Reset(ctx context.Context) (types.TimeStep, error)
	Step(ctx context.Context, action []float64) (types.TimeStep, error)
	Spec() types.EnvironmentSpec
}

// PointMass moves a point in the plane towards a goal. Actions are
// velocities clipped to [-MaxSpeed, MaxSpeed] per axis; observations are the
// position. Episodes always last Horizon steps.
type PointMass struct {
	Horizon  int
	Goal     []float64
	MaxSpeed float64
	// StartNoise is the standard deviation of the start position.
	StartNoise float64

	rng      *rand.Rand
	position []float64
	t        int
	done     bool
}

// NewPointMass creates an environment seeded with seed.
func NewPointMass(horizon int, goal []float64, seed uint64) (*PointMass, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive")
	}
	if len(goal) == 0 {
		return nil, fmt.Errorf("goal is required")
	}
	return &PointMass{
		Horizon:  horizon,
		Goal:     append([]float64(nil), goal...),
		MaxSpeed: 1,
		rng:      rand.New(rand.NewSource(seed)),
		done:     true,
	}, nil
}

// Spec implements Environment.
func (p *PointMass) Spec() types.EnvironmentSpec {
	low := make([]float64, len(p.Goal))
	high := make([]float64, len(p.Goal))
	for i := range low {
		low[i] = -p.MaxSpeed
		high[i] = p.MaxSpeed
	}
	return types.EnvironmentSpec{
		Observations: types.NewObservationSpec(len(p.Goal)),
		ActionLow:    low,
		ActionHigh:   high,
	}
}

// Reset implements Environment.
func (p *PointMass) Reset(ctx context.Context) (types.TimeStep, error) {
	if err := ctx.Err(); err != nil {
		return types.TimeStep{}, err
	}
	p.position = make([]float64, len(p.Goal))
	for i := range p.position {
		p.position[i] = p.rng.NormFloat64() * p.StartNoise
	}
	p.t = 0
	p.done = false
	return types.TimeStep{
		StepType:    types.First,
		Discount:    1,
		Observation: p.observation(),
	}, nil
}

// Step implements Environment. The native reward is the negative distance to
// the goal.
func (p *PointMass) Step(ctx context.Context, action []float64) (types.TimeStep, error) {
	if err := ctx.Err(); err != nil {
		return types.TimeStep{}, err
	}
	if p.done {
		return types.TimeStep{}, ErrEpisodeOver
	}
	if len(action) != len(p.position) {
		return types.TimeStep{}, fmt.Errorf("action has %d dimensions, want %d", len(action), len(p.position))
	}
	for i, a := range action {
		if math.IsNaN(a) {
			return types.TimeStep{}, fmt.Errorf("action %d is NaN", i)
		}
		p.position[i] += math.Max(-p.MaxSpeed, math.Min(p.MaxSpeed, a))
	}
	p.t++

	ts := types.TimeStep{
		StepType:    types.Mid,
		Reward:      -floats.Distance(p.position, p.Goal, 2),
		Discount:    1,
		Observation: p.observation(),
	}
	if p.t >= p.Horizon {
		ts.StepType = types.Last
		ts.Discount = 0
		p.done = true
	}
	return ts, nil
}

func (p *PointMass) observation() []float64 {
	return append([]float64(nil), p.position...)
}
