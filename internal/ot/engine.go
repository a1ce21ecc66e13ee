// Package ot computes optimal-transport alignments between an agent
// trajectory and a set of demonstration trajectories.
//
// Costs are computed with entropic regularisation. For a final
// regularisation epsilon the returned scalar cost is within
// epsilon·(log T + log T') of the exact transport cost; per-step costs carry
// the same bound scaled by T.
package ot

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoDemonstrations = errors.New("no demonstrations to align against")
	ErrEmptyTrajectory  = errors.New("trajectory is empty")
	ErrDimension        = errors.New("embedding dimension mismatch")
	ErrNonFinite        = errors.New("ground cost is not finite")
	ErrNegativeCost     = errors.New("ground cost is negative")
)

// CostFunc is a pointwise ground cost between two embeddings.
type CostFunc func(x, y []float64) float64

// SquaredEuclidean is the default ground cost.
func SquaredEuclidean(x, y []float64) float64 {
	d := floats.Distance(x, y, 2)
	return d * d
}

// Options configures the solver.
type Options struct {
	Cost CostFunc

	// RelativeEpsilon is the final regularisation as a fraction of the mean
	// ground cost.
	RelativeEpsilon float64

	// EpsilonDecay is the annealing factor applied between stages.
	EpsilonDecay float64

	// StageIterations bounds the iterations spent on each annealing stage.
	StageIterations int

	// MaxIterations bounds the iterations at the final epsilon.
	MaxIterations int

	// Tolerance is the largest relative error |r_i·T - 1| of any agent-step
	// row mass at which the final stage stops.
	Tolerance float64
}

// DefaultOptions returns solver settings suitable for episodes of a few
// hundred steps.
func DefaultOptions() Options {
	return Options{
		Cost:            SquaredEuclidean,
		RelativeEpsilon: 1e-3,
		EpsilonDecay:    0.5,
		StageIterations: 50,
		MaxIterations:   2000,
		Tolerance:       1e-4,
	}
}

// Validate checks solver options
func (o Options) Validate() error {
	if o.Cost == nil {
		return fmt.Errorf("cost function is required")
	}
	if o.RelativeEpsilon <= 0 {
		return fmt.Errorf("relative epsilon must be positive")
	}
	if o.EpsilonDecay <= 0 || o.EpsilonDecay >= 1 {
		return fmt.Errorf("epsilon decay must be in (0, 1)")
	}
	if o.StageIterations <= 0 || o.MaxIterations <= 0 {
		return fmt.Errorf("iteration limits must be positive")
	}
	if o.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive")
	}
	return nil
}

// Engine aligns trajectories. It holds no state between calls.
type Engine struct {
	opts Options
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts}, nil
}

// Alignment is the result of aligning an agent trajectory.
type Alignment struct {
	// Demonstration is the index of the best matching demonstration.
	Demonstration int

	// Cost is the transport cost against that demonstration with uniform
	// marginals, i.e. the mean of PerStep.
	Cost float64

	// PerStep holds one cost per agent step, each agent step carrying unit
	// mass. PerStep sums to T·Cost.
	PerStep []float64

	Iterations int
	Converged  bool
}

// Pair aligns an agent trajectory with a single demonstration.
func (e *Engine) Pair(agent, demo [][]float64) (Alignment, error) {
	c, err := e.CostMatrix(agent, demo)
	if err != nil {
		return Alignment{}, err
	}
	coupling, err := e.Solve(c)
	if err != nil {
		return Alignment{}, err
	}

	n, _ := c.Dims()
	weighted := mat.NewDense(n, len(demo), nil)
	weighted.MulElem(coupling.Plan, c)

	// Each agent step's cost is its row's cost per unit of row mass, which
	// stays exact while the row marginals are only within tolerance.
	perStep := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		mass := floats.Sum(coupling.Plan.RawRowView(i))
		if mass > 0 {
			perStep[i] = floats.Sum(weighted.RawRowView(i)) / mass
		}
		total += perStep[i]
	}
	total /= float64(n)
	return Alignment{
		Cost:       total,
		PerStep:    perStep,
		Iterations: coupling.Iterations,
		Converged:  coupling.Converged,
	}, nil
}

// Align aligns an agent trajectory against every demonstration and keeps the
// one with the lowest total cost. Ties go to the earliest demonstration.
func (e *Engine) Align(agent [][]float64, demos [][][]float64) (Alignment, error) {
	if len(demos) == 0 {
		return Alignment{}, ErrNoDemonstrations
	}
	var best Alignment
	for i, demo := range demos {
		a, err := e.Pair(agent, demo)
		if err != nil {
			return Alignment{}, fmt.Errorf("demonstration %d: %w", i, err)
		}
		a.Demonstration = i
		if i == 0 || a.Cost < best.Cost {
			best = a
		}
	}
	return best, nil
}
