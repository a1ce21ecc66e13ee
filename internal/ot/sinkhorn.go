package ot

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Coupling is the result of solving an entropic transport problem.
type Coupling struct {
	// Plan is the T×T' transport plan. Rows sum to 1/T and columns to 1/T'.
	Plan *mat.Dense

	// Epsilon is the absolute regularisation used for the final stage.
	Epsilon float64

	Iterations int
	Converged  bool
}

// Solve computes an entropic optimal transport plan between uniform
// marginals for the cost matrix c.
//
// The solver runs Sinkhorn iterations on the dual potentials in the log
// domain, annealing epsilon from the mean cost down to
// RelativeEpsilon·mean(c) and warm-starting every stage from the previous
// potentials.
func (e *Engine) Solve(c *mat.Dense) (Coupling, error) {
	n, m := c.Dims()
	if n == 0 || m == 0 {
		return Coupling{}, ErrEmptyTrajectory
	}

	scale := mat.Sum(c) / float64(n*m)
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Coupling{}, ErrNonFinite
	}
	if scale == 0 {
		// Every pair is at zero distance; any plan is optimal.
		plan := mat.NewDense(n, m, nil)
		plan.Apply(func(_, _ int, _ float64) float64 { return 1 / float64(n*m) }, plan)
		return Coupling{Plan: plan, Converged: true}, nil
	}

	target := e.opts.RelativeEpsilon * scale
	logA := -math.Log(float64(n))
	logB := -math.Log(float64(m))

	// Column updates walk the transposed cost so both passes read rows.
	ct := mat.DenseCopyOf(c.T())

	f := make([]float64, n)
	g := make([]float64, m)
	next := make([]float64, n)
	rowBuf := make([]float64, m)
	colBuf := make([]float64, n)

	var iterations int
	converged := false
	for eps := scale; ; eps = math.Max(target, eps*e.opts.EpsilonDecay) {
		final := eps <= target
		budget := e.opts.StageIterations
		if final {
			budget = e.opts.MaxIterations
		}
		for it := 0; it < budget; it++ {
			iterations++
			// With g fresh from a column pass the columns are exact and row i
			// sums to a·exp((f[i]-next[i])/eps).
			var rowErr float64
			for i := 0; i < n; i++ {
				row := c.RawRowView(i)
				for j := 0; j < m; j++ {
					rowBuf[j] = (g[j] - row[j]) / eps
				}
				next[i] = eps*logA - eps*floats.LogSumExp(rowBuf)
				rowErr = math.Max(rowErr, math.Abs(math.Expm1((f[i]-next[i])/eps)))
			}
			if final && it > 0 && rowErr < e.opts.Tolerance {
				converged = true
				break
			}
			copy(f, next)

			for j := 0; j < m; j++ {
				col := ct.RawRowView(j)
				for i := 0; i < n; i++ {
					colBuf[i] = (f[i] - col[i]) / eps
				}
				g[j] = eps*logB - eps*floats.LogSumExp(colBuf)
			}
		}
		if final {
			plan := mat.NewDense(n, m, nil)
			plan.Apply(func(i, j int, v float64) float64 {
				return math.Exp((f[i] + g[j] - v) / eps)
			}, c)
			return Coupling{Plan: plan, Epsilon: eps, Iterations: iterations, Converged: converged}, nil
		}
	}
}

// CostMatrix builds the pairwise ground cost between two trajectories.
func (e *Engine) CostMatrix(x, y [][]float64) (*mat.Dense, error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, ErrEmptyTrajectory
	}
	c := mat.NewDense(len(x), len(y), nil)
	for i, xi := range x {
		for j, yj := range y {
			if len(xi) != len(yj) {
				return nil, fmt.Errorf("%w: embedding sizes %d and %d", ErrDimension, len(xi), len(yj))
			}
			v := e.opts.Cost(xi, yj)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrNonFinite
			}
			if v < 0 {
				return nil, fmt.Errorf("%w: ground cost %g", ErrNegativeCost, v)
			}
			c.Set(i, j, v)
		}
	}
	return c, nil
}
