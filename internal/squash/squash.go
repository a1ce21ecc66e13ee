// Package squash turns per-step transport costs into rewards. Every
// squasher is monotone non-increasing in cost: a lower transport cost always
// gives a reward at least as high.
package squash

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonPositiveScale is returned when the reward scale alpha is not positive.
var ErrNonPositiveScale = errors.New("reward scale must be positive")

// Squasher maps a transport cost to a reward.
type Squasher interface {
	Squash(cost float64) float64
}

// Func adapts a plain function to the Squasher interface.
type Func func(cost float64) float64

// Squash implements Squasher.
func (f Func) Squash(cost float64) float64 { return f(cost) }

// Linear computes Offset - Alpha*cost. Rewards are highest (Offset) at zero
// cost and positive while cost < Offset/Alpha.
type Linear struct {
	Alpha  float64
	Offset float64
}

// NewLinear returns a linear squasher with the given scale and offset.
func NewLinear(alpha, offset float64) (Linear, error) {
	if !(alpha > 0) {
		return Linear{}, fmt.Errorf("%w: %g", ErrNonPositiveScale, alpha)
	}
	return Linear{Alpha: alpha, Offset: offset}, nil
}

// Squash implements Squasher.
func (l Linear) Squash(cost float64) float64 {
	return l.Offset - l.Alpha*cost
}

// Exponential computes Scale*exp(-Alpha*cost), which is strictly positive
// and bounded by Scale.
type Exponential struct {
	Alpha float64
	Scale float64
}

// NewExponential returns an exponential squasher.
func NewExponential(alpha, scale float64) (Exponential, error) {
	if !(alpha > 0) {
		return Exponential{}, fmt.Errorf("%w: %g", ErrNonPositiveScale, alpha)
	}
	if !(scale > 0) {
		return Exponential{}, fmt.Errorf("exponential scale must be positive: %g", scale)
	}
	return Exponential{Alpha: alpha, Scale: scale}, nil
}

// Squash implements Squasher.
func (e Exponential) Squash(cost float64) float64 {
	return e.Scale * math.Exp(-e.Alpha*cost)
}

// New builds a squasher by name ("linear" or "exponential"). The second
// parameter is the linear offset or the exponential scale.
func New(kind string, alpha, param float64) (Squasher, error) {
	switch kind {
	case "linear", "":
		return NewLinear(alpha, param)
	case "exponential":
		return NewExponential(alpha, param)
	default:
		return nil, fmt.Errorf("unknown squashing function %q", kind)
	}
}

// All applies s to every cost.
func All(s Squasher, costs []float64) []float64 {
	rewards := make([]float64, len(costs))
	for i, c := range costs {
		rewards[i] = s.Squash(c)
	}
	return rewards
}
