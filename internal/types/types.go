// Package types holds the timestep, transition and spec types shared by the
// relabelling pipeline and the collaborators it wraps.
package types

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when an observation does not match the
// configured observation spec.
var ErrShapeMismatch = errors.New("observation shape mismatch")

// StepType marks where a TimeStep sits within an episode
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "first"
	case Last:
		return "last"
	default:
		return "mid"
	}
}

// TimeStep is a single environment timestep
type TimeStep struct {
	StepType    StepType  `json:"step_type"`
	Reward      float64   `json:"reward"`
	Discount    float64   `json:"discount"`
	Observation []float64 `json:"observation"`
}

// First reports whether the timestep starts an episode.
func (t TimeStep) First() bool { return t.StepType == First }

// Mid reports whether the timestep is inside an episode.
func (t TimeStep) Mid() bool { return t.StepType == Mid }

// Last reports whether the timestep ends an episode.
func (t TimeStep) Last() bool { return t.StepType == Last }

// Transition represents a single experience transition. Reward is the only
// field the relabelling pipeline rewrites.
type Transition struct {
	Observation     []float64 `json:"observation"`
	Action          []float64 `json:"action"`
	Reward          float64   `json:"reward"`
	Discount        float64   `json:"discount"`
	NextObservation []float64 `json:"next_observation"`
}

// Episode is an ordered sequence of transitions.
type Episode []Transition

// Observations returns the observation of every transition in order.
func (e Episode) Observations() [][]float64 {
	obs := make([][]float64, len(e))
	for i, t := range e {
		obs[i] = t.Observation
	}
	return obs
}

// Rewards returns the reward of every transition in order.
func (e Episode) Rewards() []float64 {
	rewards := make([]float64, len(e))
	for i, t := range e {
		rewards[i] = t.Reward
	}
	return rewards
}

// ObservationSpec describes the shape of environment observations.
type ObservationSpec struct {
	Shape []int `json:"shape"`
}

// NewObservationSpec returns a spec for observations of the given shape.
func NewObservationSpec(shape ...int) ObservationSpec {
	return ObservationSpec{Shape: append([]int(nil), shape...)}
}

// Size is the number of scalar entries in a flattened observation.
func (s ObservationSpec) Size() int {
	if len(s.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Validate checks that the spec describes a non-empty observation.
func (s ObservationSpec) Validate() error {
	if len(s.Shape) == 0 {
		return fmt.Errorf("observation spec has no shape")
	}
	for _, d := range s.Shape {
		if d <= 0 {
			return fmt.Errorf("observation spec has non-positive dimension %d", d)
		}
	}
	return nil
}

// Check returns ErrShapeMismatch when obs does not fit the spec.
func (s ObservationSpec) Check(obs []float64) error {
	if len(obs) != s.Size() {
		return fmt.Errorf("%w: got %d values, spec %v wants %d", ErrShapeMismatch, len(obs), s.Shape, s.Size())
	}
	return nil
}

// Equal reports whether two specs describe the same shape.
func (s ObservationSpec) Equal(other ObservationSpec) bool {
	if len(s.Shape) != len(other.Shape) {
		return false
	}
	for i := range s.Shape {
		if s.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// EnvironmentSpec bundles the specs an agent needs to be built.
type EnvironmentSpec struct {
	Observations ObservationSpec `json:"observations"`
	ActionLow    []float64       `json:"action_low"`
	ActionHigh   []float64       `json:"action_high"`
}
