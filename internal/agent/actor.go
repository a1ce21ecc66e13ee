// Package agent holds the reference actor and learner that the relabelling
// adder is wired between.
package agent

import (
	"context"
	"fmt"

	"github.com/cartridge/otreward/internal/adder"
	"github.com/cartridge/otreward/internal/policy"
	"github.com/cartridge/otreward/internal/types"
)

// Updater refreshes actor-side variables once per episode.
type Updater interface {
	Update(ctx context.Context) error
}

// Actor selects actions with a policy and hands every timestep to an adder.
type Actor struct {
	policy  policy.Policy
	adder   adder.Adder
	updater Updater
}

// NewActor creates an actor. adder and updater may be nil for evaluation
// actors.
func NewActor(p policy.Policy, a adder.Adder, updater Updater) (*Actor, error) {
	if p == nil {
		return nil, fmt.Errorf("policy is required")
	}
	return &Actor{policy: p, adder: a, updater: updater}, nil
}

// SelectAction returns the policy's action for observation.
func (a *Actor) SelectAction(observation []float64) ([]float64, error) {
	return a.policy.SelectAction(observation)
}

// ObserveFirst records the first timestep of an episode.
func (a *Actor) ObserveFirst(ctx context.Context, ts types.TimeStep) error {
	if a.adder == nil {
		return nil
	}
	return a.adder.AddFirst(ctx, ts)
}

// Observe records the action taken and the resulting timestep.
func (a *Actor) Observe(ctx context.Context, action []float64, next types.TimeStep) error {
	if a.adder == nil {
		return nil
	}
	return a.adder.Add(ctx, action, next)
}

// Abandon drops the current episode from the adder.
func (a *Actor) Abandon(ctx context.Context) error {
	if a.adder == nil {
		return nil
	}
	return a.adder.Reset(ctx)
}

// Update refreshes variables at the end of an episode.
func (a *Actor) Update(ctx context.Context) error {
	if a.updater == nil {
		return nil
	}
	return a.updater.Update(ctx)
}
