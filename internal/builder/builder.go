// Package builder assembles agents. OptimalTransport wraps another agent
// builder and swaps the environment reward for an imitation reward, leaving
// learner, replay and policy construction to the wrapped builder.
package builder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/adder"
	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/policy"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

// AgentBuilder creates the components of an actor/learner agent.
type AgentBuilder interface {
	MakeReplay(spec types.EnvironmentSpec) (replay.Backend, error)
	MakeAdder(backend replay.Backend, spec types.EnvironmentSpec) (adder.Adder, error)
	MakeLearner(backend replay.Backend, publisher varsync.Publisher) (*agent.Learner, error)
	// MakeActor builds an actor writing to a, which may be nil.
	MakeActor(ctx context.Context, spec types.EnvironmentSpec, source varsync.Source, a adder.Adder) (*agent.Actor, error)
}

// Direct is the reference agent: a random policy, an in-memory replay
// backend and the whitening learner.
type Direct struct {
	EnvID          string
	ReplayMaxSize  uint64
	BatchSize      int
	VariablePrefix string
	Seed           uint64
	Logger         zerolog.Logger
}

// MakeReplay implements AgentBuilder.
func (d *Direct) MakeReplay(types.EnvironmentSpec) (replay.Backend, error) {
	return replay.NewMemoryBackend(d.ReplayMaxSize), nil
}

// MakeAdder implements AgentBuilder.
func (d *Direct) MakeAdder(backend replay.Backend, _ types.EnvironmentSpec) (adder.Adder, error) {
	if backend == nil {
		return nil, fmt.Errorf("replay backend is required")
	}
	return replay.NewAdder(backend, d.EnvID, d.BatchSize, d.Logger), nil
}

// MakeLearner implements AgentBuilder.
func (d *Direct) MakeLearner(backend replay.Backend, publisher varsync.Publisher) (*agent.Learner, error) {
	return agent.NewLearner(backend, publisher, d.VariablePrefix, d.BatchSize, d.Logger)
}

// MakeActor implements AgentBuilder. The random policy has no variables to
// refresh.
func (d *Direct) MakeActor(_ context.Context, spec types.EnvironmentSpec, _ varsync.Source, a adder.Adder) (*agent.Actor, error) {
	p, err := policy.NewRandom(spec, d.Seed)
	if err != nil {
		return nil, err
	}
	return agent.NewActor(p, a, nil)
}
