package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/cartridge/otreward/internal/types"
)

// RandomPolicy selects uniformly random actions within the action bounds
type RandomPolicy struct {
	rng  *rand.Rand
	low  []float64
	high []float64
}

// NewRandom creates a new random policy for the given environment spec
func NewRandom(spec types.EnvironmentSpec, seed uint64) (*RandomPolicy, error) {
	if len(spec.ActionLow) == 0 {
		return nil, fmt.Errorf("action space has no dimensions")
	}
	if len(spec.ActionLow) != len(spec.ActionHigh) {
		return nil, fmt.Errorf("continuous action space bounds mismatch")
	}
	for i := range spec.ActionLow {
		if !(spec.ActionLow[i] <= spec.ActionHigh[i]) || math.IsInf(spec.ActionLow[i], 0) || math.IsInf(spec.ActionHigh[i], 0) {
			return nil, fmt.Errorf("invalid bounds [%v, %v] for action dimension %d", spec.ActionLow[i], spec.ActionHigh[i], i)
		}
	}
	return &RandomPolicy{
		rng:  rand.New(rand.NewSource(seed)),
		low:  append([]float64(nil), spec.ActionLow...),
		high: append([]float64(nil), spec.ActionHigh...),
	}, nil
}

// SelectAction implements Policy interface
func (p *RandomPolicy) SelectAction(observation []float64) ([]float64, error) {
	action := make([]float64, len(p.low))
	for i := range p.low {
		action[i] = p.low[i] + p.rng.Float64()*(p.high[i]-p.low[i])
	}
	return action, nil
}
