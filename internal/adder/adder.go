// Package adder defines the transition adder interface and the optimal
// transport adder that relabels whole episodes before forwarding them.
package adder

import (
	"context"
	"errors"

	"github.com/cartridge/otreward/internal/types"
)

var (
	ErrEpisodeInProgress = errors.New("episode already in progress")
	ErrNoEpisode         = errors.New("no episode in progress")
	ErrBufferFull        = errors.New("episode buffer full without episode end")
	ErrEpisodeLength     = errors.New("episode ended with unexpected length")
	ErrStepType          = errors.New("unexpected step type")
)

// Adder accepts an episode's timesteps in temporal order.
type Adder interface {
	// AddFirst starts an episode with its first timestep.
	AddFirst(ctx context.Context, ts types.TimeStep) error

	// Add records the action taken and the timestep it led to.
	Add(ctx context.Context, action []float64, next types.TimeStep) error

	// Reset abandons the current episode.
	Reset(ctx context.Context) error
}
