// Package rewarder turns an agent episode into per-step imitation rewards by
// aligning its embeddings against the demonstration store.
package rewarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/demo"
	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/ot"
	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/squash"
	"github.com/cartridge/otreward/internal/types"
)

// ErrEpisodeLength is returned when an episode does not have the configured
// fixed length.
var ErrEpisodeLength = errors.New("episode length does not match configuration")

// Syncer refreshes externally held preprocessor parameters once per episode.
// *varsync.Client implements it.
type Syncer interface {
	Update(ctx context.Context) error
}

// Options configures a Rewarder.
type Options struct {
	EpisodeLength int

	// UpdatePeriod is the number of episodes between preprocessor updates.
	UpdatePeriod int

	// Syncer, when set, is told about every episode instead of updating the
	// preprocessor locally.
	Syncer Syncer

	Metrics *metrics.Collector
}

// Rewarder computes relabelled rewards. It is owned by one actor.
type Rewarder struct {
	store    *demo.Store
	pre      preprocess.Preprocessor
	engine   *ot.Engine
	squasher squash.Squasher
	opts     Options
	logger   zerolog.Logger

	episodes int
}

// New creates a rewarder.
func New(store *demo.Store, pre preprocess.Preprocessor, engine *ot.Engine, squasher squash.Squasher, opts Options, logger zerolog.Logger) (*Rewarder, error) {
	if store == nil || store.Len() == 0 {
		return nil, demo.ErrNoDemonstrations
	}
	if pre == nil || engine == nil || squasher == nil {
		return nil, fmt.Errorf("preprocessor, engine and squasher are required")
	}
	if opts.EpisodeLength <= 0 {
		return nil, fmt.Errorf("episode length must be positive, got %d", opts.EpisodeLength)
	}
	if opts.UpdatePeriod <= 0 {
		return nil, fmt.Errorf("preprocessor update period must be positive, got %d", opts.UpdatePeriod)
	}
	return &Rewarder{
		store:    store,
		pre:      pre,
		engine:   engine,
		squasher: squasher,
		opts:     opts,
		logger:   logger,
	}, nil
}

// ComputeRewards returns one reward per observation, in order.
//
// Preprocessor parameters are refreshed first, subject to the update period,
// so the episode is embedded with the freshest parameters available.
func (r *Rewarder) ComputeRewards(ctx context.Context, observations [][]float64) ([]float64, error) {
	if len(observations) != r.opts.EpisodeLength {
		return nil, fmt.Errorf("%w: got %d steps, want %d", ErrEpisodeLength, len(observations), r.opts.EpisodeLength)
	}
	start := time.Now()

	if err := r.updatePreprocessor(ctx, observations); err != nil {
		return nil, err
	}

	embeddings, err := preprocess.TransformAll(r.pre, observations)
	if err != nil {
		return nil, fmt.Errorf("embed episode: %w", err)
	}
	alignment, err := r.engine.Align(embeddings, r.store.Embeddings())
	if err != nil {
		return nil, fmt.Errorf("align episode: %w", err)
	}
	if !alignment.Converged {
		r.logger.Warn().
			Int("iterations", alignment.Iterations).
			Int("demonstration", alignment.Demonstration).
			Msg("Sinkhorn did not reach tolerance")
	}

	rewards := squash.All(r.squasher, alignment.PerStep)
	if r.opts.Metrics != nil {
		r.opts.Metrics.EpisodeRelabeled(len(rewards), alignment.Demonstration, alignment.Cost, alignment.Converged, time.Since(start))
	}
	return rewards, nil
}

// Relabel returns a copy of episode with every reward replaced.
func (r *Rewarder) Relabel(ctx context.Context, episode types.Episode) (types.Episode, error) {
	rewards, err := r.ComputeRewards(ctx, episode.Observations())
	if err != nil {
		return nil, err
	}
	out := make(types.Episode, len(episode))
	copy(out, episode)
	for i := range out {
		out[i].Reward = rewards[i]
	}
	return out, nil
}

// Episodes is the number of episodes seen.
func (r *Rewarder) Episodes() int { return r.episodes }

// EpisodeLength is the configured fixed episode length.
func (r *Rewarder) EpisodeLength() int { return r.opts.EpisodeLength }

func (r *Rewarder) updatePreprocessor(ctx context.Context, observations [][]float64) error {
	r.episodes++
	if r.opts.Syncer != nil {
		if err := r.opts.Syncer.Update(ctx); err != nil {
			return fmt.Errorf("refresh preprocessor parameters: %w", err)
		}
		return nil
	}
	if r.episodes%r.opts.UpdatePeriod != 0 {
		return nil
	}
	if u, ok := r.pre.(preprocess.Updater); ok {
		if err := u.Update(observations); err != nil {
			return fmt.Errorf("update preprocessor: %w", err)
		}
	}
	return nil
}
