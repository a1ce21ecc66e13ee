package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/env"
	"github.com/cartridge/otreward/internal/varsync"
)

// maxConsecutiveFailures stops the loop when episodes keep failing.
const maxConsecutiveFailures = 10

// Config controls the episode loop.
type Config struct {
	ActorID        string
	MaxEpisodes    int // -1 for unlimited
	EpisodeTimeout time.Duration
}

// Loop runs episodes of an environment through an agent actor
type Loop struct {
	cfg         Config
	environment env.Environment
	actor       *agent.Actor
	logger      zerolog.Logger

	episodeCount int
	failures     int
	consecutive  int
}

// New creates a new episode loop
func New(cfg Config, environment env.Environment, actor *agent.Actor, logger zerolog.Logger) (*Loop, error) {
	if environment == nil || actor == nil {
		return nil, fmt.Errorf("environment and actor are required")
	}
	if cfg.EpisodeTimeout <= 0 {
		return nil, fmt.Errorf("episode timeout must be positive")
	}
	return &Loop{
		cfg:         cfg,
		environment: environment,
		actor:       actor,
		logger:      logger.With().Str("actor_id", cfg.ActorID).Logger(),
	}, nil
}

// Run starts the actor main loop. It returns nil once MaxEpisodes episodes
// have completed and ctx.Err() when cancelled. Variable sync exhaustion is
// fatal; other episode failures are logged and the episode is discarded
// until too many fail in a row.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Int("max_episodes", l.cfg.MaxEpisodes).Msg("Actor starting main loop")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Int("episodes", l.episodeCount).Msg("Context cancelled, stopping actor")
			return ctx.Err()
		default:
		}

		if l.cfg.MaxEpisodes >= 0 && l.episodeCount >= l.cfg.MaxEpisodes {
			l.logger.Info().Int("episodes", l.episodeCount).Msg("Reached maximum episodes, stopping")
			return nil
		}

		if err := l.runEpisode(ctx); err != nil {
			if abandonErr := l.actor.Abandon(context.WithoutCancel(ctx)); abandonErr != nil {
				l.logger.Error().Err(abandonErr).Msg("Failed to discard partial episode")
			}
			if errors.Is(err, varsync.ErrSyncExhausted) {
				return fmt.Errorf("episode %d: %w", l.episodeCount+1, err)
			}
			if ctx.Err() != nil {
				continue
			}
			l.failures++
			l.consecutive++
			l.logger.Warn().Err(err).Int("episode", l.episodeCount+1).Msg("Episode failed")
			if l.consecutive >= maxConsecutiveFailures {
				return fmt.Errorf("%d consecutive episodes failed: %w", l.consecutive, err)
			}
			continue
		}

		l.consecutive = 0
		l.episodeCount++
		if l.episodeCount%10 == 0 {
			l.logger.Info().Int("episodes", l.episodeCount).Msg("Completed episodes")
		}
	}
}

// Episodes is the number of completed episodes.
func (l *Loop) Episodes() int { return l.episodeCount }

// Failures is the number of discarded episodes.
func (l *Loop) Failures() int { return l.failures }

// runEpisode runs a single episode, handing every timestep to the actor
func (l *Loop) runEpisode(ctx context.Context) error {
	episodeCtx, cancel := context.WithTimeout(ctx, l.cfg.EpisodeTimeout)
	defer cancel()

	ts, err := l.environment.Reset(episodeCtx)
	if err != nil {
		return fmt.Errorf("failed to reset environment: %w", err)
	}
	if err := l.actor.ObserveFirst(episodeCtx, ts); err != nil {
		return fmt.Errorf("failed to observe first timestep: %w", err)
	}

	var steps int
	var nativeReturn float64
	for !ts.Last() {
		if err := episodeCtx.Err(); err != nil {
			return fmt.Errorf("episode interrupted after %d steps: %w", steps, err)
		}

		action, err := l.actor.SelectAction(ts.Observation)
		if err != nil {
			return fmt.Errorf("failed to select action: %w", err)
		}
		next, err := l.environment.Step(episodeCtx, action)
		if err != nil {
			return fmt.Errorf("failed to step environment: %w", err)
		}
		if err := l.actor.Observe(episodeCtx, action, next); err != nil {
			return fmt.Errorf("failed to observe step %d: %w", steps, err)
		}
		nativeReturn += next.Reward
		steps++
		ts = next
	}

	if err := l.actor.Update(episodeCtx); err != nil {
		return fmt.Errorf("failed to update actor variables: %w", err)
	}

	l.logger.Debug().
		Int("episode", l.episodeCount+1).
		Int("steps", steps).
		Float64("native_return", nativeReturn).
		Msg("Episode completed")
	return nil
}
