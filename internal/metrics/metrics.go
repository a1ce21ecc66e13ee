package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/events"
)

// Collector records relabelling events as structured log lines and keeps
// running totals for the status endpoint.
type Collector struct {
	logger    zerolog.Logger
	actorID   string
	publisher events.Publisher

	relabeled atomic.Int64
	discarded atomic.Int64
	syncs     atomic.Int64
	steps     atomic.Int64
}

// Stats is a point-in-time copy of the collector totals.
type Stats struct {
	EpisodesRelabeled int64 `json:"episodes_relabeled"`
	EpisodesDiscarded int64 `json:"episodes_discarded"`
	ParamSyncs        int64 `json:"param_syncs"`
	StepsRelabeled    int64 `json:"steps_relabeled"`
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger:    logger,
		publisher: events.NoopPublisher{},
	}
}

// WithEvents forwards every recorded episode and sync to publisher.
func (c *Collector) WithEvents(actorID string, publisher events.Publisher) *Collector {
	c.actorID = actorID
	c.publisher = publisher
	return c
}

// Track a relabelled episode
func (c *Collector) EpisodeRelabeled(steps, demonstration int, cost float64, converged bool, duration time.Duration) {
	c.relabeled.Add(1)
	c.steps.Add(int64(steps))
	c.logger.Debug().
		Str("metric", "episode_relabeled").
		Int("steps", steps).
		Int("demonstration", demonstration).
		Float64("cost", cost).
		Bool("converged", converged).
		Dur("duration", duration).
		Msg("Episode relabel metric")

	c.publishEpisode(events.EpisodeEvent{
		Outcome:       events.OutcomeRelabeled,
		Steps:         steps,
		Demonstration: demonstration,
		Cost:          cost,
		Converged:     converged,
	})
}

// Track an episode dropped before relabelling
func (c *Collector) EpisodeDiscarded(steps int, reason string) {
	c.discarded.Add(1)
	c.logger.Warn().
		Str("metric", "episode_discarded").
		Int("steps", steps).
		Str("reason", reason).
		Msg("Episode discarded metric")

	c.publishEpisode(events.EpisodeEvent{
		Outcome:       events.OutcomeDiscarded,
		Steps:         steps,
		Demonstration: -1,
		Reason:        reason,
	})
}

// Track an installed parameter version
func (c *Collector) ParamsSynced(version int64, latency time.Duration) {
	c.syncs.Add(1)
	c.logger.Info().
		Str("metric", "params_synced").
		Int64("version", version).
		Dur("latency", latency).
		Msg("Parameter sync metric")

	err := c.publisher.PublishSync(context.Background(), events.SyncEvent{
		ActorID:   c.actorID,
		Version:   version,
		LatencyMS: latency.Milliseconds(),
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish sync event")
	}
}

func (c *Collector) publishEpisode(event events.EpisodeEvent) {
	event.ActorID = c.actorID
	if err := c.publisher.PublishEpisode(context.Background(), event); err != nil {
		c.logger.Warn().Err(err).Str("outcome", event.Outcome).Msg("Failed to publish episode event")
	}
}

// Stats returns the current totals. A nil collector reports zeros.
func (c *Collector) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		EpisodesRelabeled: c.relabeled.Load(),
		EpisodesDiscarded: c.discarded.Load(),
		ParamSyncs:        c.syncs.Load(),
		StepsRelabeled:    c.steps.Load(),
	}
}
