// Package events fans relabelling outcomes out to downstream consumers.
package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisode(ctx context.Context, payload EpisodeEvent) error
	PublishSync(ctx context.Context, payload SyncEvent) error
}

// Episode outcomes.
const (
	OutcomeRelabeled = "relabeled"
	OutcomeDiscarded = "discarded"
)

// EpisodeEvent is emitted for every episode that reaches the relabelling
// adder, whether it was relabelled or discarded.
type EpisodeEvent struct {
	ActorID       string  `json:"actor_id,omitempty"`
	Outcome       string  `json:"outcome"`
	Steps         int     `json:"steps"`
	Demonstration int     `json:"demonstration"`
	Cost          float64 `json:"cost"`
	Converged     bool    `json:"converged"`
	Reason        string  `json:"reason,omitempty"`
}

// SyncEvent is emitted when a variable client installs a new version.
type SyncEvent struct {
	ActorID   string `json:"actor_id,omitempty"`
	Version   int64  `json:"version"`
	LatencyMS int64  `json:"latency_ms"`
}

// NoopPublisher drops every event; useful for tests.
type NoopPublisher struct{}

// PublishEpisode satisfies Publisher.
func (NoopPublisher) PublishEpisode(context.Context, EpisodeEvent) error { return nil }

// PublishSync satisfies Publisher.
func (NoopPublisher) PublishSync(context.Context, SyncEvent) error { return nil }

// episodeRoutingKey returns the alerting subject suffix for event, or "".
func episodeRoutingKey(event EpisodeEvent) string {
	switch {
	case event.Outcome == OutcomeDiscarded:
		return "discarded"
	case !event.Converged:
		return "unconverged"
	default:
		return ""
	}
}
