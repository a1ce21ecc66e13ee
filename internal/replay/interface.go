// Package replay stores relabelled transitions for the learner.
package replay

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned when no stored transition matches a sample request.
var ErrEmpty = errors.New("no transitions available for sampling")

// Transition represents a single stored experience transition
type Transition struct {
	ID              string            `json:"id"`
	EnvID           string            `json:"env_id"`
	EpisodeID       string            `json:"episode_id"`
	StepNumber      uint32            `json:"step_number"`
	Observation     []float64         `json:"observation"`
	Action          []float64         `json:"action"`
	NextObservation []float64         `json:"next_observation"`
	Reward          float64           `json:"reward"`
	Discount        float64           `json:"discount"`
	Done            bool              `json:"done"`
	Priority        float64           `json:"priority"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SampleConfig defines parameters for sampling transitions
type SampleConfig struct {
	BatchSize     uint32
	EnvID         string
	Prioritized   bool
	PriorityAlpha float64
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
}

// Stats represents replay buffer statistics
type Stats struct {
	TotalTransitions uint64            `json:"total_transitions"`
	TotalEpisodes    uint64            `json:"total_episodes"`
	TransitionsByEnv map[string]uint64 `json:"transitions_by_env"`
	OldestTimestamp  *time.Time        `json:"oldest_timestamp,omitempty"`
	NewestTimestamp  *time.Time        `json:"newest_timestamp,omitempty"`
	MeanReward       float64           `json:"mean_reward"`
}

// Backend defines the interface for replay storage implementations
type Backend interface {
	// Store a single transition
	Store(ctx context.Context, transition *Transition) error

	// Store multiple transitions in a batch
	StoreBatch(ctx context.Context, transitions []*Transition) ([]string, error)

	// Sample transitions and their importance weights
	Sample(ctx context.Context, config *SampleConfig) ([]*Transition, []float64, error)

	// Episode returns an episode's transitions ordered by step number
	Episode(ctx context.Context, episodeID string) ([]*Transition, error)

	GetStats(ctx context.Context, envID string) (*Stats, error)

	// Update priorities for prioritized replay
	UpdatePriorities(ctx context.Context, transitionIDs []string, priorities []float64) error

	// Clear transitions based on criteria
	Clear(ctx context.Context, envID string, beforeTimestamp *time.Time, keepLastN uint32) (uint64, error)

	Close() error
}
