package replay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/types"
)

// Adder turns a timestep stream into stored transitions. Transitions are
// buffered and written with StoreBatch once BatchSize is reached or the
// episode ends.
type Adder struct {
	backend   Backend
	envID     string
	batchSize int
	logger    zerolog.Logger

	episodeID string
	step      uint32
	prev      []float64
	buffer    []*Transition
	episodes  int
}

// NewAdder creates an adder writing to backend. A batchSize below 1 writes
// whole episodes.
func NewAdder(backend Backend, envID string, batchSize int, logger zerolog.Logger) *Adder {
	return &Adder{
		backend:   backend,
		envID:     envID,
		batchSize: batchSize,
		logger:    logger,
	}
}

// AddFirst starts a new episode.
func (a *Adder) AddFirst(ctx context.Context, ts types.TimeStep) error {
	if a.episodeID != "" {
		return fmt.Errorf("episode %s still open", a.episodeID)
	}
	a.episodeID = uuid.New().String()
	a.step = 0
	a.prev = append([]float64(nil), ts.Observation...)
	return nil
}

// Add records the transition from the previous observation to next.
func (a *Adder) Add(ctx context.Context, action []float64, next types.TimeStep) error {
	if a.episodeID == "" {
		return fmt.Errorf("add called before add first")
	}
	nextObs := append([]float64(nil), next.Observation...)
	a.buffer = append(a.buffer, &Transition{
		EnvID:           a.envID,
		EpisodeID:       a.episodeID,
		StepNumber:      a.step,
		Observation:     a.prev,
		Action:          append([]float64(nil), action...),
		NextObservation: nextObs,
		Reward:          next.Reward,
		Discount:        next.Discount,
		Done:            next.Last(),
	})
	a.prev = nextObs
	a.step++

	if next.Last() {
		err := a.flush(ctx)
		a.episodes++
		a.logger.Debug().
			Str("episode_id", a.episodeID).
			Uint32("steps", a.step).
			Msg("Episode stored")
		a.episodeID = ""
		return err
	}
	if a.batchSize > 0 && len(a.buffer) >= a.batchSize {
		return a.flush(ctx)
	}
	return nil
}

// Reset drops unflushed transitions of the open episode.
func (a *Adder) Reset(ctx context.Context) error {
	if len(a.buffer) > 0 {
		a.logger.Debug().
			Str("episode_id", a.episodeID).
			Int("dropped", len(a.buffer)).
			Msg("Dropping unflushed transitions")
	}
	a.buffer = a.buffer[:0]
	a.episodeID = ""
	a.prev = nil
	a.step = 0
	return nil
}

// Episodes is the number of completed episodes written.
func (a *Adder) Episodes() int { return a.episodes }

func (a *Adder) flush(ctx context.Context) error {
	if len(a.buffer) == 0 {
		return nil
	}
	if _, err := a.backend.StoreBatch(ctx, a.buffer); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}
	a.buffer = a.buffer[:0]
	return nil
}
