package agent

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/varsync"
)

// Learner samples relabelled transitions from replay and publishes a
// whitening encoder fitted to the sampled observations. Its parameters are
// read by preprocess.LinearEncoder under the same prefix.
type Learner struct {
	backend   replay.Backend
	publisher varsync.Publisher
	prefix    string
	batchSize uint32
	logger    zerolog.Logger

	steps      int
	version    int64
	meanReward float64
}

// NewLearner creates a learner publishing under prefix.
func NewLearner(backend replay.Backend, publisher varsync.Publisher, prefix string, batchSize int, logger zerolog.Logger) (*Learner, error) {
	if backend == nil || publisher == nil {
		return nil, fmt.Errorf("replay backend and publisher are required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	return &Learner{
		backend:   backend,
		publisher: publisher,
		prefix:    prefix,
		batchSize: uint32(batchSize),
		logger:    logger,
	}, nil
}

// Step runs one learner step. It returns false when replay is still empty.
func (l *Learner) Step(ctx context.Context) (bool, error) {
	batch, weights, err := l.backend.Sample(ctx, &replay.SampleConfig{
		BatchSize:     l.batchSize,
		Prioritized:   true,
		PriorityAlpha: 0.6,
	})
	if errors.Is(err, replay.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sample replay: %w", err)
	}

	rewards := make([]float64, len(batch))
	observations := make([][]float64, len(batch))
	for i, t := range batch {
		rewards[i] = t.Reward
		observations[i] = t.Observation
	}
	l.meanReward = stat.Mean(rewards, weights)

	values, err := WhiteningEncoder(l.prefix, observations)
	if err != nil {
		return false, err
	}
	version, err := l.publisher.Publish(ctx, values)
	if err != nil {
		return false, fmt.Errorf("publish variables: %w", err)
	}
	l.version = version
	l.steps++

	l.logger.Debug().
		Int("step", l.steps).
		Int64("version", version).
		Float64("mean_reward", l.meanReward).
		Msg("Learner step")
	return true, nil
}

// Steps is the number of completed learner steps.
func (l *Learner) Steps() int { return l.steps }

// MeanReward is the importance-weighted mean reward of the last batch.
func (l *Learner) MeanReward() float64 { return l.meanReward }

// WhiteningEncoder returns diagonal linear encoder parameters mapping each
// dimension of observations to zero mean and unit variance.
func WhiteningEncoder(prefix string, observations [][]float64) (map[string][]float64, error) {
	if len(observations) == 0 || len(observations[0]) == 0 {
		return nil, fmt.Errorf("no observations to fit")
	}
	dim := len(observations[0])
	w := make([]float64, dim*dim)
	b := make([]float64, dim)
	col := make([]float64, len(observations))
	for j := 0; j < dim; j++ {
		for i, obs := range observations {
			if len(obs) != dim {
				return nil, fmt.Errorf("observation %d has %d dimensions, want %d", i, len(obs), dim)
			}
			col[i] = obs[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		scale := 1 / math.Sqrt(variance+preprocess.DefaultEpsilon)
		w[j*dim+j] = scale
		b[j] = -mean * scale
	}
	weightsName, biasName := preprocess.LinearEncoderNames(prefix)
	return map[string][]float64{weightsName: w, biasName: b}, nil
}
