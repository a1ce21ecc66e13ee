package builder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/adder"
	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/demo"
	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/ot"
	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/rewarder"
	"github.com/cartridge/otreward/internal/squash"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

// DefaultRewardScale is the squashing alpha used when none is configured.
const DefaultRewardScale = 10.0

// Options configures the optimal transport builder.
type Options struct {
	Demonstrations demo.Factory
	EpisodeLength  int

	// Encoder selects the learned-encoder preprocessor. When nil observations
	// are normalised with demonstration mean and standard deviation.
	Encoder       preprocess.EncoderFn
	EncoderPrefix string

	RewardScale float64
	Squashing   string

	// SquashParam is the linear offset or the exponential scale, which
	// defaults to 1.
	SquashParam  float64
	UpdatePeriod int

	// PartialUpdate keeps folding agent episodes into the mean/std
	// statistics instead of freezing them on the demonstrations.
	PartialUpdate bool

	Solver  ot.Options
	Sync    varsync.ClientOptions
	Metrics *metrics.Collector
}

// OptimalTransport wraps an AgentBuilder and relabels rewards in every
// actor that is given an adder.
type OptimalTransport struct {
	agent  AgentBuilder
	opts   Options
	logger zerolog.Logger
}

// NewOptimalTransport creates the builder, filling unset options with
// defaults.
func NewOptimalTransport(agentBuilder AgentBuilder, opts Options, logger zerolog.Logger) (*OptimalTransport, error) {
	if agentBuilder == nil {
		return nil, fmt.Errorf("agent builder is required")
	}
	if opts.Demonstrations == nil {
		return nil, fmt.Errorf("demonstration factory is required")
	}
	if opts.EpisodeLength <= 0 {
		return nil, fmt.Errorf("episode length must be positive, got %d", opts.EpisodeLength)
	}
	if opts.RewardScale == 0 {
		opts.RewardScale = DefaultRewardScale
	}
	if opts.Squashing == "" {
		opts.Squashing = "linear"
	}
	if opts.Squashing == "exponential" && opts.SquashParam == 0 {
		opts.SquashParam = 1
	}
	if opts.UpdatePeriod == 0 {
		opts.UpdatePeriod = 1
	}
	if opts.EncoderPrefix == "" {
		opts.EncoderPrefix = "policy"
	}
	if opts.Solver.Cost == nil {
		opts.Solver = ot.DefaultOptions()
	}
	opts.Sync = syncDefaults(opts.Sync)
	if _, err := squash.New(opts.Squashing, opts.RewardScale, opts.SquashParam); err != nil {
		return nil, err
	}
	return &OptimalTransport{agent: agentBuilder, opts: opts, logger: logger}, nil
}

// MakeReplay delegates to the wrapped builder.
func (b *OptimalTransport) MakeReplay(spec types.EnvironmentSpec) (replay.Backend, error) {
	return b.agent.MakeReplay(spec)
}

// MakeAdder delegates to the wrapped builder.
func (b *OptimalTransport) MakeAdder(backend replay.Backend, spec types.EnvironmentSpec) (adder.Adder, error) {
	return b.agent.MakeAdder(backend, spec)
}

// MakeLearner delegates to the wrapped builder.
func (b *OptimalTransport) MakeLearner(backend replay.Backend, publisher varsync.Publisher) (*agent.Learner, error) {
	return b.agent.MakeLearner(backend, publisher)
}

// MakeActor wraps a in an optimal transport adder before delegating. It
// blocks until encoder variables are available when an encoder is
// configured.
func (b *OptimalTransport) MakeActor(ctx context.Context, spec types.EnvironmentSpec, source varsync.Source, a adder.Adder) (*agent.Actor, error) {
	if source == nil {
		return nil, fmt.Errorf("variable source is required")
	}
	if a != nil {
		r, err := b.MakeRewarder(ctx, spec, source)
		if err != nil {
			return nil, err
		}
		wrapped, err := adder.NewOptimalTransport(a, r, b.opts.EpisodeLength, b.logger)
		if err != nil {
			return nil, err
		}
		a = wrapped.WithMetrics(b.opts.Metrics)
	}
	return b.agent.MakeActor(ctx, spec, source, a)
}

// MakeRewarder builds the preprocessor, demonstration store and rewarder.
// source is only used by the encoder preprocessor.
func (b *OptimalTransport) MakeRewarder(ctx context.Context, spec types.EnvironmentSpec, source varsync.Source) (*rewarder.Rewarder, error) {
	var (
		pre    preprocess.Preprocessor
		syncer rewarder.Syncer
	)
	if b.opts.Encoder != nil {
		if source == nil {
			return nil, fmt.Errorf("variable source is required for the encoder preprocessor")
		}
		// The bias is optional, so the client pulls every published
		// variable and only the weights are checked here.
		syncOpts := b.opts.Sync
		syncOpts.Names = nil
		syncOpts.UpdatePeriod = b.opts.UpdatePeriod
		weights, _ := preprocess.LinearEncoderNames(b.opts.EncoderPrefix)
		client, err := varsync.NewClient(source, syncOpts, b.logger)
		if err != nil {
			return nil, err
		}
		client.WithMetrics(b.opts.Metrics)
		b.logger.Info().Str("weights", weights).Msg("Waiting for encoder variables")
		if err := client.UpdateAndWait(ctx); err != nil {
			return nil, fmt.Errorf("initial variable sync: %w", err)
		}
		if params, err := client.Params(); err != nil {
			return nil, err
		} else if _, ok := params.Get(weights); !ok {
			return nil, fmt.Errorf("%w: missing %s", preprocess.ErrBadParams, weights)
		}
		enc, err := preprocess.NewEncoder(spec.Observations, b.opts.Encoder, client)
		if err != nil {
			return nil, err
		}
		pre, syncer = enc, client
	} else {
		m, err := preprocess.NewMeanStd(spec.Observations, b.opts.PartialUpdate)
		if err != nil {
			return nil, err
		}
		pre = m
	}

	store, err := demo.NewStore(b.opts.Demonstrations, pre)
	if err != nil {
		return nil, err
	}
	engine, err := ot.NewEngine(b.opts.Solver)
	if err != nil {
		return nil, err
	}
	squasher, err := squash.New(b.opts.Squashing, b.opts.RewardScale, b.opts.SquashParam)
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Int("demonstrations", store.Len()).
		Int("episode_length", b.opts.EpisodeLength).
		Str("squashing", b.opts.Squashing).
		Float64("reward_scale", b.opts.RewardScale).
		Bool("encoder", b.opts.Encoder != nil).
		Msg("Optimal transport rewarder ready")

	return rewarder.New(store, pre, engine, squasher, rewarder.Options{
		EpisodeLength: b.opts.EpisodeLength,
		UpdatePeriod:  b.opts.UpdatePeriod,
		Syncer:        syncer,
		Metrics:       b.opts.Metrics,
	}, b.logger)
}

// syncDefaults fills the zero fields of opts from the default client
// options. A zero Retries is kept since it is a valid setting.
func syncDefaults(opts varsync.ClientOptions) varsync.ClientOptions {
	defaults := varsync.DefaultClientOptions()
	if opts.UpdatePeriod == 0 {
		opts.UpdatePeriod = defaults.UpdatePeriod
	}
	if opts.Backoff == 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.WaitInterval == 0 {
		opts.WaitInterval = defaults.WaitInterval
	}
	return opts
}
