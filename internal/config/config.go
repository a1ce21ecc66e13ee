package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variable overrides, e.g.
// OTACTOR_EPISODE_LENGTH.
const EnvPrefix = "OTACTOR"

// Config holds all relabelling actor configuration
type Config struct {
	// Actor settings
	ActorID string `mapstructure:"actor_id"`
	EnvID   string `mapstructure:"env_id"`

	// Episode management
	EpisodeLength  int           `mapstructure:"episode_length"`
	MaxEpisodes    int           `mapstructure:"max_episodes"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout"`

	// Reward relabelling
	RewardScale  float64 `mapstructure:"reward_scale"`
	Squashing    string  `mapstructure:"squashing"`
	SquashOffset float64 `mapstructure:"squash_offset"`

	// Preprocessing
	Preprocessor             string `mapstructure:"preprocessor"`
	PartialUpdate            bool   `mapstructure:"partial_update"`
	PreprocessorUpdatePeriod int    `mapstructure:"preprocessor_update_period"`

	// Parameter sync
	ParamSource string        `mapstructure:"param_source"`
	ParamName   string        `mapstructure:"param_name"`
	SyncRetries int           `mapstructure:"sync_retries"`
	SyncBackoff time.Duration `mapstructure:"sync_backoff"`

	// Sinkhorn solver
	SinkhornEpsilon    float64 `mapstructure:"sinkhorn_epsilon"`
	SinkhornIterations int     `mapstructure:"sinkhorn_iterations"`
	SinkhornTolerance  float64 `mapstructure:"sinkhorn_tolerance"`

	// Demonstrations
	DemoPath     string `mapstructure:"demo_path"`
	DemoEpisodes int    `mapstructure:"demo_episodes"`

	// Replay settings
	ReplayMaxSize uint64 `mapstructure:"replay_max_size"`
	BatchSize     int    `mapstructure:"batch_size"`

	// Services
	GRPCAddr  string `mapstructure:"grpc_addr"`
	HTTPAddr  string `mapstructure:"http_addr"`
	RedisAddr string `mapstructure:"redis_addr"`

	// Events
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		ActorID:                  "actor-1",
		EnvID:                    "pointmass",
		EpisodeLength:            50,
		MaxEpisodes:              -1, // unlimited
		EpisodeTimeout:           30 * time.Second,
		RewardScale:              10,
		Squashing:                "linear",
		SquashOffset:             0,
		Preprocessor:             "meanstd",
		PartialUpdate:            false,
		PreprocessorUpdatePeriod: 1,
		ParamSource:              "memory",
		ParamName:                "policy",
		SyncRetries:              3,
		SyncBackoff:              200 * time.Millisecond,
		SinkhornEpsilon:          1e-3,
		SinkhornIterations:       2000,
		SinkhornTolerance:        1e-4,
		DemoEpisodes:             4,
		ReplayMaxSize:            100000,
		BatchSize:                64,
		GRPCAddr:                 ":50052",
		HTTPAddr:                 ":8081",
		NATSSubject:              "otreward",
		LogLevel:                 "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.EnvID == "" {
		return fmt.Errorf("env_id is required")
	}
	if c.EpisodeLength <= 0 {
		return fmt.Errorf("episode_length must be positive")
	}
	if c.EpisodeTimeout <= 0 {
		return fmt.Errorf("episode_timeout must be positive")
	}
	if c.RewardScale <= 0 {
		return fmt.Errorf("reward_scale must be positive")
	}
	switch c.Squashing {
	case "linear", "exponential":
	default:
		return fmt.Errorf("squashing must be linear or exponential, got %q", c.Squashing)
	}
	if c.Squashing == "exponential" && c.SquashOffset < 0 {
		return fmt.Errorf("squash_offset is the exponential scale and must not be negative")
	}
	switch c.Preprocessor {
	case "meanstd", "encoder":
	default:
		return fmt.Errorf("preprocessor must be meanstd or encoder, got %q", c.Preprocessor)
	}
	if c.PreprocessorUpdatePeriod <= 0 {
		return fmt.Errorf("preprocessor_update_period must be positive")
	}
	if c.Preprocessor == "encoder" && c.ParamSource == "" {
		return fmt.Errorf("param_source is required for the encoder preprocessor")
	}
	if c.ParamName == "" {
		return fmt.Errorf("param_name is required")
	}
	if c.SyncRetries < 0 {
		return fmt.Errorf("sync_retries must not be negative")
	}
	if c.SinkhornEpsilon <= 0 || c.SinkhornTolerance <= 0 || c.SinkhornIterations <= 0 {
		return fmt.Errorf("sinkhorn settings must be positive")
	}
	if c.DemoPath == "" && c.DemoEpisodes <= 0 {
		return fmt.Errorf("demo_path or a positive demo_episodes is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject is required when nats_url is set")
	}
	return nil
}

// BindFlags registers a flag per config key on flags, defaulting to cfg.
// Flag names use dashes in place of underscores.
func BindFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.String("actor-id", cfg.ActorID, "Unique actor identifier")
	flags.String("env-id", cfg.EnvID, "Environment ID to run")

	flags.Int("episode-length", cfg.EpisodeLength, "Fixed episode length")
	flags.Int("max-episodes", cfg.MaxEpisodes, "Maximum episodes to run (-1 for unlimited)")
	flags.Duration("episode-timeout", cfg.EpisodeTimeout, "Timeout per episode")

	flags.Float64("reward-scale", cfg.RewardScale, "Reward scale alpha")
	flags.String("squashing", cfg.Squashing, "Squashing function (linear, exponential)")
	flags.Float64("squash-offset", cfg.SquashOffset, "Linear offset or exponential scale")

	flags.String("preprocessor", cfg.Preprocessor, "Preprocessor (meanstd, encoder)")
	flags.Bool("partial-update", cfg.PartialUpdate, "Keep updating mean/std statistics from agent episodes")
	flags.Int("preprocessor-update-period", cfg.PreprocessorUpdatePeriod, "Episodes between preprocessor updates")

	flags.String("param-source", cfg.ParamSource, "Variable source (memory, grpc://, http://, redis://)")
	flags.String("param-name", cfg.ParamName, "Encoder variable prefix")
	flags.Int("sync-retries", cfg.SyncRetries, "Retries per variable fetch")
	flags.Duration("sync-backoff", cfg.SyncBackoff, "Base backoff between fetch retries")

	flags.Float64("sinkhorn-epsilon", cfg.SinkhornEpsilon, "Final entropic regularisation relative to mean cost")
	flags.Int("sinkhorn-iterations", cfg.SinkhornIterations, "Sinkhorn iteration cap")
	flags.Float64("sinkhorn-tolerance", cfg.SinkhornTolerance, "Sinkhorn relative row-marginal tolerance")

	flags.String("demo-path", cfg.DemoPath, "JSON demonstration file")
	flags.Int("demo-episodes", cfg.DemoEpisodes, "Scripted demonstrations to generate when no file is given")

	flags.Uint64("replay-max-size", cfg.ReplayMaxSize, "Maximum transitions kept in replay")
	flags.Int("batch-size", cfg.BatchSize, "Replay write and sample batch size")

	flags.String("grpc-addr", cfg.GRPCAddr, "gRPC variable service address")
	flags.String("http-addr", cfg.HTTPAddr, "HTTP server address")
	flags.String("redis-addr", cfg.RedisAddr, "Redis address for publishing variables")

	flags.String("nats-url", cfg.NATSURL, "NATS server for relabelling events (disabled when empty)")
	flags.String("nats-subject", cfg.NATSSubject, "NATS subject prefix")

	flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// Load resolves the configuration from flags, OTACTOR_* environment
// variables and an optional config file, in decreasing precedence.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (*Config, error) {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
