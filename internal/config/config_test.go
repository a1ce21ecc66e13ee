package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10.0, cfg.RewardScale)
	assert.Equal(t, "linear", cfg.Squashing)
	assert.Equal(t, 1, cfg.PreprocessorUpdatePeriod)
	assert.False(t, cfg.PartialUpdate)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"episode length":  func(c *Config) { c.EpisodeLength = 0 },
		"reward scale":    func(c *Config) { c.RewardScale = 0 },
		"squashing":       func(c *Config) { c.Squashing = "tanh" },
		"preprocessor":    func(c *Config) { c.Preprocessor = "pca" },
		"update period":   func(c *Config) { c.PreprocessorUpdatePeriod = 0 },
		"encoder source":  func(c *Config) { c.Preprocessor = "encoder"; c.ParamSource = "" },
		"sync retries":    func(c *Config) { c.SyncRetries = -1 },
		"sinkhorn":        func(c *Config) { c.SinkhornEpsilon = 0 },
		"demonstrations":  func(c *Config) { c.DemoPath = ""; c.DemoEpisodes = 0 },
		"batch size":      func(c *Config) { c.BatchSize = 0 },
		"env id":          func(c *Config) { c.EnvID = "" },
		"episode timeout": func(c *Config) { c.EpisodeTimeout = 0 },
		"nats subject":    func(c *Config) { c.NATSURL = "nats://localhost:4222"; c.NATSSubject = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otactor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("episode_length: 20\nreward_scale: 3\nsync_backoff: 1s\n"), 0o644))

	t.Setenv("OTACTOR_REWARD_SCALE", "4.5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags, Default())
	require.NoError(t, flags.Parse([]string{"--squashing=exponential", "--partial-update"}))

	cfg, err := Load(viper.New(), flags, path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.EpisodeLength)
	assert.Equal(t, 4.5, cfg.RewardScale)
	assert.Equal(t, time.Second, cfg.SyncBackoff)
	assert.Equal(t, "exponential", cfg.Squashing)
	assert.True(t, cfg.PartialUpdate)
	assert.Equal(t, "policy", cfg.ParamName)
}

func TestLoad_Invalid(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags, Default())
	require.NoError(t, flags.Parse([]string{"--episode-length=0"}))

	_, err := Load(viper.New(), flags, "")
	assert.Error(t, err)

	_, err = Load(viper.New(), flags, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
