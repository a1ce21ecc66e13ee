package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/otreward/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "otactor",
	Short: "Optimal transport reward relabelling actor",
	Long: `otactor runs actors whose environment rewards are replaced by an
imitation reward: each finished episode is aligned to the closest
demonstration with entropic optimal transport and the per-step transport
cost is squashed into a reward before the episode reaches replay.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.AddCommand(runCmd, relabelCmd, serveParamsCmd)

	for _, cmd := range []*cobra.Command{runCmd, relabelCmd, serveParamsCmd} {
		config.BindFlags(cmd.Flags(), config.Default())
	}
}

// loadConfig resolves the configuration for cmd and builds its logger.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(viper.New(), cmd.Flags(), configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("actor_id", cfg.ActorID).
		Str("env_id", cfg.EnvID).
		Logger()
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
