package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cartridge/otreward/internal/config"
	"github.com/cartridge/otreward/internal/dataset"
	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/report"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

var relabelIn, relabelOut, relabelPlot string

var relabelCmd = &cobra.Command{
	Use:   "relabel",
	Short: "Relabel the rewards of an episode file offline",
	Long: `Relabel reads episodes from --in, replaces every reward with the
optimal transport reward against the demonstrations and writes the result
to --out. Episodes whose length differs from episode_length are dropped.`,
	RunE: runRelabel,
}

func init() {
	relabelCmd.Flags().StringVar(&relabelIn, "in", "", "Episode file to relabel")
	relabelCmd.Flags().StringVar(&relabelOut, "out", "", "Output episode file")
	relabelCmd.Flags().StringVar(&relabelPlot, "plot", "", "Optional image comparing environment and relabelled rewards")
}

func runRelabel(cmd *cobra.Command, _ []string) error {
	if relabelIn == "" || relabelOut == "" {
		return fmt.Errorf("--in and --out are required")
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := dataset.Load(relabelIn)
	if err != nil {
		return err
	}

	source, publisher, closer, err := openSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open variable source: %w", err)
	}
	defer closer.Close()

	collector := metrics.NewCollector(logger)
	out, original, err := relabelFile(ctx, cfg, in, source, publisher, collector, logger)
	if err != nil {
		return err
	}
	if err := dataset.Save(relabelOut, out); err != nil {
		return err
	}

	if relabelPlot != "" {
		err := report.SaveRewards(relabelPlot, "Relabelled rewards",
			report.Series{Name: "environment", Episodes: original},
			report.Series{Name: "optimal transport", Episodes: out.Episodes},
		)
		if err != nil {
			return err
		}
	}

	stats := collector.Stats()
	logger.Info().
		Str("out", relabelOut).
		Int64("relabeled", stats.EpisodesRelabeled).
		Int64("discarded", stats.EpisodesDiscarded).
		Msg("Relabelling complete")
	return nil
}

// relabelFile relabels every episode of in that has the configured length
// and returns the relabelled file along with the kept input episodes.
// Writable sources are seeded with encoder variables first so the
// rewarder does not wait on a learner that never runs offline.
func relabelFile(ctx context.Context, cfg *config.Config, in *dataset.File, source varsync.Source, publisher varsync.Publisher, collector *metrics.Collector, logger zerolog.Logger) (*dataset.File, []types.Episode, error) {
	demos, err := demonstrations(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Preprocessor == "encoder" && publisher != nil {
		version, err := seedEncoder(ctx, publisher, demos, cfg.ParamName)
		if err != nil {
			return nil, nil, fmt.Errorf("seed encoder variables: %w", err)
		}
		logger.Info().Int64("version", version).Msg("Published initial encoder variables")
	}
	b, err := newBuilder(cfg, demos, collector, logger)
	if err != nil {
		return nil, nil, err
	}
	r, err := b.MakeRewarder(ctx, types.EnvironmentSpec{Observations: in.Spec}, source)
	if err != nil {
		return nil, nil, fmt.Errorf("build rewarder: %w", err)
	}

	out := &dataset.File{EnvID: in.EnvID, Spec: in.Spec}
	var original []types.Episode
	for i, episode := range in.Episodes {
		if len(episode) != cfg.EpisodeLength {
			collector.EpisodeDiscarded(len(episode), "length")
			logger.Warn().Int("episode", i).Int("steps", len(episode)).Msg("Skipping episode of wrong length")
			continue
		}
		relabeled, err := r.Relabel(ctx, episode)
		if err != nil {
			return nil, nil, fmt.Errorf("relabel episode %d: %w", i, err)
		}
		original = append(original, episode)
		out.Episodes = append(out.Episodes, relabeled)
	}
	return out, original, nil
}
