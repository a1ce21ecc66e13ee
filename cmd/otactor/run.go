package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cartridge/otreward/internal/actor"
	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/events"
	"github.com/cartridge/otreward/internal/metrics"
)

const learnerInterval = 250 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an actor with optimal transport rewards",
	Long: `Run collects episodes from the environment, relabels each finished
episode against the demonstrations and writes it to replay. A learner
loop publishes encoder variables to the configured variable source when
the source accepts writes.`,
	RunE: runActor,
}

func runActor(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("episode_length", cfg.EpisodeLength).
		Str("preprocessor", cfg.Preprocessor).
		Str("param_source", cfg.ParamSource).
		Msg("Starting relabelling actor")

	source, publisher, closer, err := openSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open variable source: %w", err)
	}
	defer closer.Close()

	demos, err := demonstrations(cfg)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(logger)
	if cfg.NATSURL != "" {
		eventPublisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer eventPublisher.Close()
		collector.WithEvents(cfg.ActorID, eventPublisher)
		logger.Info().Str("subject", cfg.NATSSubject).Msg("Publishing relabelling events")
	}
	b, err := newBuilder(cfg, demos, collector, logger)
	if err != nil {
		return err
	}

	if cfg.Preprocessor == "encoder" && publisher != nil {
		version, err := seedEncoder(ctx, publisher, demos, cfg.ParamName)
		if err != nil {
			return fmt.Errorf("seed encoder variables: %w", err)
		}
		logger.Info().Int64("version", version).Msg("Published initial encoder variables")
	}

	environment, err := newEnvironment(cfg, uint64(time.Now().UnixNano()))
	if err != nil {
		return err
	}
	spec := environment.Spec()

	backend, err := b.MakeReplay(spec)
	if err != nil {
		return err
	}
	defer backend.Close()
	a, err := b.MakeAdder(backend, spec)
	if err != nil {
		return err
	}
	act, err := b.MakeActor(ctx, spec, source, a)
	if err != nil {
		return fmt.Errorf("build actor: %w", err)
	}

	learnerDone := make(chan struct{})
	if publisher != nil {
		learner, err := b.MakeLearner(backend, publisher)
		if err != nil {
			return err
		}
		learnerCtx, cancelLearner := context.WithCancel(ctx)
		defer func() {
			cancelLearner()
			<-learnerDone
		}()
		go func() {
			defer close(learnerDone)
			runLearner(learnerCtx, learner, logger)
		}()
	} else {
		close(learnerDone)
		logger.Info().Msg("Variable source is read-only, learner disabled")
	}

	srv, err := startServers(cfg, source, publisher, collector, backend, logger)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	loop, err := actor.New(actor.Config{
		ActorID:        cfg.ActorID,
		MaxEpisodes:    cfg.MaxEpisodes,
		EpisodeTimeout: cfg.EpisodeTimeout,
	}, environment, act, logger)
	if err != nil {
		return err
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	select {
	case err = <-loopErr:
	case err = <-srv.Err():
		stop()
		<-loopErr
	}

	stats := collector.Stats()
	logger.Info().
		Int("episodes", loop.Episodes()).
		Int("failures", loop.Failures()).
		Int64("relabeled", stats.EpisodesRelabeled).
		Int64("discarded", stats.EpisodesDiscarded).
		Msg("Actor stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runLearner(ctx context.Context, learner *agent.Learner, logger zerolog.Logger) {
	ticker := time.NewTicker(learnerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := learner.Step(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Learner step failed")
			}
		}
	}
}
