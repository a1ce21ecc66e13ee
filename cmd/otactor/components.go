package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/cartridge/otreward/internal/agent"
	"github.com/cartridge/otreward/internal/builder"
	"github.com/cartridge/otreward/internal/config"
	"github.com/cartridge/otreward/internal/dataset"
	"github.com/cartridge/otreward/internal/demo"
	"github.com/cartridge/otreward/internal/env"
	httpapi "github.com/cartridge/otreward/internal/http"
	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/ot"
	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

const (
	expertNoise     = 0.05
	demoSeed        = 7
	shutdownTimeout = 30 * time.Second
)

var pointMassGoal = []float64{3, 3}

func newEnvironment(cfg *config.Config, seed uint64) (*env.PointMass, error) {
	if cfg.EnvID != "pointmass" {
		return nil, fmt.Errorf("unsupported environment %q", cfg.EnvID)
	}
	return env.NewPointMass(cfg.EpisodeLength, pointMassGoal, seed)
}

// demonstrations reads cfg.DemoPath when set and otherwise rolls out the
// scripted expert. The episodes are materialised once so the encoder seed
// and every demonstration store see the same rollouts.
func demonstrations(cfg *config.Config) ([]types.Episode, error) {
	var factory demo.Factory
	if cfg.DemoPath != "" {
		factory = dataset.Factory(cfg.DemoPath)
	} else {
		demoEnv, err := newEnvironment(cfg, demoSeed)
		if err != nil {
			return nil, err
		}
		factory = env.Demonstrations(demoEnv, env.NewExpert(demoEnv, expertNoise, demoSeed+1), cfg.DemoEpisodes)
	}
	episodes, err := factory()
	if err != nil {
		return nil, fmt.Errorf("load demonstrations: %w", err)
	}
	return episodes, nil
}

// openSource opens the configured variable source. publisher is nil when
// the source is read-only.
func openSource(ctx context.Context, cfg *config.Config) (varsync.Source, varsync.Publisher, io.Closer, error) {
	source, closer, err := varsync.Open(ctx, cfg.ParamSource)
	if err != nil {
		return nil, nil, nil, err
	}
	publisher, _ := source.(varsync.Publisher)
	return source, publisher, closer, nil
}

func newBuilder(cfg *config.Config, demos []types.Episode, collector *metrics.Collector, logger zerolog.Logger) (*builder.OptimalTransport, error) {
	solver := ot.DefaultOptions()
	solver.RelativeEpsilon = cfg.SinkhornEpsilon
	solver.MaxIterations = cfg.SinkhornIterations
	solver.Tolerance = cfg.SinkhornTolerance

	sync := varsync.DefaultClientOptions()
	sync.Retries = cfg.SyncRetries
	sync.Backoff = cfg.SyncBackoff

	opts := builder.Options{
		Demonstrations: func() ([]types.Episode, error) { return demos, nil },
		EpisodeLength:  cfg.EpisodeLength,
		EncoderPrefix:  cfg.ParamName,
		RewardScale:    cfg.RewardScale,
		Squashing:      cfg.Squashing,
		SquashParam:    cfg.SquashOffset,
		UpdatePeriod:   cfg.PreprocessorUpdatePeriod,
		PartialUpdate:  cfg.PartialUpdate,
		Solver:         solver,
		Sync:           sync,
		Metrics:        collector,
	}
	if cfg.Preprocessor == "encoder" {
		opts.Encoder = preprocess.LinearEncoder(cfg.ParamName)
	}

	direct := &builder.Direct{
		EnvID:          cfg.EnvID,
		ReplayMaxSize:  cfg.ReplayMaxSize,
		BatchSize:      cfg.BatchSize,
		VariablePrefix: cfg.ParamName,
		Seed:           uint64(time.Now().UnixNano()),
		Logger:         logger,
	}
	return builder.NewOptimalTransport(direct, opts, logger)
}

// seedEncoder publishes whitening parameters fitted on the demonstrations
// so encoder actors can start before the learner has published.
func seedEncoder(ctx context.Context, publisher varsync.Publisher, demos []types.Episode, prefix string) (int64, error) {
	var observations [][]float64
	for _, episode := range demos {
		observations = append(observations, episode.Observations()...)
	}
	values, err := agent.WhiteningEncoder(prefix, observations)
	if err != nil {
		return 0, err
	}
	return publisher.Publish(ctx, values)
}

// servers runs the optional gRPC variable service and HTTP API.
type servers struct {
	grpc   *grpc.Server
	http   *http.Server
	logger zerolog.Logger
	errs   chan error
}

func startServers(cfg *config.Config, source varsync.Source, publisher varsync.Publisher, collector *metrics.Collector, backend replay.Backend, logger zerolog.Logger) (*servers, error) {
	s := &servers{logger: logger, errs: make(chan error, 2)}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		s.grpc = grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
		varsync.NewVariableService(source).Register(s.grpc)
		reflection.Register(s.grpc)
		go func() {
			logger.Info().Str("addr", lis.Addr().String()).Msg("Variable service listening")
			if err := s.grpc.Serve(lis); err != nil {
				s.errs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		h := httpapi.NewServer(source, publisher, logger).WithStats(collector, backend)
		s.http = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.errs <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	return s, nil
}

// Err reports the first server failure.
func (s *servers) Err() <-chan error { return s.errs }

func (s *servers) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}
	if s.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-ctx.Done():
			s.logger.Warn().Msg("Shutdown timeout exceeded, forcing gRPC stop")
			s.grpc.Stop()
		case <-stopped:
		}
	}
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Dur("duration", time.Since(start)).Msg("gRPC request")
		return resp, err
	}
}
