package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/varsync"
)

var serveParamsCmd = &cobra.Command{
	Use:   "serve-params",
	Short: "Serve encoder variables over gRPC and HTTP",
	Long: `Serve-params hosts a variable source that remote actors fetch encoder
parameters from. Variables are published with PUT /api/v1/variables. With
--redis-addr the snapshot is kept in Redis so several servers share it.`,
	RunE: runServeParams,
}

func runServeParams(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		source    varsync.Source
		publisher varsync.Publisher
	)
	if cfg.RedisAddr != "" {
		redisSource, err := varsync.DialRedisSource(ctx, cfg.RedisAddr, varsync.DefaultRedisPrefix)
		if err != nil {
			return err
		}
		defer redisSource.Close()
		source, publisher = redisSource, redisSource
	} else {
		memory := varsync.NewMemorySource()
		source, publisher = memory, memory
	}
	if cfg.GRPCAddr == "" && cfg.HTTPAddr == "" {
		return fmt.Errorf("grpc_addr or http_addr is required")
	}

	srv, err := startServers(cfg, source, publisher, metrics.NewCollector(logger), nil, logger)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		return nil
	case err := <-srv.Err():
		return err
	}
}
