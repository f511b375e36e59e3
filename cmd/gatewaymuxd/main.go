// Command gatewaymuxd runs the gateway multiplexer: one upstream shard
// session per configured shard, fanned out to any number of local
// clients over a wire-compatible WebSocket protocol.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/gatewaymux/internal/config"
	"github.com/adred-codev/gatewaymux/internal/gatewaystate"
	"github.com/adred-codev/gatewaymux/internal/logging"
	"github.com/adred-codev/gatewaymux/internal/metrics"
	"github.com/adred-codev/gatewaymux/internal/monitoring"
	"github.com/adred-codev/gatewaymux/internal/ratelimit"
	"github.com/adred-codev/gatewaymux/internal/transport"
	"github.com/adred-codev/gatewaymux/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg)
	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Int("shard_start", cfg.ShardStart).
		Int("shard_end", cfg.ShardEnd).
		Msg("starting gatewaymuxd")

	reg := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var driver upstream.Driver
	if cfg.NatsURL != "" {
		natsDriver, err := upstream.NewNatsDriver(cfg.NatsURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect upstream driver")
		}
		defer natsDriver.Close()
		driver = natsDriver
	} else {
		logger.Fatal().Msg("GATEWAYMUX_NATS_URL is required: no upstream driver configured")
	}

	shards := make(map[int]*gatewaystate.ShardState, cfg.ShardEnd-cfg.ShardStart)
	for id := cfg.ShardStart; id < cfg.ShardEnd; id++ {
		shard := gatewaystate.NewShardState(id, cfg.Backpressure, driver)
		shards[id] = shard

		ingest := gatewaystate.NewEventIngest(shard, driver, reg, logger)
		go ingest.Run(ctx)
	}

	sampler := monitoring.NewSystemSampler(cfg.MetricsInterval, reg, logger)
	go sampler.Run(ctx)

	burst := ratelimit.NewGuildBurstLimiter(cfg.GuildBurstRate, cfg.GuildBurstBurst)

	server := transport.NewServer(cfg, shards, reg, burst, logger)
	if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("http server exited unexpectedly")
	}

	logger.Info().Msg("gatewaymuxd shutting down")
}
