// Risk worker entry point: hosts the risk core, which prices, stops,
// sizes and validates trade intents before they reach the execution
// core.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/bus"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/marketstore"
	"github.com/ajitpratap0/tradewind/internal/risk"
)

const workerType = "risk"

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	agentsPath := flag.String("agents", "configs/agents.yaml", "Path to declarative worker defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.Logging)

	defs, err := config.LoadAgentDefinitions(*agentsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load worker definitions")
	}
	def := defs[workerType]
	if !def.IsEnabled() {
		log.Info().Msg("Risk worker disabled by configuration")
		return
	}
	name := def.Name
	if name == "" {
		name = "risk-worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bus.Connect(bus.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
		ClientName: name,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer b.Close()

	// One pool serves both the pipeline store and the time-series reads.
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	store := db.NewWithPool(pool)
	market := marketstore.NewStoreWithPool(pool)

	cache := marketstore.NewPriceCache(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), time.Duration(cfg.Redis.TTL)*time.Second)
	if err := cache.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("Price cache unreachable, pricing falls back to the time-series store")
	}
	defer cache.Close()

	gateway, err := exchange.NewGateway(cfg.Trading.Exchange, cfg.Exchanges)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build exchange gateway")
	}
	defer gateway.Close()

	rc := cfg.Agents.Risk
	base := agents.New(agents.Config{
		Name:         name,
		Type:         workerType,
		StepInterval: def.Interval(30 * time.Second),
		MetricsPort:  rc.MetricsPort,
	}, b, store, config.NewAgentLogger(name, workerType))

	svc := risk.NewService(base, rc, market, cache, gateway)

	if err := svc.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize risk worker")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("Risk worker stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Risk worker stopped")
}
