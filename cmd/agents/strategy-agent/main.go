// Strategy worker entry point: hosts the signal fusion core, turning
// buffered analysis signals into trade intents for the risk core.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/bus"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/fusion"
)

const workerType = "strategy"

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
		log.Info().Msg("Strategy worker disabled by configuration")
		return
	}
	name := def.Name
	if name == "" {
		name = "strategy-worker"
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

	store, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	sc := cfg.Agents.Strategy
	base := agents.New(agents.Config{
		Name:         name,
		Type:         workerType,
		StepInterval: def.Interval(time.Duration(sc.DecisionIntervalSeconds) * time.Second),
		MetricsPort:  sc.MetricsPort,
	}, b, store, config.NewAgentLogger(name, workerType))

	fc := fusion.DefaultConfig()
	if sc.FusionStrategy != "" {
		fc.Policy = sc.FusionStrategy
	}
	if sc.MinSignals > 0 {
		fc.MinSignals = sc.MinSignals
	}
	if sc.SignalTimeoutSeconds > 0 {
		fc.SignalTimeout = time.Duration(sc.SignalTimeoutSeconds) * time.Second
	}
	if sc.MinConfidence > 0 {
		fc.MinConfidence = sc.MinConfidence
	}

	svc, err := fusion.NewService(base, fc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build strategy worker")
	}

	if err := svc.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize strategy worker")
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
			log.Error().Err(err).Msg("Strategy worker stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Strategy worker stopped")
}
