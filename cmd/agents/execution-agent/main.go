// Execution worker entry point: hosts the execution core, which places
// risk-approved orders on the venue and tracks fills and positions.
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
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/execution"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const workerType = "execution"

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
		log.Info().Msg("Execution worker disabled by configuration")
		return
	}
	name := def.Name
	if name == "" {
		name = "execution-worker"
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

	ec := cfg.Agents.Execution
	exchanges := cfg.Exchanges
	if ec.Testnet {
		// The worker-level flag forces testnet routing for its venue.
		venue := exchanges[ec.ExchangeID]
		venue.Testnet = true
		exchanges[ec.ExchangeID] = venue
	}
	gateway, err := exchange.NewGateway(ec.ExchangeID, exchanges)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build exchange gateway")
	}
	defer gateway.Close()

	base := agents.New(agents.Config{
		Name:         name,
		Type:         workerType,
		StepInterval: def.Interval(time.Duration(ec.MonitoringIntervalSeconds) * time.Second),
		MetricsPort:  ec.MetricsPort,
	}, b, store, config.NewAgentLogger(name, workerType))

	svc := execution.NewService(base, ec, gateway)

	if err := svc.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize execution worker")
	}

	// The in-process paper venue has no market feed of its own; mirror
	// collector ticks into it so orders fill and stops trigger on real
	// prices.
	if paper, ok := gateway.(*exchange.PaperGateway); ok {
		if err := base.Subscribe(protocol.TopicTicksRaw, feedPaperVenue(paper)); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to market ticks")
		}
		log.Info().Msg("Paper venue price feed wired to market ticks")
	}

	updater := metrics.NewUpdater(store, 30*time.Second)
	go updater.Start(ctx)
	defer updater.Stop()

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("Execution worker stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Execution worker stopped")
}

// feedPaperVenue returns a handler that mirrors ticker messages into
// the paper venue's price book.
func feedPaperVenue(paper *exchange.PaperGateway) bus.Handler {
	return func(ctx context.Context, msg protocol.Message) error {
		md, ok := msg.(*protocol.MarketData)
		if !ok {
			return nil
		}
		if kind, _ := md.Data["type"].(string); kind != "ticker" {
			return nil
		}
		last, ok := md.Data["last"].(float64)
		if !ok || last <= 0 {
			return nil
		}
		paper.SetMarketPrice(md.Symbol, last)
		return nil
	}
}
