// Technical analysis worker entry point: computes an indicator snapshot
// per symbol from stored bars, merges the per-indicator votes and
// publishes the resulting opinion on signals.tech for the fusion core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/bus"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/indicators"
	"github.com/ajitpratap0/tradewind/internal/marketstore"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const (
	workerType = "technical"

	// Suggested protection levels around the last close: 2 ATR of risk
	// against 3 ATR of reward, matching the pipeline's minimum
	// reward-to-risk of 1.5.
	stopATRMultiple   = 2.0
	targetATRMultiple = 3.0
)

// analyzer turns stored bars into directional opinions. Each step loads
// the lookback window per symbol, computes the indicator snapshot,
// merges the per-indicator votes and publishes anything directional.
// HOLD outcomes stay local: the fusion core scores buyers against
// sellers and gains nothing from explicit neutrality.
type analyzer struct {
	*agents.BaseAgent

	market    *marketstore.Store
	symbols   []string
	timeframe string
	lookback  int
}

func newAnalyzer(base *agents.BaseAgent, market *marketstore.Store, cfg config.TechnicalConfig, symbols []string) *analyzer {
	timeframe := cfg.Timeframe
	if timeframe == "" {
		timeframe = "1m"
	}
	lookback := cfg.LookbackBars
	if lookback <= 0 {
		lookback = 100
	}
	return &analyzer{
		BaseAgent: base,
		market:    market,
		symbols:   symbols,
		timeframe: timeframe,
		lookback:  lookback,
	}
}

// Run analyzes the symbol set on the step cadence until ctx is cancelled.
func (a *analyzer) Run(ctx context.Context) error {
	return a.BaseAgent.Run(ctx, a.step)
}

// step analyzes every configured symbol once. A failing symbol is
// logged and skipped so one bad series cannot starve the rest.
func (a *analyzer) step(ctx context.Context) error {
	for _, symbol := range a.symbols {
		if err := a.analyzeSymbol(ctx, symbol); err != nil {
			a.Log().Warn().Err(err).Str("symbol", symbol).Msg("Analysis failed")
		}
	}
	return nil
}

func (a *analyzer) analyzeSymbol(ctx context.Context, symbol string) error {
	candles, err := a.market.RecentCandles(ctx, symbol, a.timeframe, a.lookback)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}

	snap, err := indicators.Snapshot(highs, lows, closes)
	if err != nil {
		// Not enough history yet; the collector grows the window.
		a.Log().Debug().Err(err).Str("symbol", symbol).Msg("Skipping analysis")
		return nil
	}

	last := candles[len(candles)-1]
	a.persistIndicators(ctx, symbol, last.Timestamp, snap)

	combined := indicators.Combine([]indicators.Vote{
		indicators.AnalyzeRSI(snap["rsi"]),
		indicators.AnalyzeMACD(snap["macd"], snap["macd_signal"], snap["macd_hist"]),
		indicators.AnalyzeBollinger(last.Close, indicators.Bands{
			Upper:  snap["bb_upper"],
			Middle: snap["bb_middle"],
			Lower:  snap["bb_lower"],
			Width:  snap["bb_upper"] - snap["bb_lower"],
		}),
		indicators.AnalyzeMovingAverages(last.Close, snap["sma_20"], snap["sma_50"]),
	})

	if combined.Direction == protocol.DirectionHold {
		a.Log().Debug().Str("symbol", symbol).Msg("No directional edge")
		return nil
	}
	return a.publishSignal(ctx, symbol, last.Close, snap, combined)
}

// persistIndicators mirrors the snapshot into the indicators table so
// the risk core can read atr_14 without recomputing the series. Writes
// stop at the first failure; a broken store fails them all alike.
func (a *analyzer) persistIndicators(ctx context.Context, symbol string, ts time.Time, snap map[string]float64) {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := a.market.InsertIndicatorValue(ctx, symbol, name, ts, snap[name]); err != nil {
			a.Log().Warn().Err(err).Str("symbol", symbol).Str("indicator", name).Msg("Indicator write failed")
			return
		}
	}
}

// publishSignal emits the opinion on signals.tech and records it in the
// signals table. The bus copy is the one consumers act on; the row is
// best effort.
func (a *analyzer) publishSignal(ctx context.Context, symbol string, lastClose float64, snap map[string]float64, combined indicators.Combined) error {
	stop, target := frameLevels(combined.Direction, lastClose, snap["atr_14"])
	reasoning := strings.Join(combined.Reasons, "; ")

	sig := &protocol.Signal{
		Header:      protocol.NewHeader(protocol.TypeSignal, a.Name()),
		AgentType:   workerType,
		Symbol:      symbol,
		Direction:   combined.Direction,
		Confidence:  combined.Confidence,
		PriceTarget: lastClose,
		StopLoss:    stop,
		TakeProfit:  target,
		Reasoning:   reasoning,
		Indicators:  snap,
	}
	if err := a.Bus().Publish(ctx, protocol.TopicSignalsTechnical, sig, protocol.PrioritySignal); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	metrics.RecordSignal(workerType, string(combined.Direction), combined.Confidence)

	a.Log().Info().
		Str("symbol", symbol).
		Str("direction", string(combined.Direction)).
		Float64("confidence", combined.Confidence).
		Float64("close", lastClose).
		Msg("Signal published")

	record := &db.SignalRecord{
		AgentType:  workerType,
		AgentName:  a.Name(),
		Symbol:     symbol,
		SignalType: combined.Direction,
		Confidence: combined.Confidence,
		Reasoning:  &reasoning,
		Indicators: snap,
	}
	record.PriceTarget = &lastClose
	if stop > 0 {
		record.StopLoss = &stop
	}
	if target > 0 {
		record.TakeProfit = &target
	}
	if err := a.Store().InsertSignal(ctx, record); err != nil {
		a.Log().Error().Err(err).Str("symbol", symbol).Msg("Failed to persist signal")
	}
	return nil
}

// frameLevels derives suggested protection levels from ATR around the
// reference price. Zero ATR yields no levels; the risk core falls back
// to its own stop methods.
func frameLevels(dir protocol.Direction, price, atr float64) (stop, target float64) {
	if atr <= 0 || price <= 0 {
		return 0, 0
	}
	switch dir {
	case protocol.DirectionBuy:
		stop = price - stopATRMultiple*atr
		target = price + targetATRMultiple*atr
	case protocol.DirectionSell:
		stop = price + stopATRMultiple*atr
		target = price - targetATRMultiple*atr
	}
	if stop < 0 || target < 0 {
		return 0, 0
	}
	return stop, target
}

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
		log.Info().Msg("Technical worker disabled by configuration")
		return
	}
	name := def.Name
	if name == "" {
		name = "technical-worker"
	}

	tc := cfg.Agents.Technical
	symbols := tc.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Trading.Symbols
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("No symbols configured to analyze")
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

	base := agents.New(agents.Config{
		Name:         name,
		Type:         workerType,
		StepInterval: def.Interval(time.Duration(tc.IntervalSeconds) * time.Second),
		MetricsPort:  tc.MetricsPort,
	}, b, store, config.NewAgentLogger(name, workerType))

	svc := newAnalyzer(base, market, tc, symbols)

	if err := svc.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize technical worker")
	}
	log.Info().
		Strs("symbols", symbols).
		Str("timeframe", svc.timeframe).
		Int("lookback_bars", svc.lookback).
		Msg("Technical worker ready")

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("Technical worker stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Technical worker stopped")
}
