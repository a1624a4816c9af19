// Collector worker entry point: sweeps a venue's REST API on a fixed
// cadence, persists bars and book tops to the time-series store, caches
// last prices in Redis and republishes the readings on ticks.raw for
// the analysis workers.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const workerType = "collector"

// collector polls one venue for a fixed symbol set. Each step fetches
// the latest bar, the ticker and the book top for every symbol; a
// failing feed is logged and skipped so one flaky market cannot stall
// the rest of the sweep.
type collector struct {
	*agents.BaseAgent

	gateway   exchange.Gateway
	market    *marketstore.Store
	prices    *marketstore.PriceCache
	symbols   []string
	timeframe string
	bookDepth int
}

func newCollector(base *agents.BaseAgent, gateway exchange.Gateway, market *marketstore.Store, prices *marketstore.PriceCache, cfg config.CollectorConfig, symbols []string) *collector {
	timeframe := cfg.Timeframe
	if timeframe == "" {
		timeframe = "1m"
	}
	depth := cfg.BookDepth
	if depth <= 0 {
		depth = 10
	}
	return &collector{
		BaseAgent: base,
		gateway:   gateway,
		market:    market,
		prices:    prices,
		symbols:   symbols,
		timeframe: timeframe,
		bookDepth: depth,
	}
}

// Run sweeps the venue on the step cadence until ctx is cancelled.
func (c *collector) Run(ctx context.Context) error {
	return c.BaseAgent.Run(ctx, c.sweep)
}

// sweep polls every configured symbol once. The step errors only when
// the whole venue is dark; anything less is a per-symbol warning.
func (c *collector) sweep(ctx context.Context) error {
	dark := 0
	for _, symbol := range c.symbols {
		if err := c.collectSymbol(ctx, symbol); err != nil {
			dark++
		}
	}
	if dark > 0 && dark == len(c.symbols) {
		return fmt.Errorf("venue %s returned no data for any of %d symbols", c.gateway.Name(), dark)
	}
	return nil
}

func (c *collector) collectSymbol(ctx context.Context, symbol string) error {
	failed := 0

	bars, err := c.gateway.FetchOHLCV(ctx, symbol, c.timeframe, 1)
	if err != nil {
		failed++
		c.Log().Warn().Err(err).Str("symbol", symbol).Msg("Bar fetch failed")
	} else if len(bars) > 0 {
		c.recordBar(ctx, symbol, bars[len(bars)-1])
	}

	ticker, err := c.gateway.FetchTicker(ctx, symbol)
	if err != nil {
		failed++
		c.Log().Warn().Err(err).Str("symbol", symbol).Msg("Ticker fetch failed")
	} else {
		c.recordTicker(ctx, ticker)
	}

	book, err := c.gateway.FetchOrderBook(ctx, symbol, c.bookDepth)
	if err != nil {
		failed++
		c.Log().Warn().Err(err).Str("symbol", symbol).Msg("Depth fetch failed")
	} else {
		c.recordBook(ctx, book)
	}

	if failed == 3 {
		return fmt.Errorf("no feed answered for %s", symbol)
	}
	return nil
}

// recordBar upserts the bar into the time-series store and republishes
// it on ticks.raw for anything tailing the raw feed.
func (c *collector) recordBar(ctx context.Context, symbol string, bar exchange.OHLCV) {
	candle := &marketstore.Candle{
		Symbol:    symbol,
		Exchange:  c.gateway.Name(),
		Interval:  c.timeframe,
		Timestamp: bar.Timestamp,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
	}
	if err := c.market.UpsertCandle(ctx, candle); err != nil {
		c.Log().Warn().Err(err).Str("symbol", symbol).Msg("Bar upsert failed")
	}

	md := &protocol.MarketData{
		Header:   protocol.NewHeader(protocol.TypeMarketData, c.Name()),
		Exchange: c.gateway.Name(),
		Symbol:   symbol,
		Data: map[string]interface{}{
			"type":     "ohlcv",
			"interval": c.timeframe,
			"ts":       bar.Timestamp.UnixMilli(),
			"open":     bar.Open,
			"high":     bar.High,
			"low":      bar.Low,
			"close":    bar.Close,
			"volume":   bar.Volume,
		},
	}
	if err := c.Bus().Publish(ctx, protocol.TopicTicksRaw, md, protocol.PriorityOHLCV); err != nil {
		c.Log().Warn().Err(err).Str("symbol", symbol).Msg("Bar publish failed")
	}
}

// recordTicker caches the last price and publishes the snapshot. The
// cache is best effort: a Redis outage must not stall collection.
func (c *collector) recordTicker(ctx context.Context, t *exchange.Ticker) {
	if err := c.prices.Set(ctx, c.gateway.Name(), t.Symbol, t.Last); err != nil {
		c.Log().Debug().Err(err).Str("symbol", t.Symbol).Msg("Price cache set failed")
	}

	md := &protocol.MarketData{
		Header:   protocol.NewHeader(protocol.TypeMarketData, c.Name()),
		Exchange: c.gateway.Name(),
		Symbol:   t.Symbol,
		Data: map[string]interface{}{
			"type":   "ticker",
			"last":   t.Last,
			"bid":    t.Bid,
			"ask":    t.Ask,
			"volume": t.Volume,
		},
	}
	if err := c.Bus().Publish(ctx, protocol.TopicTicksRaw, md, protocol.PriorityTicker); err != nil {
		c.Log().Warn().Err(err).Str("symbol", t.Symbol).Msg("Ticker publish failed")
	}
}

// recordBook stores the top of book. Depth beyond the best levels is
// fetched for spread realism but only the top is persisted.
func (c *collector) recordBook(ctx context.Context, book *exchange.OrderBook) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return
	}
	snap := &marketstore.OrderBookSnapshot{
		Symbol:    book.Symbol,
		Exchange:  c.gateway.Name(),
		Timestamp: book.Timestamp,
		BidPrice:  book.Bids[0].Price,
		BidVolume: book.Bids[0].Quantity,
		AskPrice:  book.Asks[0].Price,
		AskVolume: book.Asks[0].Quantity,
		Spread:    book.Spread(),
	}
	if err := c.market.InsertOrderBookSnapshot(ctx, snap); err != nil {
		c.Log().Warn().Err(err).Str("symbol", book.Symbol).Msg("Book snapshot insert failed")
	}
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
		log.Info().Msg("Collector worker disabled by configuration")
		return
	}
	name := def.Name
	if name == "" {
		name = "collector-worker"
	}

	cc := cfg.Agents.Collector
	symbols := cc.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Trading.Symbols
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("No symbols configured to collect")
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

	// One pool serves both the pipeline store and the time-series writes.
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

	prices := marketstore.NewPriceCache(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), time.Duration(cfg.Redis.TTL)*time.Second)
	if err := prices.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("Price cache unreachable, consumers fall back to the time-series store")
	}
	defer prices.Close()

	gateway, err := exchange.NewGateway(cc.ExchangeID, cfg.Exchanges)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build exchange gateway")
	}
	defer gateway.Close()

	base := agents.New(agents.Config{
		Name:         name,
		Type:         workerType,
		StepInterval: def.Interval(time.Duration(cc.IntervalSeconds) * time.Second),
		MetricsPort:  cc.MetricsPort,
	}, b, store, config.NewAgentLogger(name, workerType))

	svc := newCollector(base, gateway, market, prices, cc, symbols)

	if err := svc.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize collector worker")
	}
	log.Info().
		Str("exchange", gateway.Name()).
		Strs("symbols", symbols).
		Str("timeframe", svc.timeframe).
		Msg("Collector worker ready")

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("Collector worker stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Collector worker stopped")
}
