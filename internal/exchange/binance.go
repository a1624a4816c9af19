package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const (
	defaultPollInterval  = 2 * time.Second
	ohlcvPollInterval    = 10 * time.Second
	quantityPrecision    = 8
	defaultRateLimitMS   = 200
	defaultBinanceLimitN = 100
)

// BinanceGateway implements Gateway for Binance spot over REST. Watch
// streams are poll driven: each watcher runs its own ticker and emits
// only on change. Reads go through the circuit breaker with full
// retries; order placement retries at most once and never after an
// ambiguous failure.
type BinanceGateway struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *Breaker

	readRetry  RetryConfig
	placeRetry RetryConfig

	mu      sync.RWMutex
	tracked map[string][]trackedOrder // unified symbol -> placed orders
	done    chan struct{}
	closed  bool
}

type trackedOrder struct {
	id         int64
	lastStatus protocol.OrderStatus
}

// NewBinanceGateway creates a Binance spot gateway from exchange
// config. Testnet routing is flipped on the shared binance package
// before the client is built. Market data endpoints are public, so a
// keyless gateway still serves collectors; order and account calls
// need credentials and are rejected by the venue without them.
func NewBinanceGateway(cfg config.ExchangeConfig) (*BinanceGateway, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		log.Warn().Msg("Binance gateway built without credentials, market data only")
	}

	binance.UseTestnet = cfg.Testnet
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	limitMS := cfg.RateLimitMS
	if limitMS <= 0 {
		limitMS = defaultRateLimitMS
	}

	g := &BinanceGateway{
		client:     client,
		limiter:    rate.NewLimiter(rate.Every(time.Duration(limitMS)*time.Millisecond), 2),
		breaker:    NewBreaker("binance"),
		readRetry:  DefaultRetryConfig(),
		placeRetry: PlacementRetryConfig(),
		tracked:    make(map[string][]trackedOrder),
		done:       make(chan struct{}),
	}

	log.Info().
		Bool("testnet", cfg.Testnet).
		Int("rate_limit_ms", limitMS).
		Msg("Binance gateway initialized")

	return g, nil
}

// Name implements Gateway.
func (g *BinanceGateway) Name() string { return "binance" }

// call runs fn behind the rate limiter, circuit breaker and read
// retry policy.
func (g *BinanceGateway) call(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, g.readRetry, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		return g.breaker.Do(fn)
	})
}

// FetchOHLCV implements Gateway.
func (g *BinanceGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]OHLCV, error) {
	if limit <= 0 {
		limit = defaultBinanceLimitN
	}

	var klines []*binance.Kline
	err := g.call(ctx, func() error {
		var err error
		klines, err = g.client.NewKlinesService().
			Symbol(MarketSymbol(symbol)).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	bars := make([]OHLCV, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, OHLCV{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return bars, nil
}

// FetchTicker implements Gateway.
func (g *BinanceGateway) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var stats []*binance.PriceChangeStats
	err := g.call(ctx, func() error {
		var err error
		stats, err = g.client.NewListPriceChangeStatsService().
			Symbol(MarketSymbol(symbol)).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker for %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("no ticker data for %s", symbol)
	}

	s := stats[0]
	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(s.LastPrice),
		Bid:       parseFloat(s.BidPrice),
		Ask:       parseFloat(s.AskPrice),
		Volume:    parseFloat(s.Volume),
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchOrderBook implements Gateway.
func (g *BinanceGateway) FetchOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	if limit <= 0 {
		limit = defaultBinanceLimitN
	}

	var depth *binance.DepthResponse
	err := g.call(ctx, func() error {
		var err error
		depth, err = g.client.NewDepthService().
			Symbol(MarketSymbol(symbol)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book for %s: %w", symbol, err)
	}

	book := &OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	for _, b := range depth.Bids {
		book.Bids = append(book.Bids, BookLevel{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range depth.Asks {
		book.Asks = append(book.Asks, BookLevel{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	return book, nil
}

// WatchTicker implements Gateway. Polls the ticker endpoint and emits
// when the last price moves.
func (g *BinanceGateway) WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error) {
	ch := make(chan Ticker, watchChanBuffer)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()

		var lastPrice float64
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.done:
				return
			case <-ticker.C:
				t, err := g.FetchTicker(ctx, symbol)
				if err != nil {
					log.Debug().Err(err).Str("symbol", symbol).Msg("Ticker poll failed")
					continue
				}
				if t.Last == lastPrice {
					continue
				}
				lastPrice = t.Last
				select {
				case ch <- *t:
				default:
				}
			}
		}
	}()

	return ch, nil
}

// WatchOHLCV implements Gateway. Polls the most recent two bars and
// emits each bar once it closes.
func (g *BinanceGateway) WatchOHLCV(ctx context.Context, symbol, timeframe string) (<-chan OHLCV, error) {
	ch := make(chan OHLCV, watchChanBuffer)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(ohlcvPollInterval)
		defer ticker.Stop()

		var lastEmitted time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.done:
				return
			case <-ticker.C:
				bars, err := g.FetchOHLCV(ctx, symbol, timeframe, 2)
				if err != nil {
					log.Debug().Err(err).Str("symbol", symbol).Msg("OHLCV poll failed")
					continue
				}
				// The most recent bar is still forming; emit the one before it.
				if len(bars) < 2 {
					continue
				}
				closed := bars[len(bars)-2]
				if !closed.Timestamp.After(lastEmitted) {
					continue
				}
				lastEmitted = closed.Timestamp
				select {
				case ch <- closed:
				default:
				}
			}
		}
	}()

	return ch, nil
}

// WatchOrders implements Gateway. Polls tracked orders and emits on
// status transitions.
func (g *BinanceGateway) WatchOrders(ctx context.Context, symbol string) (<-chan Order, error) {
	ch := make(chan Order, watchChanBuffer)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-g.done:
				return
			case <-ticker.C:
				g.pollTrackedOrders(ctx, symbol, ch)
			}
		}
	}()

	return ch, nil
}

func (g *BinanceGateway) pollTrackedOrders(ctx context.Context, symbol string, ch chan<- Order) {
	g.mu.RLock()
	snapshot := make(map[string][]trackedOrder, len(g.tracked))
	for sym, orders := range g.tracked {
		if symbol != "" && sym != symbol {
			continue
		}
		snapshot[sym] = append([]trackedOrder(nil), orders...)
	}
	g.mu.RUnlock()

	for sym, orders := range snapshot {
		for _, to := range orders {
			if isTerminalStatus(to.lastStatus) {
				continue
			}
			order, err := g.FetchOrder(ctx, strconv.FormatInt(to.id, 10), sym)
			if err != nil {
				log.Debug().Err(err).Int64("order_id", to.id).Msg("Order poll failed")
				continue
			}
			if order.Status == to.lastStatus {
				continue
			}
			g.updateTracked(sym, to.id, order.Status)
			select {
			case ch <- *order:
			default:
			}
		}
	}
}

func (g *BinanceGateway) trackOrder(symbol string, id int64, status protocol.OrderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracked[symbol] = append(g.tracked[symbol], trackedOrder{id: id, lastStatus: status})
}

func (g *BinanceGateway) updateTracked(symbol string, id int64, status protocol.OrderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.tracked[symbol] {
		if g.tracked[symbol][i].id == id {
			g.tracked[symbol][i].lastStatus = status
			return
		}
	}
}

// CreateOrder implements Gateway.
func (g *BinanceGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	svc := g.client.NewCreateOrderService().
		Symbol(MarketSymbol(req.Symbol)).
		Side(toBinanceSide(req.Side)).
		Quantity(formatQty(req.Quantity))

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	switch req.Type {
	case protocol.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case protocol.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQty(req.Price))
	case protocol.OrderTypeStopLoss:
		svc = svc.Type(binance.OrderTypeStopLoss).
			StopPrice(formatQty(req.StopPrice))
	case protocol.OrderTypeTakeProfit:
		svc = svc.Type(binance.OrderTypeTakeProfit).
			StopPrice(formatQty(req.StopPrice))
	default:
		return nil, fmt.Errorf("unsupported order type: %s", req.Type)
	}

	var resp *binance.CreateOrderResponse
	err := WithPlacementRetry(ctx, g.placeRetry, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		return g.breaker.Do(func() error {
			var err error
			resp, err = svc.Do(ctx)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place order for %s: %w", req.Symbol, err)
	}

	order := orderFromCreateResponse(req, resp)
	g.trackOrder(req.Symbol, resp.OrderID, order.Status)

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Int64("exchange_order_id", resp.OrderID).
		Str("status", string(order.Status)).
		Msg("Binance order placed")

	return order, nil
}

// CancelOrder implements Gateway.
func (g *BinanceGateway) CancelOrder(ctx context.Context, orderID, symbol string) (*Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}

	var resp *binance.CancelOrderResponse
	err = g.call(ctx, func() error {
		var err error
		resp, err = g.client.NewCancelOrderService().
			Symbol(MarketSymbol(symbol)).
			OrderID(id).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}

	g.updateTracked(symbol, id, protocol.OrderStatusCancelled)

	return &Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.OrigClientOrderID,
		Symbol:        symbol,
		Side:          fromBinanceSide(resp.Side),
		Type:          fromBinanceType(resp.Type),
		Quantity:      parseFloat(resp.OrigQuantity),
		Price:         parseFloat(resp.Price),
		FilledQty:     parseFloat(resp.ExecutedQuantity),
		Status:        fromBinanceStatus(resp.Status),
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// FetchOrder implements Gateway.
func (g *BinanceGateway) FetchOrder(ctx context.Context, orderID, symbol string) (*Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}

	var resp *binance.Order
	err = g.call(ctx, func() error {
		var err error
		resp, err = g.client.NewGetOrderService().
			Symbol(MarketSymbol(symbol)).
			OrderID(id).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	executedQty := parseFloat(resp.ExecutedQuantity)
	quoteQty := parseFloat(resp.CummulativeQuoteQuantity)
	var avgPrice float64
	if executedQty > 0 {
		avgPrice = quoteQty / executedQty
	}

	return &Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          fromBinanceSide(resp.Side),
		Type:          fromBinanceType(resp.Type),
		Quantity:      parseFloat(resp.OrigQuantity),
		Price:         parseFloat(resp.Price),
		StopPrice:     parseFloat(resp.StopPrice),
		FilledQty:     executedQty,
		AvgFillPrice:  avgPrice,
		Status:        fromBinanceStatus(resp.Status),
		CreatedAt:     time.UnixMilli(resp.Time).UTC(),
		UpdatedAt:     time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}

// FetchOrderTrades implements Gateway. Binance lists trades per
// symbol, so recent trades are filtered by order id client side.
func (g *BinanceGateway) FetchOrderTrades(ctx context.Context, orderID, symbol string) ([]Fill, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}

	var trades []*binance.TradeV3
	err = g.call(ctx, func() error {
		var err error
		trades, err = g.client.NewListTradesService().
			Symbol(MarketSymbol(symbol)).
			Limit(defaultBinanceLimitN).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades for order %s: %w", orderID, err)
	}

	fills := make([]Fill, 0, len(trades))
	for _, t := range trades {
		if t.OrderID != id {
			continue
		}
		side := protocol.DirectionSell
		if t.IsBuyer {
			side = protocol.DirectionBuy
		}
		fills = append(fills, Fill{
			ID:          strconv.FormatInt(t.ID, 10),
			OrderID:     orderID,
			Symbol:      symbol,
			Side:        side,
			Quantity:    parseFloat(t.Quantity),
			Price:       parseFloat(t.Price),
			Fee:         parseFloat(t.Commission),
			FeeCurrency: t.CommissionAsset,
			IsMaker:     t.IsMaker,
			Timestamp:   time.UnixMilli(t.Time).UTC(),
		})
	}
	return fills, nil
}

// FetchBalance implements Gateway.
func (g *BinanceGateway) FetchBalance(ctx context.Context) (Balances, error) {
	var account *binance.Account
	err := g.call(ctx, func() error {
		var err error
		account, err = g.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account balances: %w", err)
	}

	balances := make(Balances, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// FetchPositions implements Gateway. Spot accounts hold balances, not
// positions.
func (g *BinanceGateway) FetchPositions(_ context.Context) ([]PositionInfo, error) {
	return []PositionInfo{}, nil
}

// Close implements Gateway.
func (g *BinanceGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)
	return nil
}

func orderFromCreateResponse(req OrderRequest, resp *binance.CreateOrderResponse) *Order {
	executedQty := parseFloat(resp.ExecutedQuantity)
	quoteQty := parseFloat(resp.CummulativeQuoteQuantity)
	var avgPrice float64
	if executedQty > 0 {
		avgPrice = quoteQty / executedQty
	}

	return &Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		FilledQty:     executedQty,
		AvgFillPrice:  avgPrice,
		Status:        fromBinanceStatus(resp.Status),
		CreatedAt:     time.UnixMilli(resp.TransactTime).UTC(),
		UpdatedAt:     time.UnixMilli(resp.TransactTime).UTC(),
	}
}

// formatQty renders a float for the Binance API without float
// formatting artifacts.
func formatQty(v float64) string {
	return decimal.NewFromFloat(v).Round(quantityPrecision).String()
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func toBinanceSide(side protocol.Direction) binance.SideType {
	if side == protocol.DirectionSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func fromBinanceSide(side binance.SideType) protocol.Direction {
	if side == binance.SideTypeSell {
		return protocol.DirectionSell
	}
	return protocol.DirectionBuy
}

func fromBinanceType(t binance.OrderType) protocol.OrderType {
	switch t {
	case binance.OrderTypeLimit:
		return protocol.OrderTypeLimit
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit:
		return protocol.OrderTypeStopLoss
	case binance.OrderTypeTakeProfit, binance.OrderTypeTakeProfitLimit:
		return protocol.OrderTypeTakeProfit
	default:
		return protocol.OrderTypeMarket
	}
}

func fromBinanceStatus(status binance.OrderStatusType) protocol.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return protocol.OrderStatusOpen
	case binance.OrderStatusTypePartiallyFilled:
		return protocol.OrderStatusPartial
	case binance.OrderStatusTypeFilled:
		return protocol.OrderStatusFilled
	case binance.OrderStatusTypeCanceled:
		return protocol.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return protocol.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		return protocol.OrderStatusExpired
	default:
		return protocol.OrderStatusPending
	}
}

func isTerminalStatus(status protocol.OrderStatus) bool {
	switch status {
	case protocol.OrderStatusFilled, protocol.OrderStatusCancelled,
		protocol.OrderStatusRejected, protocol.OrderStatusExpired:
		return true
	}
	return false
}
