package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const (
	maxPartialFills  = 5
	watchChanBuffer  = 64
	syntheticBookQty = 5.0
)

// DefaultFees returns the paper venue fee and slippage model used when
// the config leaves fees unset.
func DefaultFees() config.FeeConfig {
	return config.FeeConfig{
		Maker:        0.001,  // 0.1%
		Taker:        0.001,  // 0.1%
		BaseSlippage: 0.0005, // 0.05%
		MarketImpact: 0.0001, // per $1M notional
		MaxSlippage:  0.003,  // 0.3% cap
	}
}

// paperOrder tracks a resting or filled order together with the funds
// locked for it.
type paperOrder struct {
	order     Order
	lockAsset string
	lockAmt   float64
}

type tickerSub struct {
	symbol string
	ch     chan Ticker
}

type ohlcvSub struct {
	key string // symbol|timeframe
	ch  chan OHLCV
}

type orderSub struct {
	symbol string // empty matches all
	ch     chan Order
}

// PaperGateway simulates an exchange in process. Market orders fill
// immediately against the last set price with modeled slippage and
// fees; limit and stop orders rest until SetMarketPrice crosses them.
// Balances are locked when an order is accepted and settled or
// released when it reaches a terminal state.
type PaperGateway struct {
	mu       sync.RWMutex
	fees     config.FeeConfig
	orders   map[string]*paperOrder // exchange order id -> order
	byClient map[string]string      // client order id -> exchange order id
	fills    map[string][]Fill      // exchange order id -> fills
	prices   map[string]float64     // symbol -> last price
	candles  map[string][]OHLCV     // symbol|timeframe -> bars, oldest first
	balances map[string]*Balance    // asset -> balance

	tickerSubs []*tickerSub
	ohlcvSubs  []*ohlcvSub
	orderSubs  []*orderSub

	orderSeq int64
	fillSeq  int64
	failNext string // forced rejection reason for the next order
	closed   bool
}

// NewPaperGateway creates a paper venue with the given fee model and
// starting free balances per asset. A zero-value fee config falls back
// to DefaultFees.
func NewPaperGateway(fees config.FeeConfig, startingBalances map[string]float64) *PaperGateway {
	if fees == (config.FeeConfig{}) {
		fees = DefaultFees()
	}
	balances := make(map[string]*Balance, len(startingBalances))
	for asset, free := range startingBalances {
		balances[asset] = &Balance{Free: free}
	}
	return &PaperGateway{
		fees:     fees,
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		fills:    make(map[string][]Fill),
		prices:   make(map[string]float64),
		candles:  make(map[string][]OHLCV),
		balances: balances,
	}
}

// Name implements Gateway.
func (p *PaperGateway) Name() string { return "paper" }

// FailNextOrder forces the next CreateOrder call to come back
// REJECTED with the given reason. Used to exercise rejection paths.
func (p *PaperGateway) FailNextOrder(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = reason
}

// SetMarketPrice updates the last price for a symbol, notifies ticker
// watchers and triggers any resting orders the new price crosses.
func (p *PaperGateway) SetMarketPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price

	for _, sub := range p.tickerSubs {
		if sub.symbol != symbol {
			continue
		}
		sendTicker(sub.ch, p.tickerLocked(symbol, price))
	}

	p.triggerRestingLocked(symbol, price)
}

// SeedCandles replaces the bar history served by FetchOHLCV for a
// symbol and timeframe. Bars must be oldest first.
func (p *PaperGateway) SeedCandles(symbol, timeframe string, bars []OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := symbol + "|" + timeframe
	p.candles[key] = append([]OHLCV(nil), bars...)
}

// PushCandle appends a closed bar and notifies OHLCV watchers.
func (p *PaperGateway) PushCandle(symbol, timeframe string, bar OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := symbol + "|" + timeframe
	p.candles[key] = append(p.candles[key], bar)

	for _, sub := range p.ohlcvSubs {
		if sub.key != key {
			continue
		}
		select {
		case sub.ch <- bar:
		default:
		}
	}
}

// FetchOHLCV implements Gateway.
func (p *PaperGateway) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]OHLCV, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bars := p.candles[symbol+"|"+timeframe]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

// FetchTicker implements Gateway.
func (p *PaperGateway) FetchTicker(_ context.Context, symbol string) (*Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no market price for %s", symbol)
	}
	t := p.tickerLocked(symbol, price)
	return &t, nil
}

func (p *PaperGateway) tickerLocked(symbol string, price float64) Ticker {
	halfSpread := price * p.fees.BaseSlippage
	var volume float64
	if bars := p.candles[symbol+"|1m"]; len(bars) > 0 {
		volume = bars[len(bars)-1].Volume
	}
	return Ticker{
		Symbol:    symbol,
		Last:      price,
		Bid:       price - halfSpread,
		Ask:       price + halfSpread,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}
}

// FetchOrderBook synthesizes a depth snapshot around the last price.
func (p *PaperGateway) FetchOrderBook(_ context.Context, symbol string, limit int) (*OrderBook, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no market price for %s", symbol)
	}
	if limit <= 0 {
		limit = 10
	}

	halfSpread := price * p.fees.BaseSlippage
	step := price * 0.0001
	book := &OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	for i := 0; i < limit; i++ {
		book.Bids = append(book.Bids, BookLevel{
			Price:    price - halfSpread - step*float64(i),
			Quantity: syntheticBookQty / float64(i+1),
		})
		book.Asks = append(book.Asks, BookLevel{
			Price:    price + halfSpread + step*float64(i),
			Quantity: syntheticBookQty / float64(i+1),
		})
	}
	return book, nil
}

// WatchTicker implements Gateway.
func (p *PaperGateway) WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error) {
	sub := &tickerSub{symbol: symbol, ch: make(chan Ticker, watchChanBuffer)}

	p.mu.Lock()
	p.tickerSubs = append(p.tickerSubs, sub)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.tickerSubs {
			if s == sub {
				p.tickerSubs = append(p.tickerSubs[:i], p.tickerSubs[i+1:]...)
				close(s.ch)
				break
			}
		}
	}()

	return sub.ch, nil
}

// WatchOHLCV implements Gateway.
func (p *PaperGateway) WatchOHLCV(ctx context.Context, symbol, timeframe string) (<-chan OHLCV, error) {
	sub := &ohlcvSub{key: symbol + "|" + timeframe, ch: make(chan OHLCV, watchChanBuffer)}

	p.mu.Lock()
	p.ohlcvSubs = append(p.ohlcvSubs, sub)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.ohlcvSubs {
			if s == sub {
				p.ohlcvSubs = append(p.ohlcvSubs[:i], p.ohlcvSubs[i+1:]...)
				close(s.ch)
				break
			}
		}
	}()

	return sub.ch, nil
}

// WatchOrders implements Gateway.
func (p *PaperGateway) WatchOrders(ctx context.Context, symbol string) (<-chan Order, error) {
	sub := &orderSub{symbol: symbol, ch: make(chan Order, watchChanBuffer)}

	p.mu.Lock()
	p.orderSubs = append(p.orderSubs, sub)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.orderSubs {
			if s == sub {
				p.orderSubs = append(p.orderSubs[:i], p.orderSubs[i+1:]...)
				close(s.ch)
				break
			}
		}
	}()

	return sub.ch, nil
}

// CreateOrder implements Gateway. Market orders fill synchronously;
// limit and stop orders rest until triggered by SetMarketPrice.
func (p *PaperGateway) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("no market price for %s", req.Symbol)
	}

	p.orderSeq++
	now := time.Now().UTC()
	po := &paperOrder{
		order: Order{
			ID:            fmt.Sprintf("PAPER-%d", p.orderSeq),
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Quantity:      req.Quantity,
			Price:         req.Price,
			StopPrice:     req.StopPrice,
			Status:        protocol.OrderStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}

	if p.failNext != "" {
		reason := p.failNext
		p.failNext = ""
		po.order.Status = protocol.OrderStatusRejected
		po.order.RejectReason = reason
		p.storeLocked(po)
		p.notifyOrderLocked(po.order)
		log.Warn().
			Str("order_id", po.order.ID).
			Str("reason", reason).
			Msg("Paper order rejected")
		out := po.order
		return &out, nil
	}

	if err := p.lockFundsLocked(po, price); err != nil {
		po.order.Status = protocol.OrderStatusRejected
		po.order.RejectReason = err.Error()
		p.storeLocked(po)
		p.notifyOrderLocked(po.order)
		out := po.order
		return &out, nil
	}

	p.storeLocked(po)

	switch req.Type {
	case protocol.OrderTypeMarket:
		p.fillLocked(po, price, false)
	default:
		po.order.Status = protocol.OrderStatusOpen
		po.order.UpdatedAt = time.Now().UTC()
		p.notifyOrderLocked(po.order)
	}

	out := po.order
	return &out, nil
}

// CancelOrder implements Gateway. Only resting orders can be
// cancelled; locked funds are released.
func (p *PaperGateway) CancelOrder(_ context.Context, orderID, _ string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, err := p.lookupLocked(orderID)
	if err != nil {
		return nil, err
	}
	if po.order.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s: cannot cancel", po.order.ID, po.order.Status)
	}

	p.releaseLocked(po)
	po.order.Status = protocol.OrderStatusCancelled
	po.order.UpdatedAt = time.Now().UTC()
	p.notifyOrderLocked(po.order)

	out := po.order
	return &out, nil
}

// FetchOrder implements Gateway. Looks up by exchange id first, then
// by client order id.
func (p *PaperGateway) FetchOrder(_ context.Context, orderID, _ string) (*Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	po, err := p.lookupLocked(orderID)
	if err != nil {
		return nil, err
	}
	out := po.order
	return &out, nil
}

// FetchOrderTrades implements Gateway.
func (p *PaperGateway) FetchOrderTrades(_ context.Context, orderID, _ string) ([]Fill, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	po, err := p.lookupLocked(orderID)
	if err != nil {
		return nil, err
	}
	fills := p.fills[po.order.ID]
	out := make([]Fill, len(fills))
	copy(out, fills)
	return out, nil
}

// FetchBalance implements Gateway.
func (p *PaperGateway) FetchBalance(_ context.Context) (Balances, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(Balances, len(p.balances))
	for asset, bal := range p.balances {
		out[asset] = *bal
	}
	return out, nil
}

// FetchPositions implements Gateway. The paper venue is spot-only.
func (p *PaperGateway) FetchPositions(_ context.Context) ([]PositionInfo, error) {
	return []PositionInfo{}, nil
}

// Close implements Gateway.
func (p *PaperGateway) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, sub := range p.tickerSubs {
		close(sub.ch)
	}
	for _, sub := range p.ohlcvSubs {
		close(sub.ch)
	}
	for _, sub := range p.orderSubs {
		close(sub.ch)
	}
	p.tickerSubs, p.ohlcvSubs, p.orderSubs = nil, nil, nil
	return nil
}

func validateRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if req.Side != protocol.DirectionBuy && req.Side != protocol.DirectionSell {
		return fmt.Errorf("invalid order side: %s", req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", req.Quantity)
	}
	switch req.Type {
	case protocol.OrderTypeMarket:
	case protocol.OrderTypeLimit:
		if req.Price <= 0 {
			return fmt.Errorf("limit order requires a positive price")
		}
	case protocol.OrderTypeStopLoss, protocol.OrderTypeTakeProfit:
		if req.StopPrice <= 0 {
			return fmt.Errorf("%s order requires a positive stop price", req.Type)
		}
	default:
		return fmt.Errorf("invalid order type: %s", req.Type)
	}
	return nil
}

func (p *PaperGateway) storeLocked(po *paperOrder) {
	p.orders[po.order.ID] = po
	if po.order.ClientOrderID != "" {
		p.byClient[po.order.ClientOrderID] = po.order.ID
	}
}

func (p *PaperGateway) lookupLocked(orderID string) (*paperOrder, error) {
	if po, ok := p.orders[orderID]; ok {
		return po, nil
	}
	if id, ok := p.byClient[orderID]; ok {
		return p.orders[id], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}

// lockFundsLocked reserves the funds an order needs. Buys lock quote
// priced at the worst modeled fill, sells lock the base quantity.
func (p *PaperGateway) lockFundsLocked(po *paperOrder, marketPrice float64) error {
	base, quote := SplitSymbol(po.order.Symbol)

	if po.order.Side == protocol.DirectionBuy {
		refPrice := marketPrice
		feeRate := p.fees.Taker
		switch po.order.Type {
		case protocol.OrderTypeLimit:
			refPrice = po.order.Price
			feeRate = p.fees.Maker
		case protocol.OrderTypeStopLoss, protocol.OrderTypeTakeProfit:
			refPrice = po.order.StopPrice
		}
		required := po.order.Quantity * refPrice * (1 + feeRate + p.fees.MaxSlippage)
		bal := p.balances[quote]
		if bal == nil || bal.Free < required {
			return fmt.Errorf("%w: need %.8f %s", ErrInsufficientBalance, required, quote)
		}
		bal.Free -= required
		bal.Locked += required
		po.lockAsset = quote
		po.lockAmt = required
		return nil
	}

	bal := p.balances[base]
	if bal == nil || bal.Free < po.order.Quantity {
		return fmt.Errorf("%w: need %.8f %s", ErrInsufficientBalance, po.order.Quantity, base)
	}
	bal.Free -= po.order.Quantity
	bal.Locked += po.order.Quantity
	po.lockAsset = base
	po.lockAmt = po.order.Quantity
	return nil
}

func (p *PaperGateway) releaseLocked(po *paperOrder) {
	if po.lockAmt == 0 {
		return
	}
	if bal := p.balances[po.lockAsset]; bal != nil {
		bal.Locked -= po.lockAmt
		bal.Free += po.lockAmt
	}
	po.lockAmt = 0
}

// slippage models price impact as a base cost plus impact scaled by
// notional, capped at the configured maximum.
func (p *PaperGateway) slippage(quantity, price float64) float64 {
	notional := quantity * price
	slip := p.fees.BaseSlippage + p.fees.MarketImpact*(notional/1_000_000)
	if slip > p.fees.MaxSlippage {
		slip = p.fees.MaxSlippage
	}
	return slip
}

// fillLocked executes an order at the given reference price. Maker
// fills (triggered limits) trade at the limit price with the maker
// fee; everything else pays slippage and the taker fee.
func (p *PaperGateway) fillLocked(po *paperOrder, refPrice float64, maker bool) {
	var fillPrice, feeRate float64
	if maker {
		fillPrice = po.order.Price
		feeRate = p.fees.Maker
	} else {
		slip := p.slippage(po.order.Quantity, refPrice)
		if po.order.Side == protocol.DirectionBuy {
			fillPrice = refPrice * (1 + slip)
		} else {
			fillPrice = refPrice * (1 - slip)
		}
		feeRate = p.fees.Taker
	}

	fills := p.generateFillsLocked(po, fillPrice, feeRate, maker)
	p.fills[po.order.ID] = fills

	var totalQty, totalValue float64
	for _, f := range fills {
		totalQty += f.Quantity
		totalValue += f.Quantity * f.Price
	}

	po.order.FilledQty = totalQty
	po.order.AvgFillPrice = totalValue / totalQty
	po.order.Status = protocol.OrderStatusFilled
	po.order.UpdatedAt = time.Now().UTC()

	p.settleLocked(po, fills)
	p.notifyOrderLocked(po.order)

	log.Debug().
		Str("order_id", po.order.ID).
		Str("symbol", po.order.Symbol).
		Str("side", string(po.order.Side)).
		Float64("avg_price", po.order.AvgFillPrice).
		Float64("quantity", totalQty).
		Int("fills", len(fills)).
		Msg("Paper order filled")
}

// generateFillsLocked splits large orders into up to maxPartialFills
// partial fills with small price drift between them. Orders under one
// unit fill in a single trade.
func (p *PaperGateway) generateFillsLocked(po *paperOrder, fillPrice, feeRate float64, maker bool) []Fill {
	_, quote := SplitSymbol(po.order.Symbol)
	now := time.Now().UTC()

	numFills := 1
	if po.order.Quantity >= 1.0 {
		numFills = 1 + int(po.order.Quantity)
		if numFills > maxPartialFills {
			numFills = maxPartialFills
		}
	}

	fills := make([]Fill, 0, numFills)
	remaining := po.order.Quantity
	for i := 0; i < numFills; i++ {
		qty := remaining
		if i < numFills-1 {
			qty = po.order.Quantity / float64(numFills)
		}
		remaining -= qty

		drift := fillPrice * 0.0001 * float64(i)
		price := fillPrice + drift
		if po.order.Side == protocol.DirectionSell {
			price = fillPrice - drift
		}

		p.fillSeq++
		fills = append(fills, Fill{
			ID:          fmt.Sprintf("FILL-%d", p.fillSeq),
			OrderID:     po.order.ID,
			Symbol:      po.order.Symbol,
			Side:        po.order.Side,
			Quantity:    qty,
			Price:       price,
			Fee:         qty * price * feeRate,
			FeeCurrency: quote,
			IsMaker:     maker,
			Timestamp:   now,
		})
	}
	return fills
}

// settleLocked converts the locked funds into the traded assets. Buys
// pay cost plus fees from the lock and receive base; sells hand over
// the locked base and receive proceeds minus fees.
func (p *PaperGateway) settleLocked(po *paperOrder, fills []Fill) {
	base, quote := SplitSymbol(po.order.Symbol)

	var cost, qty, fees float64
	for _, f := range fills {
		cost += f.Quantity * f.Price
		qty += f.Quantity
		fees += f.Fee
	}

	if po.order.Side == protocol.DirectionBuy {
		if bal := p.balances[quote]; bal != nil {
			bal.Locked -= po.lockAmt
			bal.Free += po.lockAmt - cost - fees
		}
		baseBal := p.balances[base]
		if baseBal == nil {
			baseBal = &Balance{}
			p.balances[base] = baseBal
		}
		baseBal.Free += qty
	} else {
		if bal := p.balances[base]; bal != nil {
			bal.Locked -= po.lockAmt
		}
		quoteBal := p.balances[quote]
		if quoteBal == nil {
			quoteBal = &Balance{}
			p.balances[quote] = quoteBal
		}
		quoteBal.Free += cost - fees
	}
	po.lockAmt = 0
}

// triggerRestingLocked fills resting orders the new price crosses.
func (p *PaperGateway) triggerRestingLocked(symbol string, price float64) {
	for _, po := range p.orders {
		if po.order.Symbol != symbol || po.order.Status != protocol.OrderStatusOpen {
			continue
		}

		switch po.order.Type {
		case protocol.OrderTypeLimit:
			if po.order.Side == protocol.DirectionBuy && price <= po.order.Price {
				p.fillLocked(po, po.order.Price, true)
			} else if po.order.Side == protocol.DirectionSell && price >= po.order.Price {
				p.fillLocked(po, po.order.Price, true)
			}
		case protocol.OrderTypeStopLoss:
			// Protective exit: sells trigger when price falls to the
			// stop, buys when it rises to it.
			if po.order.Side == protocol.DirectionSell && price <= po.order.StopPrice {
				p.fillLocked(po, price, false)
			} else if po.order.Side == protocol.DirectionBuy && price >= po.order.StopPrice {
				p.fillLocked(po, price, false)
			}
		case protocol.OrderTypeTakeProfit:
			if po.order.Side == protocol.DirectionSell && price >= po.order.StopPrice {
				p.fillLocked(po, price, false)
			} else if po.order.Side == protocol.DirectionBuy && price <= po.order.StopPrice {
				p.fillLocked(po, price, false)
			}
		}
	}
}

func (p *PaperGateway) notifyOrderLocked(order Order) {
	for _, sub := range p.orderSubs {
		if sub.symbol != "" && sub.symbol != order.Symbol {
			continue
		}
		select {
		case sub.ch <- order:
		default:
			log.Debug().
				Str("order_id", order.ID).
				Msg("Order watcher buffer full, dropping update")
		}
	}
}

func sendTicker(ch chan Ticker, t Ticker) {
	select {
	case ch <- t:
	default:
	}
}
