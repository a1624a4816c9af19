package exchange

import (
	"strings"
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Ticker is a point-in-time price snapshot for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// OHLCV is a single candlestick bar.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BookLevel is a single price level in an order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot. Bids are sorted best (highest) first,
// asks best (lowest) first.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// Spread returns the best ask minus best bid, or 0 when either side is empty.
func (ob *OrderBook) Spread() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price - ob.Bids[0].Price
}

// OrderRequest describes an order to be placed on an exchange.
// ClientOrderID carries the pipeline correlation id so fills can be
// matched back to the originating intent.
type OrderRequest struct {
	ClientOrderID string             `json:"client_order_id"`
	Symbol        string             `json:"symbol"`
	Side          protocol.Direction `json:"side"`
	Type          protocol.OrderType `json:"type"`
	Quantity      float64            `json:"quantity"`
	Price         float64            `json:"price,omitempty"`      // limit orders
	StopPrice     float64            `json:"stop_price,omitempty"` // stop loss / take profit
}

// Order is the normalized view of an exchange order.
type Order struct {
	ID            string               `json:"id"` // exchange-assigned
	ClientOrderID string               `json:"client_order_id"`
	Symbol        string               `json:"symbol"`
	Side          protocol.Direction   `json:"side"`
	Type          protocol.OrderType   `json:"type"`
	Quantity      float64              `json:"quantity"`
	Price         float64              `json:"price,omitempty"`
	StopPrice     float64              `json:"stop_price,omitempty"`
	FilledQty     float64              `json:"filled_qty"`
	AvgFillPrice  float64              `json:"avg_fill_price"`
	Status        protocol.OrderStatus `json:"status"`
	RejectReason  string               `json:"reject_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case protocol.OrderStatusFilled, protocol.OrderStatusCancelled,
		protocol.OrderStatusRejected, protocol.OrderStatusExpired:
		return true
	}
	return false
}

// Fill is a single trade executed against an order.
type Fill struct {
	ID          string             `json:"id"`
	OrderID     string             `json:"order_id"`
	Symbol      string             `json:"symbol"`
	Side        protocol.Direction `json:"side"`
	Quantity    float64            `json:"quantity"`
	Price       float64            `json:"price"`
	Fee         float64            `json:"fee"`
	FeeCurrency string             `json:"fee_currency"`
	IsMaker     bool               `json:"is_maker"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Balance is the free/locked split for a single asset.
type Balance struct {
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Balances maps asset code to balance.
type Balances map[string]Balance

// PositionInfo is an exchange-side position (margin/futures venues).
// Spot gateways return none.
type PositionInfo struct {
	Symbol        string                `json:"symbol"`
	Side          protocol.PositionSide `json:"side"`
	Quantity      float64               `json:"quantity"`
	EntryPrice    float64               `json:"entry_price"`
	MarkPrice     float64               `json:"mark_price"`
	UnrealizedPnL float64               `json:"unrealized_pnl"`
	Leverage      float64               `json:"leverage"`
}

// MarketSymbol converts a unified "BASE/QUOTE" symbol to the exchange
// wire form without the separator, e.g. "BTC/USDT" -> "BTCUSDT".
func MarketSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// SplitSymbol splits a unified symbol into base and quote assets.
// Symbols without a separator are treated as base-only.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, found := strings.Cut(symbol, "/")
	if !found {
		return symbol, ""
	}
	return base, quote
}
