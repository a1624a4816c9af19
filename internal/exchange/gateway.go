// Package exchange provides a normalized gateway over trading venues.
// Two implementations exist: PaperGateway, an in-process simulator with
// a slippage and fee model, and BinanceGateway, a REST client for
// Binance spot. All market data and order state cross the boundary in
// the normalized types of this package; venue-specific symbols, enums
// and decimal strings never leak past a gateway.
package exchange

import (
	"context"
	"errors"
)

var (
	// ErrOrderNotFound is returned when the venue has no order with
	// the requested id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientBalance is returned when the account cannot fund
	// the requested order.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotSupported is returned for capabilities a venue does not
	// offer, such as positions on a spot exchange.
	ErrNotSupported = errors.New("operation not supported")
)

// Gateway is the capability set the pipeline needs from a trading
// venue. Watch channels are closed when the supplied context is
// cancelled or the gateway shuts down; slow consumers may miss
// intermediate updates but always see the latest state on the next
// send.
type Gateway interface {
	// Name identifies the venue, e.g. "paper" or "binance".
	Name() string

	// FetchOHLCV returns up to limit most recent bars for the symbol
	// at the given timeframe ("1m", "1h", ...), oldest first.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]OHLCV, error)

	// FetchTicker returns the current price snapshot for the symbol.
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)

	// FetchOrderBook returns a depth snapshot with up to limit levels
	// per side.
	FetchOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error)

	// WatchTicker streams price updates for the symbol.
	WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error)

	// WatchOHLCV streams closed bars for the symbol at the given
	// timeframe.
	WatchOHLCV(ctx context.Context, symbol, timeframe string) (<-chan OHLCV, error)

	// CreateOrder places an order and returns its initial state. A
	// venue-rejected order is returned with status REJECTED and a
	// reject reason, not as an error; errors mean the request itself
	// failed.
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, orderID, symbol string) (*Order, error)

	// FetchOrder returns the current state of an order placed through
	// this gateway.
	FetchOrder(ctx context.Context, orderID, symbol string) (*Order, error)

	// WatchOrders streams state changes for orders placed through
	// this gateway. An empty symbol watches all symbols.
	WatchOrders(ctx context.Context, symbol string) (<-chan Order, error)

	// FetchOrderTrades returns the fills recorded for an order.
	FetchOrderTrades(ctx context.Context, orderID, symbol string) ([]Fill, error)

	// FetchBalance returns per-asset free/locked balances.
	FetchBalance(ctx context.Context) (Balances, error)

	// FetchPositions returns exchange-side positions. Spot venues
	// return an empty slice and no error.
	FetchPositions(ctx context.Context) ([]PositionInfo, error)

	// Close releases gateway resources and closes all watch channels.
	Close() error
}
