// Package marketstore persists and serves market data: OHLCV candles,
// computed indicator values and order book snapshots in PostgreSQL,
// plus a Redis cache for the latest traded price per symbol.
package marketstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNoData is returned when a query window contains no rows. Callers
// decide whether that means "use a fallback" or "skip this cycle".
var ErrNoData = errors.New("no market data")

// PoolInterface is the subset of pgxpool.Pool the store uses. Tests
// substitute a pgxmock pool.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string
	Exchange  string
	Interval  string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderBookSnapshot is the top of book at one instant.
type OrderBookSnapshot struct {
	Symbol    string
	Exchange  string
	Timestamp time.Time
	BidPrice  float64
	BidVolume float64
	AskPrice  float64
	AskVolume float64
	Spread    float64
}

// Store reads and writes the market data tables.
type Store struct {
	pool PoolInterface
}

// NewStore creates a market data store over an existing pool.
func NewStore(pool PoolInterface) *Store {
	return &Store{pool: pool}
}

// NewStoreWithPool wraps a production pgx pool.
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertCandle writes one bar. Collectors poll overlapping windows, so
// the latest write for a bar wins.
func (s *Store) UpsertCandle(ctx context.Context, c *Candle) error {
	query := `
		INSERT INTO ohlcv (symbol, exchange, interval, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, exchange, interval, ts) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	_, err := s.pool.Exec(ctx, query,
		c.Symbol, c.Exchange, c.Interval, c.Timestamp,
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Msg("Failed to upsert candle")
		return fmt.Errorf("failed to upsert candle: %w", err)
	}

	return nil
}

// InsertIndicatorValue records one computed indicator point.
func (s *Store) InsertIndicatorValue(ctx context.Context, symbol, name string, ts time.Time, value float64) error {
	query := `
		INSERT INTO indicators (symbol, name, ts, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, name, ts) DO UPDATE SET value = EXCLUDED.value
	`

	_, err := s.pool.Exec(ctx, query, symbol, name, ts, value)
	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", symbol).
			Str("indicator", name).
			Msg("Failed to insert indicator value")
		return fmt.Errorf("failed to insert indicator value: %w", err)
	}

	return nil
}

// InsertOrderBookSnapshot records the top of book.
func (s *Store) InsertOrderBookSnapshot(ctx context.Context, ob *OrderBookSnapshot) error {
	query := `
		INSERT INTO orderbook (symbol, exchange, ts, bid_price, bid_volume, ask_price, ask_volume, spread)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, exchange, ts) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		ob.Symbol, ob.Exchange, ob.Timestamp,
		ob.BidPrice, ob.BidVolume, ob.AskPrice, ob.AskVolume, ob.Spread,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", ob.Symbol).
			Msg("Failed to insert order book snapshot")
		return fmt.Errorf("failed to insert order book snapshot: %w", err)
	}

	return nil
}

// LastClose returns the most recent close for a symbol within the
// window, or ErrNoData when no bar is fresh enough.
func (s *Store) LastClose(ctx context.Context, symbol, interval string, since time.Time) (float64, error) {
	query := `
		SELECT close FROM ohlcv
		WHERE symbol = $1 AND interval = $2 AND ts >= $3
		ORDER BY ts DESC
		LIMIT 1
	`

	var close float64
	err := s.pool.QueryRow(ctx, query, symbol, interval, since).Scan(&close)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("last close %s %s: %w", symbol, interval, ErrNoData)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query last close: %w", err)
	}

	return close, nil
}

// LastIndicator returns the most recent value of a named indicator
// within the window, or ErrNoData.
func (s *Store) LastIndicator(ctx context.Context, symbol, name string, since time.Time) (float64, error) {
	query := `
		SELECT value FROM indicators
		WHERE symbol = $1 AND name = $2 AND ts >= $3
		ORDER BY ts DESC
		LIMIT 1
	`

	var value float64
	err := s.pool.QueryRow(ctx, query, symbol, name, since).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("last indicator %s %s: %w", symbol, name, ErrNoData)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query last indicator: %w", err)
	}

	return value, nil
}

// RecentCandles returns the latest bars for a symbol, oldest first.
func (s *Store) RecentCandles(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error) {
	query := `
		SELECT symbol, exchange, interval, ts, open, high, low, close, volume
		FROM ohlcv
		WHERE symbol = $1 AND interval = $2
		ORDER BY ts DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}

	// Rows arrive newest first; callers want chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// RangeCandles returns bars between from and to inclusive, oldest first.
func (s *Store) RangeCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]*Candle, error) {
	query := `
		SELECT symbol, exchange, interval, ts, open, high, low, close, volume
		FROM ohlcv
		WHERE symbol = $1 AND interval = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// RecentStdDev computes the population standard deviation of the latest
// closes. Needs at least two bars.
func (s *Store) RecentStdDev(ctx context.Context, symbol, interval string, lookback int) (float64, error) {
	candles, err := s.RecentCandles(ctx, symbol, interval, lookback)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("stddev %s %s: %w", symbol, interval, ErrNoData)
	}

	var sum float64
	for _, c := range candles {
		sum += c.Close
	}
	mean := sum / float64(len(candles))

	var sq float64
	for _, c := range candles {
		d := c.Close - mean
		sq += d * d
	}

	return math.Sqrt(sq / float64(len(candles))), nil
}

func scanCandles(rows pgx.Rows) ([]*Candle, error) {
	var candles []*Candle
	for rows.Next() {
		var c Candle
		err := rows.Scan(
			&c.Symbol, &c.Exchange, &c.Interval, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}
