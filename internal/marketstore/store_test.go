package marketstore

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var candleColumns = []string{
	"symbol", "exchange", "interval", "ts", "open", "high", "low", "close", "volume",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

// TestLastClose tests the fresh-price lookup
func TestLastClose(t *testing.T) {
	store, mock := newMockStore(t)

	since := time.Now().UTC().Add(-5 * time.Minute)
	mock.ExpectQuery("SELECT close FROM ohlcv").
		WithArgs("BTC/USDT", "1m", since).
		WillReturnRows(pgxmock.NewRows([]string{"close"}).AddRow(50000.0))

	price, err := store.LastClose(context.Background(), "BTC/USDT", "1m", since)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, price)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestLastCloseNoData tests that a stale window yields ErrNoData
func TestLastCloseNoData(t *testing.T) {
	store, mock := newMockStore(t)

	since := time.Now().UTC().Add(-5 * time.Minute)
	mock.ExpectQuery("SELECT close FROM ohlcv").
		WithArgs("BTC/USDT", "1m", since).
		WillReturnRows(pgxmock.NewRows([]string{"close"}))

	_, err := store.LastClose(context.Background(), "BTC/USDT", "1m", since)
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRecentCandlesChronological tests that bars come back oldest first
func TestRecentCandlesChronological(t *testing.T) {
	store, mock := newMockStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(candleColumns).
		AddRow("BTC/USDT", "paper", "1m", base.Add(2*time.Minute), 102.0, 103.0, 101.0, 102.5, 10.0).
		AddRow("BTC/USDT", "paper", "1m", base.Add(time.Minute), 101.0, 102.0, 100.0, 101.5, 12.0).
		AddRow("BTC/USDT", "paper", "1m", base, 100.0, 101.0, 99.0, 100.5, 11.0)

	mock.ExpectQuery("SELECT(.+)FROM ohlcv").
		WithArgs("BTC/USDT", "1m", 3).
		WillReturnRows(rows)

	candles, err := store.RecentCandles(context.Background(), "BTC/USDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, base, candles[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Minute), candles[2].Timestamp)
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRangeCandlesWindow tests the inclusive time-window query
func TestRangeCandlesWindow(t *testing.T) {
	store, mock := newMockStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(candleColumns).
		AddRow("BTC/USDT", "paper", "1m", base, 100.0, 101.0, 99.0, 100.5, 11.0).
		AddRow("BTC/USDT", "paper", "1m", base.Add(time.Minute), 101.0, 102.0, 100.0, 101.5, 12.0)

	mock.ExpectQuery("SELECT(.+)FROM ohlcv").
		WithArgs("BTC/USDT", "1m", base, base.Add(time.Minute)).
		WillReturnRows(rows)

	candles, err := store.RangeCandles(context.Background(), "BTC/USDT", "1m", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, base, candles[0].Timestamp)
	assert.Equal(t, 101.5, candles[1].Close)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRecentStdDev tests the population standard deviation over closes
func TestRecentStdDev(t *testing.T) {
	store, mock := newMockStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Closes 10, 20, 30, 40: mean 25, population stddev sqrt(125) ~ 11.1803.
	rows := pgxmock.NewRows(candleColumns).
		AddRow("BTC/USDT", "paper", "1h", base.Add(3*time.Hour), 0.0, 0.0, 0.0, 40.0, 1.0).
		AddRow("BTC/USDT", "paper", "1h", base.Add(2*time.Hour), 0.0, 0.0, 0.0, 30.0, 1.0).
		AddRow("BTC/USDT", "paper", "1h", base.Add(time.Hour), 0.0, 0.0, 0.0, 20.0, 1.0).
		AddRow("BTC/USDT", "paper", "1h", base, 0.0, 0.0, 0.0, 10.0, 1.0)

	mock.ExpectQuery("SELECT(.+)FROM ohlcv").
		WithArgs("BTC/USDT", "1h", 4).
		WillReturnRows(rows)

	stddev, err := store.RecentStdDev(context.Background(), "BTC/USDT", "1h", 4)
	require.NoError(t, err)
	assert.InDelta(t, 11.1803, stddev, 0.001)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRecentStdDevInsufficientData tests the two-bar minimum
func TestRecentStdDevInsufficientData(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows(candleColumns).
		AddRow("BTC/USDT", "paper", "1h", time.Now().UTC(), 0.0, 0.0, 0.0, 10.0, 1.0)

	mock.ExpectQuery("SELECT(.+)FROM ohlcv").
		WithArgs("BTC/USDT", "1h", 20).
		WillReturnRows(rows)

	_, err := store.RecentStdDev(context.Background(), "BTC/USDT", "1h", 20)
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertCandle tests the bar write path
func TestUpsertCandle(t *testing.T) {
	store, mock := newMockStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO ohlcv").
		WithArgs("BTC/USDT", "paper", "1m", ts, 100.0, 101.0, 99.0, 100.5, 42.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertCandle(context.Background(), &Candle{
		Symbol:    "BTC/USDT",
		Exchange:  "paper",
		Interval:  "1m",
		Timestamp: ts,
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    42,
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestLastIndicator tests the indicator lookup
func TestLastIndicator(t *testing.T) {
	store, mock := newMockStore(t)

	since := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("SELECT value FROM indicators").
		WithArgs("BTC/USDT", "atr_14", since).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(1000.0))

	value, err := store.LastIndicator(context.Background(), "BTC/USDT", "atr_14", since)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, value)

	require.NoError(t, mock.ExpectationsWereMet())
}
