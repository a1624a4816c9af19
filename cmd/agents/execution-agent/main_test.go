package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func tickerMessage(symbol string, data map[string]interface{}) *protocol.MarketData {
	return &protocol.MarketData{
		Header:   protocol.NewHeader(protocol.TypeMarketData, "collector-worker"),
		Exchange: "binance",
		Symbol:   symbol,
		Data:     data,
	}
}

func TestFeedPaperVenueMirrorsTickerPrices(t *testing.T) {
	paper := exchange.NewPaperGateway(config.FeeConfig{Maker: 0.001}, map[string]float64{"USDT": 1000})
	defer paper.Close()

	handler := feedPaperVenue(paper)
	msg := tickerMessage("BTC/USDT", map[string]interface{}{"type": "ticker", "last": 50000.0})
	require.NoError(t, handler(context.Background(), msg))

	tick, err := paper.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, tick.Last)
}

func TestFeedPaperVenueIgnoresOHLCVRows(t *testing.T) {
	paper := exchange.NewPaperGateway(config.FeeConfig{Maker: 0.001}, map[string]float64{"USDT": 1000})
	defer paper.Close()

	handler := feedPaperVenue(paper)
	msg := tickerMessage("BTC/USDT", map[string]interface{}{"type": "ohlcv", "close": 50000.0})
	require.NoError(t, handler(context.Background(), msg))

	_, err := paper.FetchTicker(context.Background(), "BTC/USDT")
	require.Error(t, err)
}

func TestFeedPaperVenueIgnoresBadPrices(t *testing.T) {
	paper := exchange.NewPaperGateway(config.FeeConfig{Maker: 0.001}, map[string]float64{"USDT": 1000})
	defer paper.Close()

	handler := feedPaperVenue(paper)

	for name, data := range map[string]map[string]interface{}{
		"missing last":  {"type": "ticker"},
		"zero last":     {"type": "ticker", "last": 0.0},
		"negative last": {"type": "ticker", "last": -1.0},
		"string last":   {"type": "ticker", "last": "50000"},
	} {
		require.NoError(t, handler(context.Background(), tickerMessage("BTC/USDT", data)), name)
	}

	_, err := paper.FetchTicker(context.Background(), "BTC/USDT")
	require.Error(t, err)
}
