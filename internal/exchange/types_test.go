package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func TestMarketSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", MarketSymbol("BTC/USDT"))
	assert.Equal(t, "ETHBTC", MarketSymbol("ETH/BTC"))
	assert.Equal(t, "BTCUSDT", MarketSymbol("BTCUSDT"))
}

func TestSplitSymbol(t *testing.T) {
	base, quote := SplitSymbol("BTC/USDT")
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	base, quote = SplitSymbol("BTC")
	assert.Equal(t, "BTC", base)
	assert.Empty(t, quote)
}

func TestOrderIsTerminal(t *testing.T) {
	for _, status := range []protocol.OrderStatus{
		protocol.OrderStatusFilled,
		protocol.OrderStatusCancelled,
		protocol.OrderStatusRejected,
		protocol.OrderStatusExpired,
	} {
		assert.True(t, (&Order{Status: status}).IsTerminal(), string(status))
	}
	for _, status := range []protocol.OrderStatus{
		protocol.OrderStatusPending,
		protocol.OrderStatusOpen,
		protocol.OrderStatusPartial,
	} {
		assert.False(t, (&Order{Status: status}).IsTerminal(), string(status))
	}
}

func TestBalanceTotal(t *testing.T) {
	b := Balance{Free: 1.5, Locked: 0.5}
	assert.Equal(t, 2.0, b.Total())
}
