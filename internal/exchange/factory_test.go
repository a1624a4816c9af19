package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/config"
)

func TestNewGatewayDefaultsToPaper(t *testing.T) {
	gw, err := NewGateway("", nil)
	require.NoError(t, err)
	defer gw.Close()

	assert.Equal(t, "paper", gw.Name())
}

func TestNewGatewayPaperUsesConfiguredBalances(t *testing.T) {
	exchanges := map[string]config.ExchangeConfig{
		"paper": {
			Fees:     config.FeeConfig{Maker: 0.001},
			Balances: map[string]float64{"USDT": 5000},
		},
	}

	gw, err := NewGateway("paper", exchanges)
	require.NoError(t, err)
	defer gw.Close()

	bal, err := gw.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000.0, bal["USDT"].Free)
}

func TestNewGatewayRejectsUnknownVenue(t *testing.T) {
	_, err := NewGateway("kraken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exchange")
}

func TestNewGatewayRequiresBinanceSection(t *testing.T) {
	_, err := NewGateway("binance", map[string]config.ExchangeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestNewGatewayBuildsKeylessBinance(t *testing.T) {
	gw, err := NewGateway("binance", map[string]config.ExchangeConfig{
		"binance": {Testnet: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "binance", gw.Name())
	require.NoError(t, gw.Close())
}
