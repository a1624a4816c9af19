package exchange

import (
	"fmt"

	"github.com/ajitpratap0/tradewind/internal/config"
)

// NewGateway builds the venue gateway named by id from the configured
// exchanges map. An empty id selects the paper venue, which constructs
// even without a config section; live venues must be configured.
func NewGateway(id string, exchanges map[string]config.ExchangeConfig) (Gateway, error) {
	switch id {
	case "", "paper":
		ex := exchanges["paper"]
		return NewPaperGateway(ex.Fees, ex.Balances), nil
	case "binance":
		ex, ok := exchanges["binance"]
		if !ok {
			return nil, fmt.Errorf("exchange %q is not configured", id)
		}
		return NewBinanceGateway(ex)
	default:
		return nil, fmt.Errorf("unknown exchange %q", id)
	}
}
