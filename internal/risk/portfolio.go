package risk

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ajitpratap0/tradewind/internal/db"
)

// Portfolio tracks the open-position risk picture the validator works
// from: every OPEN position's size times its stop distance, summed and
// expressed as a fraction of the account balance. It is refreshed on
// boot, on every position.update, and on the worker's periodic step.
type Portfolio struct {
	store *db.Store

	mu        sync.RWMutex
	balance   float64
	risk      float64
	exposures []Exposure
}

// NewPortfolio returns an empty portfolio tracker. A nil store is
// tolerated for tests; Refresh then keeps the zero state.
func NewPortfolio(store *db.Store, balance float64) *Portfolio {
	return &Portfolio{store: store, balance: balance}
}

// Refresh reloads OPEN positions and recomputes the portfolio risk.
// Positions without a stop do not contribute risk but still count as
// exposure for the correlation check.
func (p *Portfolio) Refresh(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	positions, err := p.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	var totalRisk float64
	exposures := make([]Exposure, 0, len(positions))
	for _, pos := range positions {
		sizeUSD := pos.Quantity * pos.EntryPrice
		exposures = append(exposures, Exposure{Symbol: pos.Symbol, SizeUSD: sizeUSD})

		if pos.StopLoss == nil || *pos.StopLoss <= 0 || pos.EntryPrice <= 0 {
			continue
		}
		riskPct := math.Abs(pos.EntryPrice-*pos.StopLoss) / pos.EntryPrice
		totalRisk += sizeUSD * riskPct
	}

	p.mu.Lock()
	p.exposures = exposures
	if p.balance > 0 {
		p.risk = totalRisk / p.balance
	} else {
		p.risk = 0
	}
	p.mu.Unlock()

	return nil
}

// Risk returns the current open risk as a fraction of balance.
func (p *Portfolio) Risk() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.risk
}

// SetRisk records the post-trade risk estimate after an approval, ahead
// of the next refresh.
func (p *Portfolio) SetRisk(risk float64) {
	p.mu.Lock()
	p.risk = risk
	p.mu.Unlock()
}

// Exposures returns a copy of the open-position exposures.
func (p *Portfolio) Exposures() []Exposure {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Exposure, len(p.exposures))
	copy(out, p.exposures)
	return out
}
