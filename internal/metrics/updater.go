package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/db"
)

// Updater periodically refreshes portfolio gauges from the store. Event
// counters are incremented at the call sites; only the gauges that need
// a whole-book view go through here.
type Updater struct {
	store    *db.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates an updater that refreshes every interval.
func NewUpdater(store *db.Store, interval time.Duration) *Updater {
	return &Updater{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop is called or the context ends.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the refresh loop.
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	u.updatePerformance(ctx)
	u.updateExposure(ctx)
}

func (u *Updater) updatePerformance(ctx context.Context) {
	stats, err := u.store.GetPositionStats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh performance metrics")
		RecordError("metrics_updater")
		return
	}

	RealizedPnL.Set(stats.RealizedPnL)
	if stats.ClosedPositions > 0 {
		WinRate.Set(float64(stats.WinningClosed) / float64(stats.ClosedPositions))
	} else {
		WinRate.Set(0)
	}
}

func (u *Updater) updateExposure(ctx context.Context) {
	positions, err := u.store.GetOpenPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh exposure metrics")
		RecordError("metrics_updater")
		return
	}

	OpenPositions.Set(float64(len(positions)))

	var unrealized float64
	valueBySymbol := make(map[string]float64)
	for _, p := range positions {
		unrealized += p.UnrealizedPnL
		price := p.EntryPrice
		if p.CurrentPrice != nil {
			price = *p.CurrentPrice
		}
		valueBySymbol[p.Symbol] += p.Quantity * price
	}

	UnrealizedPnL.Set(unrealized)
	for symbol, value := range valueBySymbol {
		UpdatePositionValue(symbol, value)
	}
}
