package fusion

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	policy, err := NewPolicy(cfg, NewPerformanceTracker(cfg.HistoryWindow))
	require.NoError(t, err)
	nop := zerolog.Nop()
	return NewEngine(cfg, policy, &nop)
}

func TestEvaluateRequiresMinSignals(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	// One signal short of the minimum: no decision at all.
	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.9, 0, now))

	assert.Empty(t, engine.Evaluate(now))
	assert.Equal(t, 1, engine.PendingSymbols())
}

func TestEvaluateEmitsAtExactConfidenceFloor(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	// Two agreeing signals at exactly the floor: still emitted.
	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.60, 0, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionBuy, 0.60, 0, now))

	decisions := engine.Evaluate(now)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Suppressed)
	assert.Equal(t, protocol.DirectionBuy, decisions[0].Direction)
	assert.InDelta(t, 0.60, decisions[0].Confidence, 1e-9)
}

func TestEvaluateSuppressesLowConfidence(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.50, 0, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionBuy, 0.55, 0, now))

	decisions := engine.Evaluate(now)
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Suppressed)
	assert.Equal(t, "low_confidence", decisions[0].SuppressReason)
}

func TestEvaluateSuppressesHold(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyBayesian
	cfg.MinConfidence = 0 // every confidence clears the floor
	engine := newTestEngine(t, cfg)

	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.8, 0, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionSell, 0.8, 0, now))

	decisions := engine.Evaluate(now)
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Suppressed)
	assert.Equal(t, "hold", decisions[0].SuppressReason)
	assert.Equal(t, protocol.DirectionHold, decisions[0].Direction)
}

func TestEvaluateDropsStaleSignals(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.9, 10*time.Minute, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionBuy, 0.9, 0, now))

	// The stale signal no longer contributes, leaving one fresh signal
	// below the minimum.
	assert.Empty(t, engine.Evaluate(now))
}

func TestEvaluateResetsPendingBetweenPasses(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.9, 0, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionBuy, 0.8, 0, now))

	require.Len(t, engine.Evaluate(now), 1)

	// The buffered signals are still fresh but nothing new arrived, so
	// the next pass stays quiet.
	assert.Empty(t, engine.Evaluate(now.Add(time.Second)))

	// Two more arrivals re-qualify the symbol.
	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.9, 0, now))
	engine.AddSignal(testSignal("sentiment", protocol.DirectionBuy, 0.8, 0, now))
	assert.Len(t, engine.Evaluate(now.Add(2*time.Second)), 1)
}

func TestPruneEvictsEmptyBuffers(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	engine.AddSignal(testSignal("technical", protocol.DirectionBuy, 0.9, 10*time.Minute, now))
	engine.AddSignal(testSignal("fundamental", protocol.DirectionBuy, 0.9, 10*time.Minute, now))

	// Evaluation resets the pending count; both signals are stale.
	assert.Empty(t, engine.Evaluate(now))
	assert.Equal(t, 1, engine.PendingSymbols())

	engine.Prune(now)
	assert.Zero(t, engine.PendingSymbols())
}

func TestDecisionCarriesAveragedTargets(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	first := testSignal("technical", protocol.DirectionBuy, 0.9, 0, now)
	first.PriceTarget = 50000
	first.StopLoss = 48000
	first.TakeProfit = 54000

	second := testSignal("fundamental", protocol.DirectionBuy, 0.8, 0, now)
	second.PriceTarget = 52000
	second.StopLoss = 49000

	engine.AddSignal(first)
	engine.AddSignal(second)

	decisions := engine.Evaluate(now)
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.Equal(t, 52000.0, d.ExpectedPrice) // most recent contributor
	assert.InDelta(t, 51000.0, d.PriceTarget, 1e-9)
	assert.InDelta(t, 48500.0, d.StopLoss, 1e-9)
	assert.InDelta(t, 54000.0, d.TakeProfit, 1e-9)
	assert.Equal(t, []string{"technical", "fundamental"}, d.Sources)
	assert.Equal(t, 2, d.NumSignals)
	assert.Equal(t, PolicyConsensus, d.Policy)

	details := d.Details
	assert.Equal(t, 2, details["num_signals"])
	assert.InDelta(t, 1.0, details["agreement"].(float64), 1e-9)
}

func TestEvaluateHandlesSymbolsIndependently(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.Policy = PolicyConsensus
	engine := newTestEngine(t, cfg)

	btcBuy := testSignal("technical", protocol.DirectionBuy, 0.9, 0, now)
	btcBuy2 := testSignal("fundamental", protocol.DirectionBuy, 0.8, 0, now)
	ethSell := testSignal("technical", protocol.DirectionSell, 0.9, 0, now)
	ethSell.Symbol = "ETH/USDT"
	ethSell2 := testSignal("fundamental", protocol.DirectionSell, 0.85, 0, now)
	ethSell2.Symbol = "ETH/USDT"

	for _, s := range []*protocol.Signal{btcBuy, btcBuy2, ethSell, ethSell2} {
		engine.AddSignal(s)
	}

	decisions := engine.Evaluate(now)
	require.Len(t, decisions, 2)

	// Sorted by symbol for deterministic ordering.
	assert.Equal(t, "BTC/USDT", decisions[0].Symbol)
	assert.Equal(t, protocol.DirectionBuy, decisions[0].Direction)
	assert.Equal(t, "ETH/USDT", decisions[1].Symbol)
	assert.Equal(t, protocol.DirectionSell, decisions[1].Direction)
}
