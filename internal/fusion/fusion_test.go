package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// testSignal builds a buffered signal of the given age.
func testSignal(agentType string, direction protocol.Direction, confidence float64, age time.Duration, now time.Time) *protocol.Signal {
	header := protocol.NewHeader(protocol.TypeSignal, agentType)
	header.Timestamp = now.Add(-age)
	return &protocol.Signal{
		Header:     header,
		AgentType:  agentType,
		Symbol:     "BTC/USDT",
		Direction:  direction,
		Confidence: confidence,
		Reasoning:  "test",
	}
}

func TestNewPolicyByName(t *testing.T) {
	cfg := DefaultConfig()
	tracker := NewPerformanceTracker(cfg.HistoryWindow)

	for _, name := range []string{PolicyBayesian, PolicyConsensus, PolicyTimeDecay, PolicyHybrid} {
		cfg.Policy = name
		policy, err := NewPolicy(cfg, tracker)
		require.NoError(t, err)
		assert.Equal(t, name, policy.Name())
	}

	cfg.Policy = "oracle"
	_, err := NewPolicy(cfg, tracker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fusion policy")
}

func TestBayesianAgreementBoostsConfidence(t *testing.T) {
	now := time.Now().UTC()
	policy := NewBayesianPolicy(NewPerformanceTracker(100))

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.8, 0, now),
		testSignal("fundamental", protocol.DirectionBuy, 0.7, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionBuy, result.Direction)
	// All normalized weight sits behind BUY.
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.InDelta(t, 1.0, result.BuyScore, 1e-9)
	assert.Zero(t, result.SellScore)
	assert.Len(t, result.Reasoning, 2)
}

func TestBayesianHistoryShiftsTheCall(t *testing.T) {
	now := time.Now().UTC()
	signals := []*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.9, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.85, 0, now),
	}

	// Without history the slightly more confident BUY wins.
	neutral := NewBayesianPolicy(NewPerformanceTracker(100))
	result := neutral.Fuse(signals, now)
	assert.Equal(t, protocol.DirectionBuy, result.Direction)

	// A strong fundamental track record outweighs raw confidence.
	tracker := NewPerformanceTracker(100)
	for i := 0; i < 5; i++ {
		tracker.Update("fundamental", 0.95)
	}
	seasoned := NewBayesianPolicy(tracker)
	result = seasoned.Fuse(signals, now)
	assert.Equal(t, protocol.DirectionSell, result.Direction)
	assert.Greater(t, result.SellScore, result.BuyScore)
}

func TestBayesianTieHolds(t *testing.T) {
	now := time.Now().UTC()
	policy := NewBayesianPolicy(NewPerformanceTracker(100))

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.8, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.8, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestBayesianNoSignalsHolds(t *testing.T) {
	policy := NewBayesianPolicy(NewPerformanceTracker(100))
	result := policy.Fuse(nil, time.Now().UTC())
	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.Zero(t, result.Confidence)
}

func TestConsensusMajorityWins(t *testing.T) {
	now := time.Now().UTC()
	policy := NewConsensusPolicy(0.60, 0.60)

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.9, 0, now),
		testSignal("fundamental", protocol.DirectionBuy, 0.7, 0, now),
		testSignal("sentiment", protocol.DirectionSell, 0.8, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionBuy, result.Direction)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.InDelta(t, 2.0/3.0, result.Agreement, 1e-9)
}

func TestConsensusFiltersWeakSignals(t *testing.T) {
	now := time.Now().UTC()
	policy := NewConsensusPolicy(0.60, 0.60)

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.50, 0, now),
		testSignal("fundamental", protocol.DirectionBuy, 0.55, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, []string{"no strong signals"}, result.Reasoning)
}

func TestConsensusSplitVoteHolds(t *testing.T) {
	now := time.Now().UTC()
	policy := NewConsensusPolicy(0.60, 0.60)

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.9, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.8, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.Equal(t, []string{"no consensus reached"}, result.Reasoning)
}

func TestTimeDecayFavorsFreshSignals(t *testing.T) {
	now := time.Now().UTC()
	policy := NewTimeDecayPolicy(30 * time.Minute)

	// 90 minutes is three half-lives: the stale SELL carries 1/8 the
	// weight of the fresh BUY.
	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.8, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.8, 90*time.Minute, now),
	}, now)

	assert.Equal(t, protocol.DirectionBuy, result.Direction)
	assert.InDelta(t, 0.8/(0.8+0.1), result.Confidence, 1e-9)
}

func TestTimeDecayEqualFreshnessTies(t *testing.T) {
	now := time.Now().UTC()
	policy := NewTimeDecayPolicy(30 * time.Minute)

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.8, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.8, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestHybridUnanimousBuy(t *testing.T) {
	now := time.Now().UTC()
	policy := NewHybridPolicy(DefaultConfig(), NewPerformanceTracker(100))

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.9, 0, now),
		testSignal("fundamental", protocol.DirectionBuy, 0.8, 0, now),
		testSignal("sentiment", protocol.DirectionBuy, 0.7, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionBuy, result.Direction)
	// bayesian 1.0, consensus mean 0.8, time-decay 1.0, averaged.
	assert.InDelta(t, (1.0+0.8+1.0)/3, result.Confidence, 1e-9)
	for _, vote := range result.Votes {
		assert.Equal(t, protocol.DirectionBuy, vote)
	}
}

func TestHybridConflictHolds(t *testing.T) {
	now := time.Now().UTC()
	policy := NewHybridPolicy(DefaultConfig(), NewPerformanceTracker(100))

	result := policy.Fuse([]*protocol.Signal{
		testSignal("technical", protocol.DirectionBuy, 0.95, 0, now),
		testSignal("fundamental", protocol.DirectionSell, 0.95, 0, now),
	}, now)

	assert.Equal(t, protocol.DirectionHold, result.Direction)
	assert.Equal(t, protocol.DirectionHold, result.Votes[PolicyBayesian])
	assert.Equal(t, protocol.DirectionHold, result.Votes[PolicyConsensus])
	assert.Equal(t, protocol.DirectionHold, result.Votes[PolicyTimeDecay])
}
